// Package archive mirrors draft versions into per-draft git repositories so
// reviewers can browse commit history and diffs outside the event log. The
// log stays the source of truth; mirroring is best-effort.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "content.md"

// CommitInfo describes one mirrored version commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service manages the per-draft repositories under a base directory.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an archive service rooted at baseDir.
func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitVersion writes the version content as a commit on the draft's main
// branch, initializing the repository on first use.
func (s *Service) CommitVersion(draftID, versionID, title, content, author string) (CommitInfo, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, worktree, err := s.openOrInit(draftID)
	if err != nil {
		return CommitInfo{}, err
	}

	path := filepath.Join(s.repoPath(draftID), contentFile)
	doc := "# " + title + "\n\n" + content + "\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write version content: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add version content: %w", err)
	}

	message := fmt.Sprintf("Version %s: %s", versionID, title)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit version: %w", err)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit: %w", err)
	}
	return toCommitInfo(commit), nil
}

// History lists the draft's mirrored commits, newest first, up to limit.
func (s *Service) History(draftID string, limit int) ([]CommitInfo, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(draftID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("open draft archive: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read archive head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read archive log: %w", err)
	}
	defer iter.Close()

	var history []CommitInfo
	err = iter.ForEach(func(commit *object.Commit) error {
		history = append(history, toCommitInfo(commit))
		if limit > 0 && len(history) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walk archive log: %w", err)
	}
	return history, nil
}

// Content returns the mirrored content at a given commit hash.
func (s *Service) Content(draftID, hash string) (string, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(draftID))
	if err != nil {
		return "", fmt.Errorf("open draft archive: %w", err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commit.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("read archived content: %w", err)
	}
	return file.Contents()
}

var errStopIteration = errors.New("stop iteration")

func toCommitInfo(commit *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commit.Hash.String(),
		Message:   commit.Message,
		Author:    commit.Author.Name,
		CreatedAt: commit.Author.When,
	}
}

func (s *Service) openOrInit(draftID string) (*git.Repository, *git.Worktree, error) {
	path := s.repoPath(draftID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return nil, nil, fmt.Errorf("create archive dir: %w", mkErr)
		}
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open draft archive: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("open archive worktree: %w", err)
	}
	return repo, worktree, nil
}

func (s *Service) repoPath(draftID string) string {
	return filepath.Join(s.baseDir, filepath.Base(draftID))
}

func (s *Service) draftLock(draftID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if lock, ok := s.locks[draftID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[draftID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.memodesk.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(author string) string {
	cleaned := strings.ToLower(strings.TrimSpace(author))
	cleaned = strings.ReplaceAll(cleaned, " ", ".")
	if cleaned == "" {
		return "reviewer"
	}
	return cleaned
}
