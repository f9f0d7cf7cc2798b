// Package anchor relocates recorded text spans inside documents that may have
// changed since the span was captured.
package anchor

import "strings"

// Anchor is a recorded span in a specific document version: the offsets it
// occupied plus the literal text it pointed at. Context optionally carries
// surrounding text for display; it does not participate in resolution.
type Anchor struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Quote   string `json:"quote"`
	Context string `json:"context,omitempty"`
}

// Span is a resolved half-open offset range into the current document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

const (
	// windowRadius bounds the cheap search to ±8000 characters around the
	// original start offset before falling back to a whole-document scan.
	windowRadius = 8000
	// windowScanCap and globalScanCap bound the number of occurrences
	// examined on pathological repeated-substring documents.
	windowScanCap = 200
	globalScanCap = 400
)

// Resolve relocates a in text. The second return is false when the quote no
// longer occurs anywhere; callers treat that as an orphaned annotation, not
// an error.
func Resolve(a Anchor, text string) (Span, bool) {
	if a.Quote == "" {
		return Span{}, false
	}

	// Fast path: the document did not move under the anchor.
	if a.Start >= 0 && a.End > a.Start && a.End <= len(text) &&
		strings.HasPrefix(text[a.Start:], a.Quote) && a.End-a.Start == len(a.Quote) {
		return Span{Start: a.Start, End: a.End}, true
	}

	lo := a.Start - windowRadius
	if lo < 0 {
		lo = 0
	}
	if lo > len(text) {
		lo = len(text)
	}
	hi := a.Start + windowRadius + len(a.Quote)
	if hi > len(text) {
		hi = len(text)
	}
	if span, ok := closest(text, a.Quote, lo, hi, a.Start, windowScanCap); ok {
		return span, true
	}
	if span, ok := closest(text, a.Quote, 0, len(text), a.Start, globalScanCap); ok {
		return span, true
	}
	return Span{}, false
}

// closest scans text[lo:hi] for occurrences of quote, examining at most limit of
// them, and returns the occurrence whose start is nearest to hint.
func closest(text, quote string, lo, hi, hint, limit int) (Span, bool) {
	if hi-lo < len(quote) {
		return Span{}, false
	}
	region := text[lo:hi]
	best := -1
	bestDist := 0
	offset := 0
	for scanned := 0; scanned < limit; scanned++ {
		idx := strings.Index(region[offset:], quote)
		if idx < 0 {
			break
		}
		pos := lo + offset + idx
		dist := pos - hint
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best = pos
			bestDist = dist
		}
		offset += idx + 1
		if offset > len(region)-len(quote) {
			break
		}
	}
	if best < 0 {
		return Span{}, false
	}
	return Span{Start: best, End: best + len(quote)}, true
}
