package anchor

import (
	"strings"
	"testing"
)

func TestResolveFastPath(t *testing.T) {
	text := "hello world, this text did not change"
	span, ok := Resolve(Anchor{Start: 6, End: 11, Quote: "world"}, text)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if span.Start != 6 || span.End != 11 {
		t.Fatalf("expected span 6..11, got %d..%d", span.Start, span.End)
	}
}

func TestResolveAfterInsertion(t *testing.T) {
	quote := "the load-bearing sentence"
	prefix := strings.Repeat("a", 100)
	original := prefix + quote + " trailing text"
	span, ok := Resolve(Anchor{Start: 100, End: 100 + len(quote), Quote: quote}, original)
	if !ok || span.Start != 100 {
		t.Fatalf("baseline resolution failed: %+v ok=%v", span, ok)
	}

	// 50 characters inserted before the anchor shift the span right by 50.
	edited := strings.Repeat("b", 50) + original
	span, ok = Resolve(Anchor{Start: 100, End: 100 + len(quote), Quote: quote}, edited)
	if !ok {
		t.Fatalf("expected resolution after insertion")
	}
	if span.Start != 150 || span.End != 150+len(quote) {
		t.Fatalf("expected span shifted to 150, got %d..%d", span.Start, span.End)
	}
	if edited[span.Start:span.End] != quote {
		t.Fatalf("span does not cover quote: %q", edited[span.Start:span.End])
	}
}

func TestResolveRemovedQuote(t *testing.T) {
	if _, ok := Resolve(Anchor{Start: 0, End: 4, Quote: "gone"}, "the sentence was deleted entirely"); ok {
		t.Fatalf("expected orphaned anchor")
	}
}

func TestResolveEmptyQuote(t *testing.T) {
	if _, ok := Resolve(Anchor{Start: 0, End: 0}, "some text"); ok {
		t.Fatalf("empty quote must never resolve")
	}
}

func TestResolveQuoteLongerThanDocument(t *testing.T) {
	if _, ok := Resolve(Anchor{Start: 0, End: 20, Quote: "a very long quote"}, "short"); ok {
		t.Fatalf("expected no resolution")
	}
}

func TestResolvePicksNearestOccurrence(t *testing.T) {
	text := strings.Repeat("foo", 1000)
	span, ok := Resolve(Anchor{Start: 300, End: 303, Quote: "foo"}, text)
	if !ok {
		t.Fatalf("expected resolution in repeated document")
	}
	if span.Start != 300 {
		t.Fatalf("expected nearest occurrence at 300, got %d", span.Start)
	}
}

func TestResolveBoundedOnPathologicalRepetition(t *testing.T) {
	// One inserted character defeats the fast path; the hint then sits past
	// the occurrence scan cap. Resolution must still terminate and land on a
	// real occurrence.
	text := "x" + strings.Repeat("foo", 1000)
	span, ok := Resolve(Anchor{Start: 2997, End: 3000, Quote: "foo"}, text)
	if !ok {
		t.Fatalf("expected resolution in repeated document")
	}
	if text[span.Start:span.End] != "foo" {
		t.Fatalf("span %d..%d does not cover the quote", span.Start, span.End)
	}
}
