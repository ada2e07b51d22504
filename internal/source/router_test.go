package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/amishk599/leadscout/internal/model"
)

type staticFetcher struct {
	candidates []model.Candidate
	err        error
	calls      int
}

func (f *staticFetcher) FetchJobs(context.Context) ([]model.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_SearchFiltersByPlatform(t *testing.T) {
	linkedin := &staticFetcher{candidates: []model.Candidate{
		{URL: "https://li.example/1", Source: "greenhouse"},
		{URL: "https://li.example/2", Source: "greenhouse"},
	}}
	indeed := &staticFetcher{candidates: []model.Candidate{{URL: "https://in.example/1"}}}

	r := NewRouter(discardLogger())
	r.Register("LinkedIn", "acme", linkedin)
	r.Register("indeed", "globex", indeed)

	got, err := r.Search(context.Background(), []string{"linked in"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	for _, c := range got {
		if c.Source != "linkedin" {
			t.Errorf("Source = %q, want linkedin", c.Source)
		}
	}
	if indeed.calls != 0 {
		t.Errorf("indeed fetched %d times, want 0", indeed.calls)
	}
}

func TestRouter_SearchDedupesAcrossBoards(t *testing.T) {
	a := &staticFetcher{candidates: []model.Candidate{{URL: "https://x/1"}, {URL: "https://x/2"}}}
	b := &staticFetcher{candidates: []model.Candidate{{URL: "https://x/2"}, {URL: "https://x/3"}, {URL: ""}}}

	r := NewRouter(discardLogger())
	r.Register("linkedin", "a", a)
	r.Register("linkedin", "b", b)

	got, err := r.Search(context.Background(), []string{"linkedin", "LinkedIn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unique candidates, got %d", len(got))
	}
	if a.calls != 1 {
		t.Errorf("duplicate platform fetched board %d times, want 1", a.calls)
	}
}

func TestRouter_SearchPartialFailure(t *testing.T) {
	ok := &staticFetcher{candidates: []model.Candidate{{URL: "https://x/1"}}}
	bad := &staticFetcher{err: errors.New("boom")}

	r := NewRouter(discardLogger())
	r.Register("linkedin", "bad", bad)
	r.Register("linkedin", "ok", ok)

	got, err := r.Search(context.Background(), []string{"linkedin"})
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
}

func TestRouter_SearchAllFailedIsTransient(t *testing.T) {
	r := NewRouter(discardLogger())
	r.Register("linkedin", "bad", &staticFetcher{err: errors.New("boom")})

	_, err := r.Search(context.Background(), []string{"linkedin"})
	if !model.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRouter_SearchUnknownPlatform(t *testing.T) {
	r := NewRouter(discardLogger())
	got, err := r.Search(context.Background(), []string{"monster"})
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", got, err)
	}
	if ps := r.Platforms(); len(ps) != 0 {
		t.Errorf("Platforms() = %v, want empty", ps)
	}
}
