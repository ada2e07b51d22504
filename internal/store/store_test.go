package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/store/migrations"
)

// stepClock advances one second on every call so insertion order is deterministic.
type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(dbPath, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func rawLead(email, url string) model.RawLead {
	return model.RawLead{
		UserEmail:   email,
		JobURL:      url,
		Source:      "LinkedIn",
		Description: "Go backend role",
		Title:       "Backend Engineer",
		Company:     "Acme",
	}
}

func enriched(email, url string, score int) model.EnrichedLead {
	return model.EnrichedLead{
		RawLead:        rawLead(email, url),
		AIAnalysis:     "strong match",
		RelevanceScore: score,
	}
}

func TestPutRawThenGetLead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutRaw(ctx, rawLead("a@x.com", "https://jobs/1")); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}

	lead, err := s.GetLead(ctx, model.LeadKey{UserEmail: "a@x.com", JobURL: "https://jobs/1"})
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	raw, ok := lead.(model.RawLead)
	if !ok {
		t.Fatalf("GetLead returned %T, want RawLead", lead)
	}
	if raw.Title != "Backend Engineer" || raw.CreatedAt.IsZero() {
		t.Errorf("raw lead = %+v", raw)
	}

	if _, err := s.GetEnriched(ctx, raw.Key()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetEnriched on raw lead: err = %v, want ErrNotFound", err)
	}
}

func TestGetLeadUnknownReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetLead(context.Background(), model.LeadKey{UserEmail: "a@x.com", JobURL: "nope"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutRawRefreshesWhileRaw(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := rawLead("a@x.com", "https://jobs/1")
	if err := s.PutRaw(ctx, first); err != nil {
		t.Fatalf("first PutRaw: %v", err)
	}
	second := first
	second.Description = "updated description"
	if err := s.PutRaw(ctx, second); err != nil {
		t.Fatalf("second PutRaw: %v", err)
	}

	lead, err := s.GetLead(ctx, first.Key())
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got := lead.(model.RawLead).Description; got != "updated description" {
		t.Errorf("Description = %q, want refreshed value", got)
	}
}

func TestPutIfAbsentIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.PutIfAbsent(ctx, enriched("a@x.com", "https://jobs/1", 90))
	if err != nil {
		t.Fatalf("first PutIfAbsent: %v", err)
	}
	if !inserted {
		t.Error("expected first PutIfAbsent to insert")
	}

	other := enriched("a@x.com", "https://jobs/1", 10)
	other.AIAnalysis = "different output"
	inserted, err = s.PutIfAbsent(ctx, other)
	if err != nil {
		t.Fatalf("second PutIfAbsent: %v", err)
	}
	if inserted {
		t.Error("expected second PutIfAbsent to be a no-op")
	}

	got, err := s.GetEnriched(ctx, other.Key())
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if got.RelevanceScore != 90 || got.AIAnalysis != "strong match" {
		t.Errorf("enriched lead was overwritten: %+v", got)
	}
}

func TestPutIfAbsentUpgradesRawLead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutRaw(ctx, rawLead("a@x.com", "https://jobs/1")); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	inserted, err := s.PutIfAbsent(ctx, enriched("a@x.com", "https://jobs/1", 75))
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !inserted {
		t.Error("expected raw lead to be upgraded")
	}

	lead, err := s.GetLead(ctx, model.LeadKey{UserEmail: "a@x.com", JobURL: "https://jobs/1"})
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	e, ok := lead.(model.EnrichedLead)
	if !ok {
		t.Fatalf("GetLead returned %T, want EnrichedLead", lead)
	}
	if e.RelevanceScore != 75 || e.EnrichedAt.IsZero() {
		t.Errorf("enriched lead = %+v", e)
	}
}

func TestPutRawDoesNotTouchEnrichedLead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.PutIfAbsent(ctx, enriched("a@x.com", "https://jobs/1", 60)); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	again := rawLead("a@x.com", "https://jobs/1")
	again.Description = "recollected"
	if err := s.PutRaw(ctx, again); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}

	got, err := s.GetEnriched(ctx, again.Key())
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if got.Description != "Go backend role" || got.RelevanceScore != 60 {
		t.Errorf("enriched lead regressed: %+v", got)
	}
}

func TestPutIfAbsentRejectsOutOfRangeScore(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.PutIfAbsent(context.Background(), enriched("a@x.com", "https://jobs/1", 101))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestTopKOrdersByScoreThenRecency(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	scores := map[string]int{"u1": 40, "u2": 90, "u3": 70, "u4": 90, "u5": 10, "u6": 55, "u7": 80}
	for _, url := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"} {
		if _, err := s.PutIfAbsent(ctx, enriched("a@x.com", url, scores[url])); err != nil {
			t.Fatalf("PutIfAbsent %s: %v", url, err)
		}
	}
	// Raw leads and other users' leads never show up.
	if err := s.PutRaw(ctx, rawLead("a@x.com", "raw")); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if _, err := s.PutIfAbsent(ctx, enriched("b@x.com", "other", 100)); err != nil {
		t.Fatalf("PutIfAbsent other user: %v", err)
	}

	top, err := s.TopK(ctx, "a@x.com", 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}

	var got []string
	for _, l := range top {
		got = append(got, l.JobURL)
	}
	// u4 was enriched after u2, so it wins the tie.
	want := []string{"u4", "u2", "u7", "u3", "u6"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TopK order mismatch (-want +got):\n%s", diff)
	}
}

func TestTopKEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	top, err := s.TopK(context.Background(), "nobody@x.com", 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("TopK = %v, want empty", top)
	}
}

func TestPurgeRemovesOldKeepsFresh(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	old := rawLead("a@x.com", "old")
	old.CreatedAt = clock.t.Add(-48 * time.Hour)
	if err := s.PutRaw(ctx, old); err != nil {
		t.Fatalf("PutRaw old: %v", err)
	}
	if err := s.PutRaw(ctx, rawLead("a@x.com", "fresh")); err != nil {
		t.Fatalf("PutRaw fresh: %v", err)
	}

	n, err := s.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d rows, want 1", n)
	}
	if _, err := s.GetLead(ctx, old.Key()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("old lead: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetLead(ctx, model.LeadKey{UserEmail: "a@x.com", JobURL: "fresh"}); err != nil {
		t.Errorf("fresh lead should survive purge: %v", err)
	}
}

func TestPutUserThenGetUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := model.UserProfile{
		Email:     "a@x.com",
		IsActive:  true,
		Platforms: []string{"LinkedIn", "Greenhouse"},
		Language:  "es",
		FullName:  "Ana",
	}
	if err := s.PutUser(ctx, want); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	got, err := s.GetUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetUser mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUserUnknownReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetUser(context.Background(), "ghost@x.com")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestScanActivePaginates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, u := range []model.UserProfile{
		{Email: "a@x.com", IsActive: true},
		{Email: "b@x.com", IsActive: false},
		{Email: "c@x.com", IsActive: true},
		{Email: "d@x.com", IsActive: true},
	} {
		if err := s.PutUser(ctx, u); err != nil {
			t.Fatalf("PutUser %s: %v", u.Email, err)
		}
	}

	var emails []string
	token := ""
	pages := 0
	for {
		page, err := s.ScanActive(ctx, token, 2)
		if err != nil {
			t.Fatalf("ScanActive: %v", err)
		}
		pages++
		for _, u := range page.Users {
			emails = append(emails, u.Email)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if diff := cmp.Diff([]string{"a@x.com", "c@x.com", "d@x.com"}, emails); diff != "" {
		t.Errorf("active users mismatch (-want +got):\n%s", diff)
	}
	if pages != 2 {
		t.Errorf("pages = %d, want 2", pages)
	}
}

func TestOpenUnmigratedAndMigrationStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s.Close()

	db, dialect, err := OpenUnmigrated("sqlite", dbPath)
	if err != nil {
		t.Fatalf("OpenUnmigrated: %v", err)
	}
	defer db.Close()
	if dialect != migrations.SQLite {
		t.Errorf("dialect = %q", dialect)
	}

	var out strings.Builder
	if err := migrations.Status(db, dialect, &out); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(out.String(), "Applied") {
		t.Errorf("status output = %q, want applied migrations", out.String())
	}
}

func TestOpenUnmigratedUnknownDriver(t *testing.T) {
	if _, _, err := OpenUnmigrated("mongo", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
