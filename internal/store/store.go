package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

// Ensure Store satisfies both pipeline store contracts.
var (
	_ model.LeadStore     = (*Store)(nil)
	_ model.SettingsStore = (*Store)(nil)
)

// Store keeps user settings and job leads in a SQL database.
// Timestamps are stored as unix nanoseconds so both dialects order them the same way.
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/enriched timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func newStore(db *sql.DB, dialect string, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const leadColumns = `user_email, job_url, source, description, title, company, ai_analysis, relevance_score, created_at, enriched_at`

// GetLead returns the lead stored under key as a RawLead or EnrichedLead.
func (s *Store) GetLead(ctx context.Context, key model.LeadKey) (model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+leadColumns+` FROM job_leads WHERE user_email = ? AND job_url = ?`),
		key.UserEmail, key.JobURL,
	)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s %s: %w", key.UserEmail, key.JobURL, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting lead %s %s: %w", key.UserEmail, key.JobURL, err)
	}
	return lead, nil
}

// GetEnriched returns the enriched lead under key, or ErrNotFound when absent or raw.
func (s *Store) GetEnriched(ctx context.Context, key model.LeadKey) (model.EnrichedLead, error) {
	lead, err := s.GetLead(ctx, key)
	if err != nil {
		return model.EnrichedLead{}, err
	}
	enriched, ok := lead.(model.EnrichedLead)
	if !ok {
		return model.EnrichedLead{}, fmt.Errorf("enriched lead %s %s: %w", key.UserEmail, key.JobURL, model.ErrNotFound)
	}
	return enriched, nil
}

// PutRaw creates a raw lead, or refreshes its fields while it is still raw.
// Enriched records are left untouched.
func (s *Store) PutRaw(ctx context.Context, lead model.RawLead) error {
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO job_leads (user_email, job_url, source, description, title, company, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_email, job_url) DO UPDATE SET
			source = excluded.source,
			description = excluded.description,
			title = excluded.title,
			company = excluded.company
		WHERE job_leads.relevance_score IS NULL`),
		lead.UserEmail, lead.JobURL, lead.Source, lead.Description, lead.Title, lead.Company,
		createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("putting raw lead %s %s: %w", lead.UserEmail, lead.JobURL, err)
	}
	return nil
}

// PutIfAbsent writes an enriched lead when no enriched record exists for its key.
// A raw record is upgraded in place; an enriched record is never overwritten.
func (s *Store) PutIfAbsent(ctx context.Context, lead model.EnrichedLead) (bool, error) {
	if lead.RelevanceScore < 0 || lead.RelevanceScore > 100 {
		return false, fmt.Errorf("relevance score %d out of range: %w", lead.RelevanceScore, model.ErrValidation)
	}
	now := s.now()
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	enrichedAt := lead.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = now
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO job_leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_email, job_url) DO UPDATE SET
			source = excluded.source,
			description = excluded.description,
			title = excluded.title,
			company = excluded.company,
			ai_analysis = excluded.ai_analysis,
			relevance_score = excluded.relevance_score,
			enriched_at = excluded.enriched_at
		WHERE job_leads.relevance_score IS NULL`),
		lead.UserEmail, lead.JobURL, lead.Source, lead.Description, lead.Title, lead.Company,
		lead.AIAnalysis, lead.RelevanceScore, createdAt.UnixNano(), enrichedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("putting enriched lead %s %s: %w", lead.UserEmail, lead.JobURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("putting enriched lead %s %s: rows affected: %w", lead.UserEmail, lead.JobURL, err)
	}
	return n > 0, nil
}

// TopK returns up to k enriched leads for userEmail, best score first, newest first on ties.
func (s *Store) TopK(ctx context.Context, userEmail string, k int) ([]model.EnrichedLead, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+leadColumns+` FROM job_leads
		WHERE user_email = ? AND relevance_score IS NOT NULL
		ORDER BY relevance_score DESC, enriched_at DESC
		LIMIT ?`),
		userEmail, k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top %d leads for %s: %w", k, userEmail, err)
	}
	defer rows.Close()

	var leads []model.EnrichedLead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lead for %s: %w", userEmail, err)
		}
		if e, ok := lead.(model.EnrichedLead); ok {
			leads = append(leads, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leads for %s: %w", userEmail, err)
	}
	return leads, nil
}

// Purge deletes leads created more than olderThan ago and returns how many were removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM job_leads WHERE created_at < ?`), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging leads older than %v: %w", olderThan, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging leads: rows affected: %w", err)
	}
	return n, nil
}

// GetUser returns the profile for email, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, email string) (model.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT email, is_active, platforms, language, full_name FROM user_settings WHERE email = ?`),
		email,
	)
	p, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserProfile{}, fmt.Errorf("user %s: %w", email, model.ErrNotFound)
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("getting user %s: %w", email, err)
	}
	return p, nil
}

// ScanActive returns one page of active users ordered by email.
// pageToken is the last email of the previous page; empty starts from the beginning.
func (s *Store) ScanActive(ctx context.Context, pageToken string, limit int) (model.UserPage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT email, is_active, platforms, language, full_name FROM user_settings
		WHERE is_active = ? AND email > ?
		ORDER BY email
		LIMIT ?`),
		true, pageToken, limit+1,
	)
	if err != nil {
		return model.UserPage{}, fmt.Errorf("scanning active users: %w", err)
	}
	defer rows.Close()

	var users []model.UserProfile
	for rows.Next() {
		p, err := scanUser(rows)
		if err != nil {
			return model.UserPage{}, fmt.Errorf("scanning active users: %w", err)
		}
		users = append(users, p)
	}
	if err := rows.Err(); err != nil {
		return model.UserPage{}, fmt.Errorf("scanning active users: %w", err)
	}

	page := model.UserPage{Users: users}
	if len(users) > limit {
		page.Users = users[:limit]
		page.NextToken = users[limit-1].Email
	}
	return page, nil
}

// PutUser creates or replaces a user's settings.
func (s *Store) PutUser(ctx context.Context, p model.UserProfile) error {
	if p.Email == "" {
		return fmt.Errorf("user email is required: %w", model.ErrValidation)
	}
	platforms := p.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	encoded, err := json.Marshal(platforms)
	if err != nil {
		return fmt.Errorf("encoding platforms for %s: %w", p.Email, err)
	}
	language := p.Language
	if language == "" {
		language = "en"
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_settings (email, is_active, platforms, language, full_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			is_active = excluded.is_active,
			platforms = excluded.platforms,
			language = excluded.language,
			full_name = excluded.full_name,
			updated_at = excluded.updated_at`),
		p.Email, p.IsActive, string(encoded), language, p.FullName, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("putting user %s: %w", p.Email, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(sc scanner) (model.Lead, error) {
	var (
		raw        model.RawLead
		analysis   sql.NullString
		score      sql.NullInt64
		createdAt  int64
		enrichedAt sql.NullInt64
	)
	if err := sc.Scan(
		&raw.UserEmail, &raw.JobURL, &raw.Source, &raw.Description, &raw.Title, &raw.Company,
		&analysis, &score, &createdAt, &enrichedAt,
	); err != nil {
		return nil, err
	}
	raw.CreatedAt = time.Unix(0, createdAt)

	if !score.Valid {
		return raw, nil
	}
	lead := model.EnrichedLead{
		RawLead:        raw,
		AIAnalysis:     analysis.String,
		RelevanceScore: int(score.Int64),
	}
	if enrichedAt.Valid {
		lead.EnrichedAt = time.Unix(0, enrichedAt.Int64)
	}
	return lead, nil
}

func scanUser(sc scanner) (model.UserProfile, error) {
	var (
		p         model.UserProfile
		platforms string
	)
	if err := sc.Scan(&p.Email, &p.IsActive, &platforms, &p.Language, &p.FullName); err != nil {
		return model.UserProfile{}, err
	}
	if platforms != "" {
		if err := json.Unmarshal([]byte(platforms), &p.Platforms); err != nil {
			return model.UserProfile{}, fmt.Errorf("decoding platforms for %s: %w", p.Email, err)
		}
	}
	return p, nil
}
