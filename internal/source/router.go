// Package source finds candidate job postings on the boards a user subscribes to.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/amishk599/leadscout/internal/model"
)

type board struct {
	name    string
	fetcher model.JobFetcher
}

// Router implements model.JobSource over a set of boards grouped by platform.
type Router struct {
	boards map[string][]board
	logger *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{boards: make(map[string][]board), logger: logger}
}

// Register adds a board under platform. Platform names are normalized.
func (r *Router) Register(platform, name string, f model.JobFetcher) {
	p := model.NormalizePlatform(platform)
	r.boards[p] = append(r.boards[p], board{name: name, fetcher: f})
}

// Platforms lists the registered platform names.
func (r *Router) Platforms() []string {
	out := make([]string, 0, len(r.boards))
	for p := range r.boards {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Search fetches every board registered for the requested platforms and
// returns candidates deduplicated by URL. Source is set to the platform.
// A failing board is logged and skipped; Search fails only when every
// board failed and nothing was found.
func (r *Router) Search(ctx context.Context, platforms []string) ([]model.Candidate, error) {
	seen := make(map[string]bool)
	var (
		out      []model.Candidate
		errs     []error
		attempts int
	)

	for _, raw := range platforms {
		p := model.NormalizePlatform(raw)
		if seen["platform:"+p] {
			continue
		}
		seen["platform:"+p] = true

		boards, ok := r.boards[p]
		if !ok {
			r.logger.Debug("no boards registered for platform", "platform", p)
			continue
		}
		for _, b := range boards {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			attempts++
			found, err := b.fetcher.FetchJobs(ctx)
			if err != nil {
				r.logger.Error("board fetch failed", "platform", p, "board", b.name, "error", err)
				errs = append(errs, fmt.Errorf("%s/%s: %w", p, b.name, err))
				continue
			}
			for _, c := range found {
				if c.URL == "" || seen[c.URL] {
					continue
				}
				seen[c.URL] = true
				c.Source = p
				out = append(out, c)
			}
			r.logger.Debug("board fetched", "platform", p, "board", b.name, "candidates", len(found))
		}
	}

	if len(out) == 0 && attempts > 0 && len(errs) == attempts {
		return nil, model.Transient("search", errors.Join(errs...))
	}
	return out, nil
}
