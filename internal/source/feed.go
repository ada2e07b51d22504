package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/amishk599/leadscout/internal/model"
)

const maxFeedBytes = 5 * 1024 * 1024

// HTTPClient is the subset of *http.Client the feed adapter uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedAdapter reads postings from an RSS or Atom job feed.
type FeedAdapter struct {
	url         string
	companyName string
	client      HTTPClient
}

// NewFeedAdapter creates an adapter for the feed at url. An empty companyName
// falls back to the feed's own title.
func NewFeedAdapter(url, companyName string, client HTTPClient) *FeedAdapter {
	return &FeedAdapter{url: url, companyName: companyName, client: client}
}

// FetchJobs downloads and parses the feed, one candidate per linked item.
func (a *FeedAdapter) FetchJobs(ctx context.Context) ([]model.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed fetch %s: %w", a.url, err)
	}
	req.Header.Set("User-Agent", "LeadScout/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch %s: %w", a.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("feed fetch %s: unexpected status %d", a.url, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("feed read %s: %w", a.url, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("feed parse %s: %w", a.url, err)
	}

	company := a.companyName
	if company == "" {
		company = strings.TrimSpace(feed.Title)
	}

	candidates := make([]model.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		desc := item.Description
		if item.Content != "" {
			desc = item.Content
		}
		candidates = append(candidates, model.Candidate{
			URL:         link,
			Description: extractText(desc),
			Source:      "feed",
			Title:       strings.TrimSpace(item.Title),
			Company:     company,
		})
	}
	return candidates, nil
}
