package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/amishk599/leadscout/internal/model"
)

const gemBaseURL = "https://api.gem.com/job_board/v0"

type gemJob struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Location     gemLocation `json:"location"`
	AbsoluteURL  string      `json:"absolute_url"`
	Content      string      `json:"content"`
	ContentPlain string      `json:"content_plain"`
}

type gemLocation struct {
	Name string `json:"name"`
}

// GemAdapter fetches postings from the Gem public job board API.
type GemAdapter struct {
	boardToken  string
	companyName string
	client      *http.Client
}

// NewGemAdapter creates a new adapter for a Gem job board.
func NewGemAdapter(boardToken string, companyName string, client *http.Client) *GemAdapter {
	return &GemAdapter{
		boardToken:  boardToken,
		companyName: companyName,
		client:      client,
	}
}

// FetchJobs retrieves every posting on the board as candidates.
func (a *GemAdapter) FetchJobs(ctx context.Context) ([]model.Candidate, error) {
	url := fmt.Sprintf("%s/%s/job_posts/", gemBaseURL, a.boardToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gem fetch for %s: %w", a.boardToken, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gem fetch for %s: %w", a.boardToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("gem fetch for %s: unexpected status %d", a.boardToken, resp.StatusCode),
		}
	}

	var gemJobs []gemJob
	if err := json.NewDecoder(resp.Body).Decode(&gemJobs); err != nil {
		return nil, fmt.Errorf("gem fetch for %s: %w", a.boardToken, err)
	}

	candidates := make([]model.Candidate, 0, len(gemJobs))
	for _, gj := range gemJobs {
		if gj.AbsoluteURL == "" {
			continue
		}
		desc := gj.ContentPlain
		if desc == "" {
			desc = extractText(gj.Content)
		}
		candidates = append(candidates, model.Candidate{
			URL:         gj.AbsoluteURL,
			Description: joinNonEmpty(" | ", gj.Location.Name, desc),
			Source:      "gem",
			Title:       gj.Title,
			Company:     a.companyName,
		})
	}

	return candidates, nil
}
