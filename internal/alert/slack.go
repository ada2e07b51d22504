// Package alert tells operators about messages that exhausted their delivery attempts.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/leadscout/internal/queue"
)

// Ensure SlackAlerter implements queue.Alerter.
var _ queue.Alerter = (*SlackAlerter)(nil)

const maxBodyPreview = 600

// SlackAlerter posts dead letters to a Slack channel via Incoming Webhooks.
type SlackAlerter struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackAlerter returns an alerter that posts each dead letter to Slack.
func NewSlackAlerter(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Alert sends dl as a Block Kit message. A 429 is retried once after Retry-After.
func (s *SlackAlerter) Alert(ctx context.Context, dl queue.DeadLetter) error {
	body, err := json.Marshal(buildPayload(dl))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
		status, _, err = s.post(ctx, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("dead letter alert sent", "queue", dl.Queue, "message_id", dl.MessageID)
	return nil
}

func (s *SlackAlerter) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildPayload(dl queue.DeadLetter) slackPayload {
	preview := string(dl.Body)
	if len(preview) > maxBodyPreview {
		preview = preview[:maxBodyPreview] + "…"
	}

	return slackPayload{
		Text: fmt.Sprintf("Dead letter on %s after %d attempts", dl.Queue, dl.Attempts),
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: "☠️ Dead letter: " + dl.Queue},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: "*Message:*\n`" + dl.MessageID + "`"},
					{Type: "mrkdwn", Text: "*Attempts:*\n" + strconv.Itoa(dl.Attempts)},
					{Type: "mrkdwn", Text: "*Failed at:*\n" + dl.FailedAt.Format(time.RFC3339)},
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Error:*\n" + dl.Error},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "```" + preview + "```"},
			},
			{Type: "divider"},
		},
	}
}

// SendTestAlert posts a sample dead letter to verify the webhook works.
func SendTestAlert(ctx context.Context, a queue.Alerter) error {
	return a.Alert(ctx, queue.DeadLetter{
		Queue:     "test",
		MessageID: "test-001",
		Attempts:  1,
		Error:     "test alert: integration verified",
		Body:      json.RawMessage(`{"userEmail":"test@example.com"}`),
		FailedAt:  time.Now().UTC(),
	})
}
