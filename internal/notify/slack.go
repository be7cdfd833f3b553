package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackChannel posts events to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel for the given webhook URL.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, ev Event) error {
	payload := map[string]string{"text": formatEvent(ev)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	return nil
}

// formatEvent renders a compact one-line summary for chat.
func formatEvent(ev Event) string {
	switch ev.Kind {
	case EventPipelineStarted:
		return fmt.Sprintf(":rocket: pipeline *%s* started (run %s)", ev.Pipeline, ev.State.RunID)
	case EventPipelineCompleted:
		return fmt.Sprintf(":white_check_mark: pipeline *%s* completed in %s", ev.Pipeline, ev.State.Artifacts.TotalDuration.Round(time.Second))
	case EventPipelineFailed:
		return fmt.Sprintf(":x: pipeline *%s* finished with status %s", ev.Pipeline, ev.State.Status)
	case EventGroupCompleted:
		succeeded := 0
		for _, ex := range ev.Executions {
			if ex.Status == "success" {
				succeeded++
			}
		}
		return fmt.Sprintf("pipeline *%s*: group finished, %d/%d stages succeeded", ev.Pipeline, succeeded, len(ev.Executions))
	}
	return fmt.Sprintf("pipeline *%s*: %s", ev.Pipeline, ev.Kind)
}
