package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/ingestor/internal/indexing/metrics"
)

var levelIcon = map[Level]string{
	LevelInfo:  ":information_source:",
	LevelWarn:  ":warning:",
	LevelError: ":rotating_light:",
}

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, level Level, message string) error {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("%s %s", levelIcon[level], message),
	})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.NotificationsSent.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("slack webhook http %d: %s", resp.StatusCode, string(b))
	}

	metrics.NotificationsSent.WithLabelValues("slack", "ok").Inc()
	return nil
}
