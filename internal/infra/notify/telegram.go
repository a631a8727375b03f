package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/ingestor/internal/indexing/metrics"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// TelegramNotifier sends messages through the Bot API sendMessage method.
type TelegramNotifier struct {
	cfg        TelegramConfig
	baseURL    string
	httpClient *http.Client
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:        cfg,
		baseURL:    telegramAPI,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, level Level, message string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.cfg.ChatID,
		"text":    fmt.Sprintf("[%s] %s", strings.ToUpper(string(level)), message),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &result); err != nil || !result.OK {
		metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, result.Description)
	}

	metrics.NotificationsSent.WithLabelValues("telegram", "ok").Inc()
	return nil
}
