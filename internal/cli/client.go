package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/ingestor/internal/core/config"
)

// errDaemonUnreachable means the control API did not answer at all.
type errDaemonUnreachable struct {
	err error
}

func (e errDaemonUnreachable) Error() string {
	return fmt.Sprintf("daemon unreachable: %v", e.err)
}

func (e errDaemonUnreachable) Unwrap() error {
	return e.err
}

func baseURL(cfg *config.AppConfig) string {
	if apiURL != "" {
		return strings.TrimRight(apiURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

// postAPI sends body to the control API and decodes the JSON answer.
func postAPI(cfg *config.AppConfig, path string, body []byte) (map[string]any, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(baseURL(cfg)+"/api"+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, errDaemonUnreachable{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unexpected response %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api returned %d: %v", resp.StatusCode, out["error"])
	}
	return out, nil
}
