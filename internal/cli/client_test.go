package cli

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/ingestor/internal/core/config"
)

func TestPostAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tasks/task:a:b/jobs":
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"queued":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"unknown task"}`))
		}
	}))
	defer server.Close()

	apiURL = server.URL + "/"
	defer func() { apiURL = "" }()
	cfg := &config.AppConfig{}

	out, err := postAPI(cfg, "/tasks/task:a:b/jobs", []byte(`{}`))
	if err != nil || out["queued"] != float64(1) {
		t.Fatalf("unexpected result %v, %v", out, err)
	}

	_, err = postAPI(cfg, "/tasks/task:x:y/jobs", []byte(`{}`))
	var unreachable errDaemonUnreachable
	if err == nil || errors.As(err, &unreachable) {
		t.Errorf("expected an api error, got %v", err)
	}
}

func TestPostAPI_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	apiURL = server.URL
	defer func() { apiURL = "" }()

	_, err := postAPI(&config.AppConfig{}, "/tasks/task:a:b/stop", nil)
	var unreachable errDaemonUnreachable
	if !errors.As(err, &unreachable) {
		t.Errorf("expected unreachable error, got %v", err)
	}
}

func TestBaseURL_FromConfig(t *testing.T) {
	cfg := &config.AppConfig{Server: config.ServerConfig{Port: 9000}}
	if got := baseURL(cfg); got != "http://localhost:9000" {
		t.Errorf("unexpected base url %s", got)
	}
}
