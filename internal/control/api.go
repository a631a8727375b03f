package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/runner"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// sendTimeout bounds how long a request waits on a full inbox.
const sendTimeout = 5 * time.Second

// TaskReader reads persisted tasks.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (*domain.SyncTask, error)
	List(ctx context.Context) ([]*domain.SyncTask, error)
}

// API is the operator control surface. Commands and jobs go through the bus,
// so the runner owning a task stays its only writer.
type API struct {
	tasks   TaskReader
	retries storage.RetryRepository
	bus     *runner.Bus
	log     *slog.Logger
}

func NewAPI(tasks TaskReader, retries storage.RetryRepository, bus *runner.Bus) *API {
	return &API{
		tasks:   tasks,
		retries: retries,
		bus:     bus,
		log:     slog.Default().With("component", "api"),
	}
}

// Routes returns the handler to mount under /api.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/tasks", a.handleListTasks)
	r.Get("/tasks/{taskID}", a.handleGetTask)
	r.Get("/tasks/{taskID}/retries", a.handleListRetries)
	r.Post("/tasks/{taskID}/jobs", a.handleSubmitJobs)
	r.Post("/tasks/{taskID}/{method}", a.handleCommand)
	return r
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.tasks.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListRetries(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTask(w, r)
	if !ok {
		return
	}
	jobs, err := a.retries.List(r.Context(), domain.RetryPrefix(t.Chain, t.Name)+":")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type commandRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	method, ok := domain.ParseMethod(chi.URLParam(r, "method"))
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("method must be one of start, stop, reset, remove"))
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()
	if err := a.bus.SendCommand(ctx, taskID, domain.Command{Method: method, Reason: req.Reason}); err != nil {
		a.writeSendError(w, err)
		return
	}

	a.log.Info("Command queued", "task", taskID, "method", method)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "method": string(method)})
}

// handleSubmitJobs accepts one params object or an array of them.
func (a *API) handleSubmitJobs(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	jobs, err := parseJobs(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()
	for i, params := range jobs {
		if err := a.bus.SendJob(ctx, taskID, params); err != nil {
			a.log.Warn("Job submission interrupted", "task", taskID, "queued", i, "error", err)
			a.writeSendError(w, err)
			return
		}
	}

	a.log.Info("Jobs queued", "task", taskID, "count", len(jobs))
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "queued": len(jobs)})
}

func parseJobs(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	switch {
	case len(body) == 0:
		return nil, errors.New("request body is empty")
	case body[0] == '[':
		var jobs []json.RawMessage
		if err := json.Unmarshal(body, &jobs); err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if len(j) == 0 || j[0] != '{' {
				return nil, errors.New("every job must be a JSON object")
			}
		}
		return jobs, nil
	case body[0] == '{':
		if !json.Valid(body) {
			return nil, errors.New("invalid JSON object")
		}
		return []json.RawMessage{json.RawMessage(body)}, nil
	default:
		return nil, errors.New("body must be a JSON object or array of objects")
	}
}

func (a *API) loadTask(w http.ResponseWriter, r *http.Request) (*domain.SyncTask, bool) {
	t, err := a.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err)
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return t, true
}

func (a *API) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runner.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, runner.ErrInboxFull):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, errors.New("task inbox is full"))
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
