// Package chain defines the fetch strategies a task runner drives. Cursor
// tasks walk an index with a Fetcher; job-driven tasks execute queued work
// items with a Handler.
package chain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vietddude/ingestor/internal/core/domain"
)

var (
	// ErrNotYetAvailable means the upstream is reachable but the requested
	// index does not exist there yet. It is the normal waiting state.
	ErrNotYetAvailable = errors.New("not yet available")

	// ErrMalformedResponse means the upstream answered with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrInvalidParams means a job carries params the handler cannot use.
	ErrInvalidParams = errors.New("invalid job params")
)

// Caller is the upstream surface strategies need. rpc.Client implements it.
type Caller interface {
	Get(ctx context.Context, rawURL string) (map[string]any, error)
	Call(ctx context.Context, endpoint, method string, params ...any) (any, error)
}

// Dispatch is a follow-up job for another task.
type Dispatch struct {
	TaskID string
	Params json.RawMessage
}

// Result is what one successful fetch produced.
type Result struct {
	// Subject is what the task filter is evaluated against.
	Subject map[string]any
	Records []domain.Record
	// FollowUps are delivered to other tasks after Records are forwarded.
	FollowUps []Dispatch
}

// Fetcher loads the unit at index from endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, index uint64) (*Result, error)
}

// Handler executes one queued job against endpoint.
type Handler interface {
	Handle(ctx context.Context, endpoint string, params json.RawMessage) (*Result, error)

	// RetryKey identifies the unit of work so repeated failures of the
	// same job share one retry entry.
	RetryKey(params json.RawMessage) (string, error)
}

// Options configure a strategy for one task.
type Options struct {
	Chain string
	// Tables overrides the output table per record role.
	Tables map[string]string
	// Target is the task id follow-up jobs are sent to. Empty disables them.
	Target string
}

// Table resolves the output table of a record role, defaulting to
// "{chain}_{role}".
func (o Options) Table(role string) string {
	if t, ok := o.Tables[role]; ok && t != "" {
		return t
	}
	return o.Chain + "_" + role
}

// FollowUp builds a dispatch to the configured target, or nil when the
// strategy has no target.
func (o Options) FollowUp(params any) (*Dispatch, error) {
	if o.Target == "" {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Dispatch{TaskID: o.Target, Params: raw}, nil
}
