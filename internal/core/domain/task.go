package domain

import (
	"fmt"
	"strings"
)

// SyncTask is the durable state of one ingestion stream.
type SyncTask struct {
	TaskID        string     `json:"task_id"`
	Chain         string     `json:"chain"`
	Name          string     `json:"task"`
	StartIndex    uint64     `json:"start_idx"`
	CurrentIndex  uint64     `json:"curr_idx"`
	Endpoints     []string   `json:"end_points"`
	EndpointIndex int        `json:"end_point_idx"`
	Filter        string     `json:"filter"`
	Status        TaskStatus `json:"status"`
	LastError     string     `json:"err_msg"`
}

type TaskStatus string

const (
	TaskStatusWorking TaskStatus = "working"
	TaskStatusStopped TaskStatus = "stopped"
	TaskStatusError   TaskStatus = "error"
)

// ActiveEndpoint returns the endpoint the task currently talks to.
func (t *SyncTask) ActiveEndpoint() string {
	if t.EndpointIndex < 0 || t.EndpointIndex >= len(t.Endpoints) {
		return ""
	}
	return t.Endpoints[t.EndpointIndex]
}

// IsWorking reports whether the task should fetch on this tick.
func (t *SyncTask) IsWorking() bool {
	return t.Status == TaskStatusWorking
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *SyncTask) Clone() *SyncTask {
	c := *t
	c.Endpoints = append([]string(nil), t.Endpoints...)
	return &c
}

// TaskID builds the durable key of a task, e.g. "task:ethereum:l1_tx_log".
func TaskID(chain, name string) string {
	return fmt.Sprintf("task:%s:%s", chain, name)
}

// RetryPrefix is the key prefix shared by all retry jobs of a task.
func RetryPrefix(chain, name string) string {
	return fmt.Sprintf("retry:%s:%s", chain, name)
}

// SpillPrefix is the key prefix of jobs that arrived while the inbox of
// taskID was full.
func SpillPrefix(taskID string) string {
	return "spill:" + strings.TrimPrefix(taskID, "task:") + ":"
}
