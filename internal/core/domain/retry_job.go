package domain

import "encoding/json"

// RetryJob is a failed unit of work waiting to be replayed.
type RetryJob struct {
	RetryID    string          `json:"retry_id"`
	TaskID     string          `json:"task_id"`
	Params     json.RawMessage `json:"params"`
	RetryCount uint32          `json:"retry_count"`
	LastError  string          `json:"err_msg,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Exhausted reports whether the job has no attempts left.
func (j *RetryJob) Exhausted() bool {
	return j.RetryCount == 0
}
