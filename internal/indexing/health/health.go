// Package health provides task health monitoring and status reporting.
package health

import (
	"github.com/vietddude/ingestor/internal/core/task"
	"github.com/vietddude/ingestor/internal/infra/rpc"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// severity orders statuses so the worst one wins.
func (s SystemStatus) severity() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// TaskHealth contains health data for a single sync task.
type TaskHealth struct {
	TaskID           string            `json:"task_id"`
	Status           SystemStatus      `json:"status"`
	TaskStatus       string            `json:"task_status"`
	CurrentIndex     uint64            `json:"curr_idx"`
	Endpoint         string            `json:"endpoint"`
	LastError        string            `json:"err_msg,omitempty"`
	RetryBacklog     int               `json:"retry_backlog"`
	IndexesPerSecond float64           `json:"indexes_per_second"`
	Failovers        int               `json:"failovers"`
	Transitions      []task.Transition `json:"recent_transitions"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                `json:"system_status"`
	Tasks        map[string]TaskHealth       `json:"tasks"`
	Endpoints    map[string]rpc.MonitorStats `json:"endpoints,omitempty"`
}
