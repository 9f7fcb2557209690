package stores

import (
	"context"
	"time"
)

// ExecutionStatus is the outcome of a recorded execution.
type ExecutionStatus string

const (
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionMode mirrors the training flag of an execution.
type ExecutionMode string

const (
	ExecutionModeInference ExecutionMode = "inference"
	ExecutionModeTraining  ExecutionMode = "training"
)

// ModeOf returns the mode for a training flag.
func ModeOf(training bool) ExecutionMode {
	if training {
		return ExecutionModeTraining
	}
	return ExecutionModeInference
}

// Execution is one recorded execution of a graph.
type Execution struct {
	ID string `json:"id"`

	// Graph is the graph name.
	Graph string `json:"graph"`

	// Fingerprint identifies the execution signature (fetches and fed
	// names), so runs sharing a plan can be grouped.
	Fingerprint string `json:"fingerprint"`

	Fetches []string        `json:"fetches"`
	Feeds   []string        `json:"feeds"`
	Mode    ExecutionMode   `json:"mode"`
	Status  ExecutionStatus `json:"status"`

	Error     *string `json:"error,omitempty"`
	ErrorKind *string `json:"error_kind,omitempty"`

	// Steps is the length of the plan.
	Steps    int           `json:"steps"`
	Duration time.Duration `json:"duration"`

	// ProbeMax and ProbeMin are set when the execution ran with a probe.
	ProbeMax *int `json:"probe_max,omitempty"`
	ProbeMin *int `json:"probe_min,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ExecutionFilter selects executions to list. Zero fields match everything.
type ExecutionFilter struct {
	Graph  string
	Status ExecutionStatus
	Limit  int
	Offset int
}

// Store defines the execution history persistence interface.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	CountExecutions(ctx context.Context, graph string) (int, error)
	DeleteExecutionsBefore(ctx context.Context, before time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}
