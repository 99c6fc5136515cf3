package model

import "time"

type ExecutionKind string

const (
	ExecutionKindCommand ExecutionKind = "command"
	ExecutionKindCode    ExecutionKind = "code"
)

type ExecutionStatus string

const (
	ExecutionStatusQueued        ExecutionStatus = "queued"
	ExecutionStatusRunning       ExecutionStatus = "running"
	ExecutionStatusCompleted     ExecutionStatus = "completed"
	ExecutionStatusFailed        ExecutionStatus = "failed"
	ExecutionStatusCancelled     ExecutionStatus = "cancelled"
	ExecutionStatusTimedOut      ExecutionStatus = "timed_out"
	ExecutionStatusKernelCrashed ExecutionStatus = "kernel_crashed"
)

// Terminal reports whether the status is final. Terminal executions never
// change status again.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled,
		ExecutionStatusTimedOut, ExecutionStatusKernelCrashed:
		return true
	}
	return false
}

type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// LogChunk is one piece of subprocess output in arrival order.
type LogChunk struct {
	Stream StreamName `json:"stream"`
	Text   string     `json:"text"`
	TS     time.Time  `json:"ts"`
}

// CodeResult is the structured value of the final expression of a code cell,
// distinct from anything the cell printed.
type CodeResult struct {
	Data string `json:"data"`
}

// ExecutionError carries a code-level failure (exception name, message and
// traceback) or a daemon-side failure reason.
type ExecutionError struct {
	Name      string   `json:"name,omitempty"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback,omitempty"`
}

// Execution is a point-in-time snapshot of one submitted command or code cell.
type Execution struct {
	ID             string          `json:"id"`
	SandboxID      string          `json:"sandbox_id"`
	Kind           ExecutionKind   `json:"kind"`
	ContextID      string          `json:"context_id,omitempty"`
	Payload        string          `json:"payload"`
	Status         ExecutionStatus `json:"status"`
	ExitCode       *int            `json:"exit_code,omitempty"`
	Result         *CodeResult     `json:"result,omitempty"`
	Error          *ExecutionError `json:"error,omitempty"`
	ExecutionCount int             `json:"execution_count,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

type RunCommandRequest struct {
	Command        string            `json:"command" binding:"required"`
	Workdir        string            `json:"workdir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

type SubmitCodeRequest struct {
	Code           string `json:"code" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type ExecutionCreatedResponse struct {
	ExecutionID string `json:"execution_id"`
}

type ExecutionListResponse struct {
	Items []Execution `json:"items"`
}

// LogsSnapshotResponse is the non-streaming view of an execution's log buffer.
type LogsSnapshotResponse struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Chunks      []LogChunk      `json:"chunks"`
}
