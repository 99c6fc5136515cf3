package model

import "time"

type SandboxState string

const (
	SandboxStateCreating SandboxState = "creating"
	SandboxStateRunning  SandboxState = "running"
	SandboxStatePaused   SandboxState = "paused"
	SandboxStateStopped  SandboxState = "stopped"
	SandboxStateExpired  SandboxState = "expired"
	SandboxStateFailed   SandboxState = "failed"
)

// Sandbox describes the environment this daemon instance serves. The
// orchestration layer owns the lifecycle; the daemon only reports the
// identity it was started with.
type Sandbox struct {
	ID         string       `json:"id"`
	Image      string       `json:"image,omitempty"`
	Entrypoint string       `json:"entrypoint,omitempty"`
	State      SandboxState `json:"state"`
	EnvKeys    []string     `json:"env_keys,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

// StreamFrame is one message on a log-streaming connection.
type StreamFrame struct {
	Type     string          `json:"type"` // log | result | error | exit
	Stream   StreamName      `json:"stream,omitempty"`
	Text     string          `json:"text,omitempty"`
	TS       *time.Time      `json:"ts,omitempty"`
	Result   *CodeResult     `json:"result,omitempty"`
	Error    *ExecutionError `json:"error,omitempty"`
	Status   ExecutionStatus `json:"status,omitempty"`
	ExitCode *int            `json:"exit_code,omitempty"`
}

const (
	FrameTypeLog    = "log"
	FrameTypeResult = "result"
	FrameTypeError  = "error"
	FrameTypeExit   = "exit"
)
