package model

import "time"

type ContextState string

const (
	ContextStateInitializing ContextState = "initializing"
	ContextStateReady        ContextState = "ready"
	ContextStateBusy         ContextState = "busy"
	ContextStateDead         ContextState = "dead"
)

// Context is a stateful interpreter session bound to one language kernel.
type Context struct {
	ID             string       `json:"id"`
	SandboxID      string       `json:"sandbox_id"`
	Language       string       `json:"language"`
	State          ContextState `json:"state"`
	ExecutionCount int          `json:"execution_count"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActiveAt   time.Time    `json:"last_active_at"`
}

type CreateContextRequest struct {
	Language string `json:"language" binding:"required"`
}

type ContextListResponse struct {
	Items []Context `json:"items"`
}
