package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hellomypastor/OpenSandbox/internal/kernel"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// KernelFactory builds an unstarted kernel for a language, or reports the
// language as unsupported.
type KernelFactory func(language string) (kernel.Kernel, error)

// Manager owns the pool of interpreter contexts. Submissions within one
// context are serialized FIFO; contexts are independent units of concurrency.
type Manager struct {
	sandboxID   string
	reg         *registry.Registry
	factory     KernelFactory
	idleTimeout time.Duration

	mu       sync.RWMutex
	contexts map[string]*Context
}

func NewManager(sandboxID string, reg *registry.Registry, factory KernelFactory, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Manager{
		sandboxID:   sandboxID,
		reg:         reg,
		factory:     factory,
		idleTimeout: idleTimeout,
		contexts:    make(map[string]*Context),
	}
}

// Create spawns a kernel for the language and registers a Ready context. A
// handshake failure yields an error and no context; there is never a Ready
// context without a backing process.
func (m *Manager) Create(ctx context.Context, language string) (*model.Context, error) {
	k, err := m.factory(language)
	if err != nil {
		return nil, model.NewValidationError("unsupported language %q", language)
	}

	if err := k.Start(ctx); err != nil {
		return nil, &model.APIError{
			Code:    model.ErrCodeKernelCrashed,
			Message: fmt.Sprintf("failed to start %s kernel", language),
			Err:     err,
		}
	}

	now := time.Now().UTC()
	c := &Context{
		id:         uuid.NewString(),
		sandboxID:  m.sandboxID,
		language:   language,
		kernel:     k,
		createdAt:  now,
		state:      model.ContextStateReady,
		lastActive: now,
		wakeup:     make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}

	m.mu.Lock()
	m.contexts[c.id] = c
	m.mu.Unlock()

	go m.work(c)

	slog.Info("context created",
		"component", "session", "context_id", c.id, "language", language)
	snapshot := c.Snapshot()
	return &snapshot, nil
}

// Get returns a context snapshot.
func (m *Manager) Get(contextID string) (*model.Context, error) {
	c := m.lookup(contextID)
	if c == nil {
		return nil, model.NewNotFoundError("context %s not found", contextID)
	}
	snapshot := c.Snapshot()
	return &snapshot, nil
}

// List returns all live context snapshots.
func (m *Manager) List() []model.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]model.Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		items = append(items, c.Snapshot())
	}
	return items
}

// Submit queues one code cell on a context and returns its execution
// snapshot. If the context is Busy the cell waits its turn; FIFO order is
// per context, never per sandbox.
func (m *Manager) Submit(contextID, code string, timeout time.Duration) (*model.Execution, error) {
	c := m.lookup(contextID)
	if c == nil {
		return nil, model.NewNotFoundError("context %s not found", contextID)
	}

	execution := m.reg.Create(model.ExecutionKindCode, contextID, code)
	sub := &submission{executionID: execution.ID, code: code, timeout: timeout}

	if !c.enqueue(sub) {
		state := registry.FinishState{Error: &model.ExecutionError{Message: "context kernel crashed"}}
		_, _ = m.reg.Finish(execution.ID, model.ExecutionStatusKernelCrashed, state)
		snapshot, err := m.reg.Snapshot(execution.ID)
		if err != nil {
			return execution, nil
		}
		return snapshot, nil
	}

	snapshot, err := m.reg.Snapshot(execution.ID)
	if err != nil {
		return execution, nil
	}
	return snapshot, nil
}

// Cancel cancels a queued or running code execution. A queued cell is simply
// removed without touching the kernel; the running one gets an interrupt.
// Unknown or terminal executions are a no-op.
func (m *Manager) Cancel(executionID string) {
	m.mu.RLock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	m.mu.RUnlock()

	for _, c := range contexts {
		found, wasQueued := c.cancelExecution(executionID)
		if !found {
			continue
		}
		if wasQueued {
			state := registry.FinishState{Error: &model.ExecutionError{Message: "execution cancelled"}}
			_, _ = m.reg.Finish(executionID, model.ExecutionStatusCancelled, state)
		}
		return
	}
}

// Close shuts a context down explicitly. Queued submissions are cancelled;
// later references fail with not found.
func (m *Manager) Close(ctx context.Context, contextID string) error {
	m.mu.Lock()
	c := m.contexts[contextID]
	delete(m.contexts, contextID)
	m.mu.Unlock()
	if c == nil {
		return model.NewNotFoundError("context %s not found", contextID)
	}
	m.teardown(ctx, c, "closed")
	return nil
}

// CloseAll tears down every context, for daemon shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	contexts := m.contexts
	m.contexts = make(map[string]*Context)
	m.mu.Unlock()
	for _, c := range contexts {
		m.teardown(ctx, c, "shutdown")
	}
}

// StartIdleReaper reclaims contexts with no submissions inside the idle
// window, on the given sweep interval.
func (m *Manager) StartIdleReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle(ctx)
			}
		}
	}()
}

func (m *Manager) reapIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Context
	for id, c := range m.contexts {
		state, lastActive := c.idleSince()
		if state == model.ContextStateBusy {
			continue
		}
		if lastActive.Before(cutoff) {
			idle = append(idle, c)
			delete(m.contexts, id)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		slog.Info("reclaiming idle context",
			"component", "session", "context_id", c.id, "language", c.language)
		m.teardown(ctx, c, "idle")
	}
}

func (m *Manager) teardown(ctx context.Context, c *Context, reason string) {
	pending := c.markDead()
	c.stop.Do(func() { close(c.closed) })
	for _, sub := range pending {
		state := registry.FinishState{Error: &model.ExecutionError{Message: "context " + reason}}
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusCancelled, state)
	}
	if err := c.kernel.Shutdown(ctx); err != nil {
		slog.Warn("kernel shutdown failed",
			"component", "session", "context_id", c.id, "error", err)
	}
}

func (m *Manager) lookup(contextID string) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contexts[contextID]
}

// work is the per-context worker loop: one cell at a time, in queue order.
func (m *Manager) work(c *Context) {
	for {
		sub := c.dequeue()
		if sub == nil {
			select {
			case <-c.closed:
				return
			case <-c.wakeup:
				continue
			}
		}

		m.execute(c, sub)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (m *Manager) execute(c *Context, sub *submission) {
	defer c.settle()

	if err := m.reg.SetRunning(sub.executionID); err != nil {
		// Cancelled between dequeue and dispatch.
		return
	}
	m.reg.SetExecutionCount(sub.executionID, c.Snapshot().ExecutionCount)

	runCtx := context.Background()
	cancel := context.CancelFunc(func() {})
	if sub.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, sub.timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()
	sub.setCancelRun(cancel)

	deadlineExceeded := false
	sink := func(chunk model.LogChunk) {
		if err := m.reg.AppendLog(sub.executionID, chunk); err != nil {
			slog.Error("failed to append code output",
				"component", "session", "execution_id", sub.executionID, "error", err)
		}
	}

	result, codeErr, err := c.kernel.Submit(runCtx, sub.code, sink)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		deadlineExceeded = true
	}

	switch {
	case err != nil:
		// Kernel crash: fail this cell, kill the context, fail the queue.
		m.crash(c, sub.executionID, err)
	case sub.isCancelled():
		state := registry.FinishState{Error: &model.ExecutionError{Message: "execution cancelled"}}
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusCancelled, state)
	case deadlineExceeded:
		state := registry.FinishState{Error: &model.ExecutionError{Message: "execution timed out"}}
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusTimedOut, state)
	case codeErr != nil:
		// A code-level exception leaves the context Ready.
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusFailed, registry.FinishState{Error: codeErr})
	default:
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusCompleted, registry.FinishState{Result: result})
	}
}

func (m *Manager) crash(c *Context, executionID string, cause error) {
	slog.Error("kernel crashed",
		"component", "session", "context_id", c.id, "language", c.language, "error", cause)

	state := registry.FinishState{Error: &model.ExecutionError{Message: "kernel crashed: " + cause.Error()}}
	_, _ = m.reg.Finish(executionID, model.ExecutionStatusKernelCrashed, state)

	pending := c.markDead()
	c.stop.Do(func() { close(c.closed) })
	for _, sub := range pending {
		queuedState := registry.FinishState{Error: &model.ExecutionError{Message: "kernel crashed before execution"}}
		_, _ = m.reg.Finish(sub.executionID, model.ExecutionStatusKernelCrashed, queuedState)
	}
	_ = c.kernel.Shutdown(context.Background())
}
