package session

import (
	"context"
	"sync"
	"time"

	"github.com/hellomypastor/OpenSandbox/internal/kernel"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// submission is one queued code cell.
type submission struct {
	executionID string
	code        string
	timeout     time.Duration

	mu        sync.Mutex
	cancelled bool
	// cancelRun aborts the kernel call once the cell is running.
	cancelRun context.CancelFunc
}

func (s *submission) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	cancelRun := s.cancelRun
	s.mu.Unlock()
	if cancelRun != nil {
		cancelRun()
	}
}

func (s *submission) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *submission) setCancelRun(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancelRun = cancel
	cancelled := s.cancelled
	s.mu.Unlock()
	// Cancel raced the dispatch; abort immediately.
	if cancelled {
		cancel()
	}
}

// Context is one stateful interpreter session. Submissions are evaluated
// strictly in arrival order by a single worker goroutine; independent
// contexts share nothing and run in parallel.
type Context struct {
	id        string
	sandboxID string
	language  string
	kernel    kernel.Kernel
	createdAt time.Time

	mu         sync.Mutex
	state      model.ContextState
	execCount  int
	lastActive time.Time
	queue      []*submission
	running    *submission

	// wakeup nudges the worker; closed stops it.
	wakeup chan struct{}
	closed chan struct{}
	stop   sync.Once
}

// Snapshot returns the wire view of the context.
func (c *Context) Snapshot() model.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Context{
		ID:             c.id,
		SandboxID:      c.sandboxID,
		Language:       c.language,
		State:          c.state,
		ExecutionCount: c.execCount,
		CreatedAt:      c.createdAt,
		LastActiveAt:   c.lastActive,
	}
}

// enqueue appends a submission and wakes the worker. Returns false if the
// context no longer accepts work.
func (c *Context) enqueue(sub *submission) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.ContextStateDead {
		return false
	}
	c.queue = append(c.queue, sub)
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	return true
}

// dequeue pops the next non-cancelled submission, or nil.
func (c *Context) dequeue() *submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 {
		sub := c.queue[0]
		c.queue = c.queue[1:]
		if sub.isCancelled() {
			// Already finished by the cancel path; skip.
			continue
		}
		c.running = sub
		c.state = model.ContextStateBusy
		c.execCount++
		c.lastActive = time.Now().UTC()
		return sub
	}
	return nil
}

// settle marks the cell done and returns the context to Ready unless it died.
func (c *Context) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = nil
	c.lastActive = time.Now().UTC()
	if c.state == model.ContextStateBusy {
		c.state = model.ContextStateReady
	}
}

// markDead flips the context to Dead and returns any still-queued
// submissions so the caller can fail them.
func (c *Context) markDead() []*submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = model.ContextStateDead
	pending := c.queue
	c.queue = nil
	return pending
}

// cancelExecution cancels a queued or running submission owned by this
// context. Returns (found, wasQueued).
func (c *Context) cancelExecution(executionID string) (bool, bool) {
	c.mu.Lock()
	if c.running != nil && c.running.executionID == executionID {
		running := c.running
		c.mu.Unlock()
		running.markCancelled()
		return true, false
	}
	for _, sub := range c.queue {
		if sub.executionID == executionID {
			c.mu.Unlock()
			sub.markCancelled()
			return true, true
		}
	}
	c.mu.Unlock()
	return false, false
}

func (c *Context) idleSince() (model.ContextState, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastActive
}
