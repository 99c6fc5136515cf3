package registry

import (
	"context"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// Cursor is an independent reader over one execution's append-only log
// buffer. Each attached stream gets its own cursor; cursors never affect the
// buffer or each other, and a cursor attached mid-execution starts from the
// beginning of the buffer.
type Cursor struct {
	rec  *record
	next int
}

// NewCursor attaches a cursor to a live execution.
func (r *Registry) NewCursor(id string) (*Cursor, error) {
	rec := r.get(id)
	if rec == nil {
		return nil, model.NewNotFoundError("execution %s not found", id)
	}
	return &Cursor{rec: rec}, nil
}

// Next blocks until new chunks are available or the execution reaches a
// terminal status. It returns the batch of unseen chunks and done=true once
// the buffer is drained after the terminal transition. ctx cancellation
// detaches the cursor without touching the execution.
func (c *Cursor) Next(ctx context.Context) (chunks []model.LogChunk, done bool, err error) {
	for {
		c.rec.mu.Lock()
		if c.next < len(c.rec.chunks) {
			batch := make([]model.LogChunk, len(c.rec.chunks)-c.next)
			copy(batch, c.rec.chunks[c.next:])
			c.next = len(c.rec.chunks)
			c.rec.mu.Unlock()
			return batch, false, nil
		}
		if c.rec.exec.Status.Terminal() {
			c.rec.mu.Unlock()
			return nil, true, nil
		}
		notify := c.rec.notify
		c.rec.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-notify:
		}
	}
}

// Execution returns the current snapshot of the cursor's execution.
func (c *Cursor) Execution() model.Execution {
	c.rec.mu.Lock()
	defer c.rec.mu.Unlock()
	return c.rec.exec
}
