package kernel

import (
	"context"
	"errors"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// ErrCrashed reports that the kernel subprocess exited unexpectedly. The
// session manager treats this as fatal for the owning context.
var ErrCrashed = errors.New("kernel process crashed")

// OutputSink receives incremental output chunks while a cell runs.
type OutputSink func(chunk model.LogChunk)

// Kernel is the capability backing one interpreter context. The session
// manager depends only on this interface, never on language detail; each
// concrete kernel is an opaque subprocess it supervises.
type Kernel interface {
	// Start launches the kernel and performs the readiness handshake. On
	// failure there is no running process left behind.
	Start(ctx context.Context) error

	// Submit evaluates one code cell against the kernel's accumulated
	// state. Incremental output is delivered through sink in arrival
	// order; the return values carry the structured result or the
	// code-level error. A non-nil error means the kernel itself failed
	// (crash, context cancellation), not the submitted code.
	Submit(ctx context.Context, code string, sink OutputSink) (*model.CodeResult, *model.ExecutionError, error)

	// Interrupt asks the kernel to abort the running cell without dying.
	Interrupt()

	// Shutdown terminates the kernel process.
	Shutdown(ctx context.Context) error

	// IsHealthy reports whether the backing process is still usable.
	IsHealthy() bool
}
