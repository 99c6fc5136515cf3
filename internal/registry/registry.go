package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hellomypastor/OpenSandbox/internal/store"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// Registry is the single authoritative store for executions. Producers
// (runner, session manager) funnel every log append and status transition
// through it; streaming readers attach cursors that see the full log prefix
// followed by live appends, with no gaps or duplicates.
type Registry struct {
	sandboxID string
	execStore *store.ExecutionStore

	retention        time.Duration
	maxRecords       int
	historyRetention time.Duration

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	mu     sync.Mutex
	exec   model.Execution
	chunks []model.LogChunk
	// notify is closed and replaced on every mutation; cursors wait on it.
	notify chan struct{}
}

// Options bounds retention of terminal executions. Retention and MaxRecords
// govern the in-memory records; HistoryRetention governs the sqlite history,
// which outlives eviction and is pruned on a longer horizon.
type Options struct {
	Retention        time.Duration
	MaxRecords       int
	HistoryRetention time.Duration
}

// FinishState carries the terminal payload of an execution.
type FinishState struct {
	ExitCode *int
	Result   *model.CodeResult
	Error    *model.ExecutionError
}

// New creates a registry. execStore may be nil; terminal records are then
// kept in memory only.
func New(sandboxID string, execStore *store.ExecutionStore, opts Options) *Registry {
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 2048
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = 24 * time.Hour
	}
	return &Registry{
		sandboxID:        sandboxID,
		execStore:        execStore,
		retention:        opts.Retention,
		maxRecords:       opts.MaxRecords,
		historyRetention: opts.HistoryRetention,
		records:          make(map[string]*record),
	}
}

// Create registers a new execution in status Queued and returns its snapshot.
func (r *Registry) Create(kind model.ExecutionKind, contextID, payload string) *model.Execution {
	rec := &record{
		exec: model.Execution{
			ID:        uuid.NewString(),
			SandboxID: r.sandboxID,
			Kind:      kind,
			ContextID: contextID,
			Payload:   payload,
			Status:    model.ExecutionStatusQueued,
			CreatedAt: time.Now().UTC(),
		},
		notify: make(chan struct{}),
	}

	r.mu.Lock()
	r.records[rec.exec.ID] = rec
	r.mu.Unlock()

	snapshot := rec.exec
	return &snapshot
}

func (r *Registry) get(id string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

// SetRunning transitions Queued -> Running. Transitions are monotone; a
// terminal execution is never revived.
func (r *Registry) SetRunning(id string) error {
	rec := r.get(id)
	if rec == nil {
		return model.NewNotFoundError("execution %s not found", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.exec.Status != model.ExecutionStatusQueued {
		return fmt.Errorf("execution %s is %s, cannot start", id, rec.exec.Status)
	}
	now := time.Now().UTC()
	rec.exec.Status = model.ExecutionStatusRunning
	rec.exec.StartedAt = &now
	rec.wake()
	return nil
}

// SetExecutionCount records the context cell counter on a code execution.
func (r *Registry) SetExecutionCount(id string, count int) {
	rec := r.get(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.exec.ExecutionCount = count
	rec.mu.Unlock()
}

// AppendLog appends one output chunk. Appends after a terminal status are
// dropped: the producer raced a kill and the buffer is already sealed.
func (r *Registry) AppendLog(id string, chunk model.LogChunk) error {
	rec := r.get(id)
	if rec == nil {
		return model.NewNotFoundError("execution %s not found", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.exec.Status.Terminal() {
		return nil
	}
	if chunk.TS.IsZero() {
		chunk.TS = time.Now().UTC()
	}
	rec.chunks = append(rec.chunks, chunk)
	rec.wake()
	return nil
}

// Finish applies a terminal status. Returns false without mutating anything
// if the execution is already terminal, which makes cancellation and timeout
// idempotent against each other.
func (r *Registry) Finish(id string, status model.ExecutionStatus, state FinishState) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}
	rec := r.get(id)
	if rec == nil {
		return false, model.NewNotFoundError("execution %s not found", id)
	}

	rec.mu.Lock()
	if rec.exec.Status.Terminal() {
		rec.mu.Unlock()
		return false, nil
	}
	now := time.Now().UTC()
	rec.exec.Status = status
	rec.exec.FinishedAt = &now
	rec.exec.ExitCode = state.ExitCode
	rec.exec.Result = state.Result
	rec.exec.Error = state.Error
	snapshot := rec.exec
	chunks := make([]model.LogChunk, len(rec.chunks))
	copy(chunks, rec.chunks)
	rec.wake()
	rec.mu.Unlock()

	if r.execStore != nil {
		recStore := store.RecordFromSnapshot(&snapshot, chunks)
		if err := r.execStore.Create(context.Background(), recStore); err != nil {
			slog.Error("failed to persist execution record",
				"component", "registry", "execution_id", id, "error", err)
		}
	}
	return true, nil
}

// Snapshot returns the current state of an execution. Evicted executions are
// served from the history store without their live log buffer.
func (r *Registry) Snapshot(id string) (*model.Execution, error) {
	if rec := r.get(id); rec != nil {
		rec.mu.Lock()
		snapshot := rec.exec
		rec.mu.Unlock()
		return &snapshot, nil
	}
	if r.execStore != nil {
		stored, err := r.execStore.GetByID(context.Background(), id)
		if err != nil {
			return nil, model.NewInternalError("failed to load execution history", err)
		}
		if stored != nil {
			return stored.Snapshot(), nil
		}
	}
	return nil, model.NewNotFoundError("execution %s not found", id)
}

// Chunks returns a copy of the log buffer accumulated so far.
func (r *Registry) Chunks(id string) ([]model.LogChunk, error) {
	rec := r.get(id)
	if rec == nil {
		return nil, model.NewNotFoundError("execution %s not found", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	chunks := make([]model.LogChunk, len(rec.chunks))
	copy(chunks, rec.chunks)
	return chunks, nil
}

// Logs is Chunks with a history fallback: an evicted execution is served from
// the persisted log tail. Stream attribution is lost in the tail; it is
// reported as stdout.
func (r *Registry) Logs(id string) ([]model.LogChunk, error) {
	chunks, err := r.Chunks(id)
	if err == nil {
		return chunks, nil
	}
	if r.execStore != nil {
		stored, storeErr := r.execStore.GetByID(context.Background(), id)
		if storeErr != nil {
			return nil, model.NewInternalError("failed to load execution history", storeErr)
		}
		if stored != nil {
			if stored.LogTail == "" {
				return nil, nil
			}
			ts := stored.CreatedAt
			if stored.FinishedAt != nil {
				ts = *stored.FinishedAt
			}
			return []model.LogChunk{{Stream: model.StreamStdout, Text: stored.LogTail, TS: ts}}, nil
		}
	}
	return nil, err
}

// wake must be called with rec.mu held.
func (rec *record) wake() {
	close(rec.notify)
	rec.notify = make(chan struct{})
}

// StartJanitor evicts terminal executions past the retention window or
// beyond the record cap, oldest first, and prunes the sqlite history past its
// own horizon so the database stays bounded in a long-running daemon.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				evicted := r.evict(now)
				if evicted > 0 {
					slog.Debug("evicted terminal executions",
						"component", "registry", "count", evicted)
				}
				pruned := r.pruneHistory(ctx, now)
				if pruned > 0 {
					slog.Debug("pruned execution history",
						"component", "registry", "count", pruned)
				}
			}
		}
	}()
}

// pruneHistory drops persisted records older than the history horizon.
func (r *Registry) pruneHistory(ctx context.Context, now time.Time) int64 {
	if r.execStore == nil {
		return 0
	}
	pruned, err := r.execStore.DeleteOlderThan(ctx, now.Add(-r.historyRetention))
	if err != nil {
		slog.Error("failed to prune execution history",
			"component", "registry", "error", err)
		return 0
	}
	return pruned
}

func (r *Registry) evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	type finished struct {
		id string
		at time.Time
	}
	var terminal []finished
	for id, rec := range r.records {
		rec.mu.Lock()
		if rec.exec.Status.Terminal() && rec.exec.FinishedAt != nil {
			terminal = append(terminal, finished{id: id, at: *rec.exec.FinishedAt})
		}
		rec.mu.Unlock()
	}

	evicted := 0
	for _, f := range terminal {
		if now.Sub(f.at) > r.retention {
			delete(r.records, f.id)
			evicted++
		}
	}

	if excess := len(r.records) - r.maxRecords; excess > 0 {
		sort.Slice(terminal, func(i, j int) bool { return terminal[i].at.Before(terminal[j].at) })
		for _, f := range terminal {
			if excess <= 0 {
				break
			}
			if _, ok := r.records[f.id]; ok {
				delete(r.records, f.id)
				evicted++
				excess--
			}
		}
	}
	return evicted
}
