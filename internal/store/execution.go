package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// LogTailLimit caps how much log text is persisted per execution. The live
// log buffer in the registry is the streaming source of truth; the store only
// keeps a bounded tail for history lookups after eviction.
const LogTailLimit = 256 * 1024

// ExecutionRecord persists one terminal execution.
type ExecutionRecord struct {
	ID             string
	SandboxID      string
	Kind           string
	ContextID      string
	Payload        string
	Status         string
	ExitCode       *int
	ResultJSON     string
	ErrorJSON      string
	LogTail        string
	ExecutionCount int
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// ExecutionStore handles execution history persistence.
type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{db: DB}
}

// RecordFromSnapshot flattens an execution snapshot and its log buffer into a
// persistable record. The log tail is truncated to LogTailLimit from the end.
func RecordFromSnapshot(exec *model.Execution, chunks []model.LogChunk) *ExecutionRecord {
	rec := &ExecutionRecord{
		ID:             exec.ID,
		SandboxID:      exec.SandboxID,
		Kind:           string(exec.Kind),
		ContextID:      exec.ContextID,
		Payload:        exec.Payload,
		Status:         string(exec.Status),
		ExitCode:       exec.ExitCode,
		ExecutionCount: exec.ExecutionCount,
		CreatedAt:      exec.CreatedAt,
		StartedAt:      exec.StartedAt,
		FinishedAt:     exec.FinishedAt,
	}
	if exec.Result != nil {
		if data, err := json.Marshal(exec.Result); err == nil {
			rec.ResultJSON = string(data)
		}
	}
	if exec.Error != nil {
		if data, err := json.Marshal(exec.Error); err == nil {
			rec.ErrorJSON = string(data)
		}
	}
	var tail []byte
	for _, chunk := range chunks {
		tail = append(tail, chunk.Text...)
	}
	if len(tail) > LogTailLimit {
		tail = tail[len(tail)-LogTailLimit:]
	}
	rec.LogTail = string(tail)
	return rec
}

// Snapshot converts a stored record back to the wire shape.
func (r *ExecutionRecord) Snapshot() *model.Execution {
	exec := &model.Execution{
		ID:             r.ID,
		SandboxID:      r.SandboxID,
		Kind:           model.ExecutionKind(r.Kind),
		ContextID:      r.ContextID,
		Payload:        r.Payload,
		Status:         model.ExecutionStatus(r.Status),
		ExitCode:       r.ExitCode,
		ExecutionCount: r.ExecutionCount,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	if r.ResultJSON != "" {
		var result model.CodeResult
		if err := json.Unmarshal([]byte(r.ResultJSON), &result); err == nil {
			exec.Result = &result
		}
	}
	if r.ErrorJSON != "" {
		var execErr model.ExecutionError
		if err := json.Unmarshal([]byte(r.ErrorJSON), &execErr); err == nil {
			exec.Error = &execErr
		}
	}
	return exec
}

func (s *ExecutionStore) Create(ctx context.Context, rec *ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (
			id, sandbox_id, kind, context_id, payload, status, exit_code,
			result_json, error_json, log_tail, execution_count,
			created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.SandboxID, rec.Kind, rec.ContextID, rec.Payload, rec.Status,
		rec.ExitCode, rec.ResultJSON, rec.ErrorJSON, rec.LogTail,
		rec.ExecutionCount, rec.CreatedAt, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetByID(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sandbox_id, kind, context_id, payload, status, exit_code,
			result_json, error_json, log_tail, execution_count,
			created_at, started_at, finished_at
		FROM executions WHERE id = ?
	`, id)

	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution record: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit terminal executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sandbox_id, kind, context_id, payload, status, exit_code,
			result_json, error_json, log_tail, execution_count,
			created_at, started_at, finished_at
		FROM executions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan drops history past the retention horizon.
func (s *ExecutionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution records: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var exitCode sql.NullInt64
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.SandboxID, &rec.Kind, &rec.ContextID, &rec.Payload,
		&rec.Status, &exitCode, &rec.ResultJSON, &rec.ErrorJSON, &rec.LogTail,
		&rec.ExecutionCount, &rec.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	return rec, nil
}
