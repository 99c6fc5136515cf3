package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

func setupTestDB(t *testing.T) *ExecutionStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := InitDB(dbPath); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { CloseDB() })
	return NewExecutionStore()
}

func terminalSnapshot(id string, createdAt time.Time) *model.Execution {
	started := createdAt.Add(10 * time.Millisecond)
	finished := createdAt.Add(time.Second)
	code := 0
	return &model.Execution{
		ID:         id,
		SandboxID:  "sbx-test",
		Kind:       model.ExecutionKindCommand,
		Payload:    "echo hi",
		Status:     model.ExecutionStatusCompleted,
		ExitCode:   &code,
		CreatedAt:  createdAt,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
}

func TestExecutionRecordRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	exec := terminalSnapshot("exec-1", time.Now().UTC().Truncate(time.Millisecond))
	exec.Kind = model.ExecutionKindCode
	exec.ContextID = "ctx-1"
	exec.ExecutionCount = 7
	exec.Result = &model.CodeResult{Data: "42"}
	exec.Error = &model.ExecutionError{Name: "ValueError", Message: "bad"}

	chunks := []model.LogChunk{
		{Stream: model.StreamStdout, Text: "hello "},
		{Stream: model.StreamStderr, Text: "world"},
	}

	if err := s.Create(ctx, RecordFromSnapshot(exec, chunks)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := s.GetByID(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec == nil {
		t.Fatalf("GetByID() returned nil for a stored record")
	}
	if rec.LogTail != "hello world" {
		t.Fatalf("log tail = %q, want %q", rec.LogTail, "hello world")
	}

	got := rec.Snapshot()
	if got.Kind != model.ExecutionKindCode || got.ContextID != "ctx-1" || got.ExecutionCount != 7 {
		t.Fatalf("snapshot = %+v", got)
	}
	if got.Result == nil || got.Result.Data != "42" {
		t.Fatalf("result = %+v, want 42", got.Result)
	}
	if got.Error == nil || got.Error.Name != "ValueError" {
		t.Fatalf("error = %+v, want ValueError", got.Error)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", got.ExitCode)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("timestamps dropped: %+v", got)
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	s := setupTestDB(t)

	rec, err := s.GetByID(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("GetByID() = %+v, want nil for a missing record", rec)
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		exec := terminalSnapshot("exec-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, RecordFromSnapshot(exec, nil)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	records, err := s.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ListRecent() = %d records, want 3", len(records))
	}
	if records[0].ID != "exec-e" || records[2].ID != "exec-c" {
		t.Fatalf("order = %s..%s, want newest first", records[0].ID, records[2].ID)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	old := terminalSnapshot("old", time.Now().UTC().Add(-2*time.Hour))
	fresh := terminalSnapshot("fresh", time.Now().UTC())
	for _, exec := range []*model.Execution{old, fresh} {
		if err := s.Create(ctx, RecordFromSnapshot(exec, nil)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	deleted, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("DeleteOlderThan() = %d, want 1", deleted)
	}

	rec, _ := s.GetByID(ctx, "old")
	if rec != nil {
		t.Fatalf("old record should be pruned")
	}
	rec, _ = s.GetByID(ctx, "fresh")
	if rec == nil {
		t.Fatalf("fresh record should survive pruning")
	}
}

func TestLogTailTruncation(t *testing.T) {
	exec := terminalSnapshot("big", time.Now().UTC())
	chunk := model.LogChunk{Stream: model.StreamStdout, Text: strings.Repeat("x", LogTailLimit)}
	rec := RecordFromSnapshot(exec, []model.LogChunk{
		{Stream: model.StreamStdout, Text: "dropped-prefix"},
		chunk,
	})
	if len(rec.LogTail) != LogTailLimit {
		t.Fatalf("log tail = %d bytes, want %d", len(rec.LogTail), LogTailLimit)
	}
	if strings.HasPrefix(rec.LogTail, "dropped-prefix") {
		t.Fatalf("truncation must keep the end of the log, not the start")
	}
}
