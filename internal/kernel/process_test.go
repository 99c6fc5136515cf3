package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// echoDriver speaks the NDJSON protocol from a shell script: one stream chunk
// and one result per submitted line.
const echoDriver = `
echo '{"type":"ready","language":"sh"}'
while IFS= read -r line; do
  echo '{"type":"stream","name":"stdout","text":"chunk"}'
  echo '{"type":"stream","name":"stderr","text":"warn"}'
  echo '{"type":"result","data":"ok"}'
done
`

const errorDriver = `
echo '{"type":"ready","language":"sh"}'
while IFS= read -r line; do
  echo '{"type":"error","ename":"BoomError","evalue":"it broke","traceback":["line 1"]}'
done
`

const dyingDriver = `
echo '{"type":"ready","language":"sh"}'
exit 1
`

// noisyDriver floods far more unsolicited events than the channel buffer
// holds while nothing is submitted, then exits.
const noisyDriver = `
echo '{"type":"ready","language":"sh"}'
i=0
while [ $i -lt 200 ]; do
  echo '{"type":"stream","name":"stdout","text":"noise"}'
  i=$((i+1))
done
exit 0
`

func shellKernel(t *testing.T, script string) *ProcessKernel {
	t.Helper()
	k := NewProcessKernel("sh", []string{"/bin/sh", "-c", script}, t.TempDir())
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = k.Shutdown(ctx)
	})
	return k
}

func TestSubmitDeliversStreamsAndResult(t *testing.T) {
	k := shellKernel(t, echoDriver)

	var chunks []model.LogChunk
	sink := func(chunk model.LogChunk) { chunks = append(chunks, chunk) }

	result, codeErr, err := k.Submit(context.Background(), "anything", sink)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if codeErr != nil {
		t.Fatalf("Submit() code error = %+v", codeErr)
	}
	if result == nil || result.Data != "ok" {
		t.Fatalf("result = %+v, want ok", result)
	}
	if len(chunks) != 2 {
		t.Fatalf("sink saw %d chunks, want 2", len(chunks))
	}
	if chunks[0].Stream != model.StreamStdout || chunks[0].Text != "chunk" {
		t.Fatalf("stdout chunk = %+v", chunks[0])
	}
	if chunks[1].Stream != model.StreamStderr || chunks[1].Text != "warn" {
		t.Fatalf("stderr chunk = %+v", chunks[1])
	}
}

func TestSubmitSequentialCellsReuseProcess(t *testing.T) {
	k := shellKernel(t, echoDriver)
	sink := func(model.LogChunk) {}

	for i := 0; i < 3; i++ {
		result, codeErr, err := k.Submit(context.Background(), "cell", sink)
		if err != nil || codeErr != nil || result == nil {
			t.Fatalf("cell %d: result=%v codeErr=%v err=%v", i, result, codeErr, err)
		}
	}
	if !k.IsHealthy() {
		t.Fatalf("kernel should stay healthy across cells")
	}
}

func TestSubmitSurfacesCodeError(t *testing.T) {
	k := shellKernel(t, errorDriver)

	result, codeErr, err := k.Submit(context.Background(), "boom", func(model.LogChunk) {})
	if err != nil {
		t.Fatalf("Submit() error = %v, a code error is not a kernel failure", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want nil", result)
	}
	if codeErr == nil || codeErr.Name != "BoomError" || codeErr.Message != "it broke" {
		t.Fatalf("code error = %+v", codeErr)
	}
	if len(codeErr.Traceback) != 1 {
		t.Fatalf("traceback = %v", codeErr.Traceback)
	}
	if !k.IsHealthy() {
		t.Fatalf("kernel should survive a code error")
	}
}

func TestSubmitAfterCrashReturnsErrCrashed(t *testing.T) {
	k := shellKernel(t, dyingDriver)

	// The driver exits right after the handshake; wait for crash detection.
	deadline := time.Now().Add(5 * time.Second)
	for k.IsHealthy() {
		if time.Now().After(deadline) {
			t.Fatalf("kernel never noticed the dead driver")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, _, err := k.Submit(context.Background(), "anything", func(model.LogChunk) {})
	if !errors.Is(err, ErrCrashed) {
		t.Fatalf("Submit() error = %v, want ErrCrashed", err)
	}
}

func TestUnsolicitedOutputDoesNotStallCrashDetection(t *testing.T) {
	k := shellKernel(t, noisyDriver)

	// The flood exceeds the event buffer with no cell in flight; the pump
	// must still reach EOF and flag the crash.
	deadline := time.Now().Add(5 * time.Second)
	for k.IsHealthy() {
		if time.Now().After(deadline) {
			t.Fatalf("pump wedged on unsolicited output, crash never detected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, _, err := k.Submit(context.Background(), "anything", func(model.LogChunk) {})
	if !errors.Is(err, ErrCrashed) {
		t.Fatalf("Submit() error = %v, want ErrCrashed", err)
	}
}

func TestStartFailsForMissingBinary(t *testing.T) {
	k := NewProcessKernel("ghost", []string{"/no/such/interpreter"}, t.TempDir())
	if err := k.Start(context.Background()); err == nil {
		t.Fatalf("Start() should fail for a missing binary")
	}
}

func TestStartFailsWithEmptyArgv(t *testing.T) {
	k := NewProcessKernel("empty", nil, t.TempDir())
	if err := k.Start(context.Background()); err == nil {
		t.Fatalf("Start() should fail with no launch command")
	}
}

func TestStartHandshakeTimeoutKillsProcess(t *testing.T) {
	// Never says ready.
	k := NewProcessKernel("mute", []string{"/bin/sh", "-c", "sleep 60"}, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := k.Start(ctx); err == nil {
		t.Fatalf("Start() should fail when the driver never reports ready")
	}
}

func TestShutdownOnStdinClose(t *testing.T) {
	k := shellKernel(t, echoDriver)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if k.IsHealthy() {
		t.Fatalf("kernel should be unhealthy after shutdown")
	}
}
