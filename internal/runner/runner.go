package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// Runner launches and supervises shell command subprocesses. Output is pushed
// into the registry chunk by chunk as it arrives; readers stream it live.
// Invocations run concurrently without an artificial cap.
type Runner struct {
	reg *registry.Registry

	defaultTimeout time.Duration
	gracePeriod    time.Duration

	mu    sync.Mutex
	procs map[string]*process
}

type killReason int

const (
	killNone killReason = iota
	killTimeout
	killCancel
)

type process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	reason killReason
}

func New(reg *registry.Registry, defaultTimeout, gracePeriod time.Duration) *Runner {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	return &Runner{
		reg:            reg,
		defaultTimeout: defaultTimeout,
		gracePeriod:    gracePeriod,
		procs:          make(map[string]*process),
	}
}

// Run registers an execution and launches the command. It returns as soon as
// the subprocess is started; the caller observes progress through the
// registry. The command runs in its own process group so timeout and cancel
// can kill the whole tree.
func (r *Runner) Run(req *model.RunCommandRequest) (*model.Execution, error) {
	execution := r.reg.Create(model.ExecutionKindCommand, "", req.Command)

	cmd := exec.Command("/bin/sh", "-c", req.Command)
	cmd.Dir = req.Workdir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failStart(execution, fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failStart(execution, fmt.Errorf("failed to open stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return r.failStart(execution, fmt.Errorf("failed to start command: %w", err))
	}

	if err := r.reg.SetRunning(execution.ID); err != nil {
		slog.Error("failed to mark execution running",
			"component", "runner", "execution_id", execution.ID, "error", err)
	}

	proc := &process{cmd: cmd, done: make(chan struct{})}
	r.mu.Lock()
	r.procs[execution.ID] = proc
	r.mu.Unlock()

	timeout := r.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	timer := time.AfterFunc(timeout, func() {
		r.kill(execution.ID, proc, killTimeout)
	})

	var pumps sync.WaitGroup
	pumps.Add(2)
	go r.pump(execution.ID, model.StreamStdout, stdout, &pumps)
	go r.pump(execution.ID, model.StreamStderr, stderr, &pumps)

	go r.supervise(execution.ID, proc, timer, &pumps)

	snapshot, err := r.reg.Snapshot(execution.ID)
	if err != nil {
		return execution, nil
	}
	return snapshot, nil
}

// Cancel requests termination of a running command. Unknown or already
// terminal executions are a no-op: cancellation is idempotent.
func (r *Runner) Cancel(executionID string) {
	r.mu.Lock()
	proc := r.procs[executionID]
	r.mu.Unlock()
	if proc == nil {
		return
	}
	r.kill(executionID, proc, killCancel)
}

func (r *Runner) failStart(execution *model.Execution, err error) (*model.Execution, error) {
	_, _ = r.reg.Finish(execution.ID, model.ExecutionStatusFailed, registry.FinishState{
		Error: &model.ExecutionError{Message: err.Error()},
	})
	snapshot, snapErr := r.reg.Snapshot(execution.ID)
	if snapErr != nil {
		return execution, nil
	}
	return snapshot, nil
}

// pump copies one stream into the registry as it arrives, preserving chunk
// arrival order. Chunks are timestamped at read time so stdout/stderr
// interleave correctly for readers.
func (r *Runner) pump(executionID string, stream model.StreamName, src io.Reader, pumps *sync.WaitGroup) {
	defer pumps.Done()
	buf := make([]byte, 8192)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			appendErr := r.reg.AppendLog(executionID, model.LogChunk{
				Stream: stream,
				Text:   string(buf[:n]),
				TS:     time.Now().UTC(),
			})
			if appendErr != nil {
				slog.Error("failed to append log chunk",
					"component", "runner", "execution_id", executionID, "error", appendErr)
			}
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) supervise(executionID string, proc *process, timer *time.Timer, pumps *sync.WaitGroup) {
	// Pipes must be drained before Wait closes them.
	pumps.Wait()
	waitErr := proc.cmd.Wait()
	timer.Stop()
	close(proc.done)

	r.mu.Lock()
	delete(r.procs, executionID)
	r.mu.Unlock()

	proc.mu.Lock()
	reason := proc.reason
	proc.mu.Unlock()

	var status model.ExecutionStatus
	state := registry.FinishState{}

	switch reason {
	case killTimeout:
		status = model.ExecutionStatusTimedOut
		state.Error = &model.ExecutionError{Message: "command timed out"}
	case killCancel:
		status = model.ExecutionStatusCancelled
		state.Error = &model.ExecutionError{Message: "command cancelled"}
	default:
		// A non-zero exit is a normal completed execution; the caller
		// inspects the exit code.
		exitCode := 0
		if waitErr != nil {
			exitErr, ok := waitErr.(*exec.ExitError)
			if !ok {
				status = model.ExecutionStatusFailed
				state.Error = &model.ExecutionError{Message: waitErr.Error()}
				break
			}
			exitCode = exitErr.ExitCode()
		}
		status = model.ExecutionStatusCompleted
		state.ExitCode = &exitCode
	}

	if status == model.ExecutionStatusTimedOut || status == model.ExecutionStatusCancelled {
		if code := exitCodeOf(waitErr); code != nil {
			state.ExitCode = code
		}
	}

	applied, err := r.reg.Finish(executionID, status, state)
	if err != nil {
		slog.Error("failed to finish execution",
			"component", "runner", "execution_id", executionID, "error", err)
		return
	}
	if applied {
		slog.Info("command finished",
			"component", "runner", "execution_id", executionID, "status", status)
	}
}

// kill escalates SIGTERM -> grace period -> SIGKILL against the whole
// process group. The first reason to arrive wins; later kills are no-ops.
func (r *Runner) kill(executionID string, proc *process, reason killReason) {
	proc.mu.Lock()
	if proc.reason != killNone {
		proc.mu.Unlock()
		return
	}
	proc.reason = reason
	proc.mu.Unlock()

	pid := proc.cmd.Process.Pid
	slog.Info("terminating command",
		"component", "runner", "execution_id", executionID, "pid", pid,
		"timeout", reason == killTimeout)

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-proc.done:
		return
	case <-time.After(r.gracePeriod):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeOf(waitErr error) *int {
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return &code
	}
	return nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	merged = append(merged, base...)
	for key, value := range overrides {
		merged = append(merged, key+"="+value)
	}
	return merged
}
