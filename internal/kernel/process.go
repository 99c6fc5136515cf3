package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

const (
	// maxEventLine bounds one protocol event; a single print can be large.
	maxEventLine = 4 * 1024 * 1024

	handshakeTimeout = 30 * time.Second
	interruptGrace   = 5 * time.Second
	shutdownGrace    = 5 * time.Second
)

// event is one NDJSON protocol message from the driver.
type event struct {
	Type      string   `json:"type"`
	Language  string   `json:"language,omitempty"`
	Name      string   `json:"name,omitempty"`
	Text      string   `json:"text,omitempty"`
	Data      string   `json:"data,omitempty"`
	Ename     string   `json:"ename,omitempty"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

type request struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// ProcessKernel runs a language driver as a subprocess and speaks the NDJSON
// protocol over its stdin/stdout. The driver's own stderr is diagnostic only;
// user-visible stderr arrives as protocol events.
type ProcessKernel struct {
	language string
	argv     []string
	workdir  string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan event

	// consuming is set while a reader (handshake or submission) drains the
	// event channel; without one the pump drops overflow instead of blocking.
	consuming atomic.Bool

	// crashed is closed once when the stdout pump sees EOF.
	crashed   chan struct{}
	crashOnce sync.Once

	mu sync.Mutex
}

func NewProcessKernel(language string, argv []string, workdir string) *ProcessKernel {
	return &ProcessKernel{
		language: language,
		argv:     argv,
		workdir:  workdir,
		events:   make(chan event, 64),
		crashed:  make(chan struct{}),
	}
}

func (k *ProcessKernel) Start(ctx context.Context) error {
	if len(k.argv) == 0 {
		return fmt.Errorf("kernel %s has no launch command", k.language)
	}

	cmd := exec.Command(k.argv[0], k.argv[1:]...)
	cmd.Dir = k.workdir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open kernel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open kernel stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open kernel stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start kernel %s: %w", k.language, err)
	}
	k.cmd = cmd
	k.stdin = stdin

	go k.pumpEvents(stdout)
	go k.pumpStderr(stderr)
	go func() {
		// Reap the process; crash detection happens on stdout EOF.
		_ = cmd.Wait()
	}()

	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := k.awaitReady(handshakeCtx); err != nil {
		k.killProcess()
		return fmt.Errorf("kernel %s handshake failed: %w", k.language, err)
	}

	slog.Info("kernel ready", "component", "kernel", "language", k.language, "pid", cmd.Process.Pid)
	return nil
}

func (k *ProcessKernel) awaitReady(ctx context.Context) error {
	k.consuming.Store(true)
	defer k.consuming.Store(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-k.events:
			if !ok {
				return ErrCrashed
			}
			if ev.Type == "ready" {
				return nil
			}
			// Drop pre-ready noise (interpreter banners etc).
		}
	}
}

func (k *ProcessKernel) Submit(ctx context.Context, code string, sink OutputSink) (*model.CodeResult, *model.ExecutionError, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.IsHealthy() {
		return nil, nil, ErrCrashed
	}

	k.consuming.Store(true)
	defer k.consuming.Store(false)

	req := request{ID: uuid.NewString(), Code: code}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode submission: %w", err)
	}
	if _, err := k.stdin.Write(append(line, '\n')); err != nil {
		return nil, nil, ErrCrashed
	}

	interrupted := false
	for {
		select {
		case <-ctx.Done():
			if interrupted {
				// The kernel ignored the interrupt; it is wedged.
				k.killProcess()
				return nil, nil, ErrCrashed
			}
			interrupted = true
			k.Interrupt()
			// Give the driver a bounded window to surface the abort as
			// a code-level error before escalating.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), interruptGrace)
			defer cancel()

		case ev, ok := <-k.events:
			if !ok {
				return nil, nil, ErrCrashed
			}
			switch ev.Type {
			case "stream":
				name := model.StreamStdout
				if ev.Name == "stderr" {
					name = model.StreamStderr
				}
				sink(model.LogChunk{Stream: name, Text: ev.Text, TS: time.Now().UTC()})
			case "result":
				return &model.CodeResult{Data: ev.Data}, nil, nil
			case "error":
				return nil, &model.ExecutionError{
					Name:      ev.Ename,
					Message:   ev.Evalue,
					Traceback: ev.Traceback,
				}, nil
			}
		}
	}
}

// Interrupt signals the kernel to abort the running cell. Drivers that can
// (python) surface it as a code-level error and stay alive; drivers that
// cannot die and take the crash path.
func (k *ProcessKernel) Interrupt() {
	if k.cmd != nil && k.cmd.Process != nil {
		_ = k.cmd.Process.Signal(os.Interrupt)
	}
}

func (k *ProcessKernel) Shutdown(ctx context.Context) error {
	if k.cmd == nil {
		return nil
	}
	// Drivers exit on stdin EOF.
	_ = k.stdin.Close()

	select {
	case <-k.crashed:
		return nil
	case <-time.After(shutdownGrace):
	case <-ctx.Done():
	}
	k.killProcess()
	return nil
}

func (k *ProcessKernel) IsHealthy() bool {
	select {
	case <-k.crashed:
		return false
	default:
		return k.cmd != nil
	}
}

func (k *ProcessKernel) pumpEvents(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Warn("kernel emitted malformed event",
				"component", "kernel", "language", k.language, "error", err)
			continue
		}
		if k.consuming.Load() {
			k.events <- ev
			continue
		}
		// Unsolicited output between cells. With nobody draining, a full
		// buffer must not wedge the pump and stall crash detection.
		select {
		case k.events <- ev:
		default:
		}
	}
	k.crashOnce.Do(func() {
		close(k.crashed)
		close(k.events)
	})
}

func (k *ProcessKernel) pumpStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		slog.Debug("kernel stderr",
			"component", "kernel", "language", k.language, "line", scanner.Text())
	}
}

func (k *ProcessKernel) killProcess() {
	if k.cmd != nil && k.cmd.Process != nil {
		_ = k.cmd.Process.Kill()
	}
}
