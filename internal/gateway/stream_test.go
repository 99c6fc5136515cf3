package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hellomypastor/OpenSandbox/internal/lifecycle"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

func streamServer(t *testing.T) (*httptest.Server, *registry.Registry, *lifecycle.DrainManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New("sbx-test", nil, registry.Options{Retention: time.Minute, MaxRecords: 64})
	drain := lifecycle.NewDrainManager()

	r := gin.New()
	r.GET("/executions/:id/logs", func(c *gin.Context) {
		StreamLogs(c, reg, drain, c.Param("id"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg, drain
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestStreamLogsSnapshotWithoutUpgrade(t *testing.T) {
	srv, reg, _ := streamServer(t)

	execution := reg.Create(model.ExecutionKindCommand, "", "echo hi")
	_ = reg.SetRunning(execution.ID)
	_ = reg.AppendLog(execution.ID, model.LogChunk{Stream: model.StreamStdout, Text: "partial"})

	resp, err := http.Get(srv.URL + "/executions/" + execution.ID + "/logs")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snapshot model.LogsSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if snapshot.Status != model.ExecutionStatusRunning {
		t.Fatalf("status = %s, want running", snapshot.Status)
	}
	if len(snapshot.Chunks) != 1 || snapshot.Chunks[0].Text != "partial" {
		t.Fatalf("chunks = %+v", snapshot.Chunks)
	}
}

func TestStreamLogsUnknownExecution(t *testing.T) {
	srv, _, _ := streamServer(t)

	resp, err := http.Get(srv.URL + "/executions/no-such-id/logs")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamLogsWebSocketDeliversPrefixLiveAndExit(t *testing.T) {
	srv, reg, _ := streamServer(t)

	execution := reg.Create(model.ExecutionKindCode, "ctx-1", "print('hi')")
	_ = reg.SetRunning(execution.ID)
	_ = reg.AppendLog(execution.ID, model.LogChunk{Stream: model.StreamStdout, Text: "before "})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/executions/"+execution.ID+"/logs"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	go func() {
		_ = reg.AppendLog(execution.ID, model.LogChunk{Stream: model.StreamStdout, Text: "after"})
		code := 0
		_, _ = reg.Finish(execution.ID, model.ExecutionStatusCompleted, registry.FinishState{
			ExitCode: &code,
			Result:   &model.CodeResult{Data: "42"},
		})
	}()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var logText string
	var sawResult bool
	for {
		var frame model.StreamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON() error = %v (got %q so far)", err, logText)
		}
		switch frame.Type {
		case model.FrameTypeLog:
			logText += frame.Text
		case model.FrameTypeResult:
			sawResult = true
			if frame.Result == nil || frame.Result.Data != "42" {
				t.Fatalf("result frame = %+v", frame)
			}
		case model.FrameTypeExit:
			if frame.Status != model.ExecutionStatusCompleted {
				t.Fatalf("exit status = %s, want completed", frame.Status)
			}
			if frame.ExitCode == nil || *frame.ExitCode != 0 {
				t.Fatalf("exit code = %v, want 0", frame.ExitCode)
			}
			if logText != "before after" {
				t.Fatalf("log text = %q, want %q", logText, "before after")
			}
			if !sawResult {
				t.Fatalf("result frame missing before exit")
			}
			return
		default:
			t.Fatalf("unexpected frame %+v", frame)
		}
	}
}

func TestStreamLogsWebSocketOnTerminalExecution(t *testing.T) {
	srv, reg, _ := streamServer(t)

	execution := reg.Create(model.ExecutionKindCommand, "", "false")
	_ = reg.SetRunning(execution.ID)
	_ = reg.AppendLog(execution.ID, model.LogChunk{Stream: model.StreamStderr, Text: "boom"})
	code := 1
	_, _ = reg.Finish(execution.ID, model.ExecutionStatusCompleted, registry.FinishState{ExitCode: &code})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/executions/"+execution.ID+"/logs"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	// A late attach still replays the whole buffer before the exit frame.
	var frames []model.StreamFrame
	for {
		var frame model.StreamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		frames = append(frames, frame)
		if frame.Type == model.FrameTypeExit {
			break
		}
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want log + exit", len(frames))
	}
	if frames[0].Type != model.FrameTypeLog || frames[0].Text != "boom" {
		t.Fatalf("first frame = %+v", frames[0])
	}
	if frames[1].ExitCode == nil || *frames[1].ExitCode != 1 {
		t.Fatalf("exit frame = %+v", frames[1])
	}
}

func TestStreamTrackingReleasesOnDisconnect(t *testing.T) {
	srv, reg, drain := streamServer(t)

	execution := reg.Create(model.ExecutionKindCommand, "", "sleep")
	_ = reg.SetRunning(execution.ID)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/executions/"+execution.ID+"/logs"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for drain.ActiveStreams() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never tracked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ws.Close()
	deadline = time.Now().Add(2 * time.Second)
	for drain.ActiveStreams() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream not released after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The execution itself is untouched by the disconnect.
	snapshot, err := reg.Snapshot(execution.ID)
	if err != nil || snapshot.Status != model.ExecutionStatusRunning {
		t.Fatalf("execution = %+v, %v", snapshot, err)
	}
}
