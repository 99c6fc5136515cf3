package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hellomypastor/OpenSandbox/internal/lifecycle"
	"github.com/hellomypastor/OpenSandbox/internal/logx"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Auth is token-based; origin is not a trust boundary here.
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamLogs serves an execution's log buffer. A WebSocket upgrade gets the
// full prefix followed by live appends and a terminal frame; a plain GET gets
// the snapshot accumulated so far. A client disconnect detaches the reader
// without touching the execution.
func StreamLogs(c *gin.Context, reg *registry.Registry, drain *lifecycle.DrainManager, executionID string) {
	if !isWebSocketUpgrade(c.Request) {
		chunks, err := reg.Logs(executionID)
		if err != nil {
			RenderError(c, err)
			return
		}
		snapshot, err := reg.Snapshot(executionID)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, model.LogsSnapshotResponse{
			ExecutionID: executionID,
			Status:      snapshot.Status,
			Chunks:      chunks,
		})
		return
	}

	cursor, err := reg.NewCursor(executionID)
	if err != nil {
		RenderError(c, err)
		return
	}

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		RenderError(c, model.NewInternalError("failed to upgrade to websocket", err))
		return
	}
	defer ws.Close()

	release := func() {}
	if drain != nil {
		release = drain.TrackStream()
	}
	defer release()

	logger := logx.LoggerWithRequestID(c.Request.Context()).With(
		"component", "gateway_stream", "execution_id", executionID)

	// Detect client disconnect; it only detaches this cursor, never the
	// execution itself.
	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		chunks, done, err := cursor.Next(streamCtx)
		if err != nil {
			logger.Debug("stream reader detached", "error", err)
			return
		}
		for _, chunk := range chunks {
			ts := chunk.TS
			frame := model.StreamFrame{
				Type:   model.FrameTypeLog,
				Stream: chunk.Stream,
				Text:   chunk.Text,
				TS:     &ts,
			}
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		}
		if done {
			break
		}
	}

	writeTerminalFrames(ws, cursor.Execution(), logger)
}

// writeTerminalFrames delivers the structured result or error of a code
// execution, then the final exit frame.
func writeTerminalFrames(ws *websocket.Conn, execution model.Execution, logger *slog.Logger) {
	if execution.Result != nil {
		frame := model.StreamFrame{Type: model.FrameTypeResult, Result: execution.Result}
		if err := ws.WriteJSON(frame); err != nil {
			return
		}
	}
	if execution.Error != nil {
		frame := model.StreamFrame{Type: model.FrameTypeError, Error: execution.Error}
		if err := ws.WriteJSON(frame); err != nil {
			return
		}
	}
	exit := model.StreamFrame{
		Type:     model.FrameTypeExit,
		Status:   execution.Status,
		ExitCode: execution.ExitCode,
	}
	if err := ws.WriteJSON(exit); err != nil {
		logger.Debug("failed to write exit frame", "error", err)
	}
}
