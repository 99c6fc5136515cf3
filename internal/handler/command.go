package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/internal/lifecycle"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/internal/runner"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

type CommandHandler struct {
	sandboxID  string
	runner     *runner.Runner
	reg        *registry.Registry
	drainState *lifecycle.DrainManager
}

func NewCommandHandler(sandboxID string, r *runner.Runner, reg *registry.Registry, drainState *lifecycle.DrainManager) *CommandHandler {
	return &CommandHandler{sandboxID: sandboxID, runner: r, reg: reg, drainState: drainState}
}

func (h *CommandHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sandboxes/:id/commands", h.Run)
	commands := r.Group("/commands")
	{
		commands.GET("/:id", h.Get)
		commands.GET("/:id/logs", h.Logs)
		commands.POST("/:id/cancel", h.Cancel)
	}
}

func (h *CommandHandler) Run(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	var req model.RunCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		gateway.RenderError(c, model.NewValidationError("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		gateway.RenderError(c, model.NewValidationError("command is required"))
		return
	}
	if req.TimeoutSeconds < 0 {
		gateway.RenderError(c, model.NewValidationError("timeout_seconds must not be negative"))
		return
	}

	execution, err := h.runner.Run(&req)
	if err != nil {
		gateway.RenderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.ExecutionCreatedResponse{ExecutionID: execution.ID})
}

func (h *CommandHandler) Get(c *gin.Context) {
	snapshot, err := h.reg.Snapshot(c.Param("id"))
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *CommandHandler) Logs(c *gin.Context) {
	gateway.StreamLogs(c, h.reg, h.drainState, c.Param("id"))
}

// Cancel is idempotent: cancelling an unknown or already terminal execution
// is a no-op success.
func (h *CommandHandler) Cancel(c *gin.Context) {
	h.runner.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested"})
}
