package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/internal/lifecycle"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/internal/session"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

type CodeHandler struct {
	sandboxID  string
	sessions   *session.Manager
	reg        *registry.Registry
	drainState *lifecycle.DrainManager
}

func NewCodeHandler(sandboxID string, sessions *session.Manager, reg *registry.Registry, drainState *lifecycle.DrainManager) *CodeHandler {
	return &CodeHandler{sandboxID: sandboxID, sessions: sessions, reg: reg, drainState: drainState}
}

func (h *CodeHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sandboxes/:id/contexts", h.CreateContext)
	r.GET("/sandboxes/:id/contexts", h.ListContexts)

	contexts := r.Group("/contexts")
	{
		contexts.GET("/:id", h.GetContext)
		contexts.DELETE("/:id", h.CloseContext)
		contexts.POST("/:id/codes", h.Submit)
	}

	codes := r.Group("/codes")
	{
		codes.GET("/:id", h.Get)
		codes.GET("/:id/logs", h.Logs)
		codes.POST("/:id/cancel", h.Cancel)
	}
}

func (h *CodeHandler) CreateContext(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	var req model.CreateContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		gateway.RenderError(c, model.NewValidationError("invalid request: %v", err))
		return
	}

	created, err := h.sessions.Create(c.Request.Context(), strings.ToLower(req.Language))
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *CodeHandler) ListContexts(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}
	c.JSON(http.StatusOK, model.ContextListResponse{Items: h.sessions.List()})
}

func (h *CodeHandler) GetContext(c *gin.Context) {
	snapshot, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *CodeHandler) CloseContext(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (h *CodeHandler) Submit(c *gin.Context) {
	var req model.SubmitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		gateway.RenderError(c, model.NewValidationError("invalid request: %v", err))
		return
	}
	if req.TimeoutSeconds < 0 {
		gateway.RenderError(c, model.NewValidationError("timeout_seconds must not be negative"))
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	execution, err := h.sessions.Submit(c.Param("id"), req.Code, timeout)
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.ExecutionCreatedResponse{ExecutionID: execution.ID})
}

func (h *CodeHandler) Get(c *gin.Context) {
	snapshot, err := h.reg.Snapshot(c.Param("id"))
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *CodeHandler) Logs(c *gin.Context) {
	gateway.StreamLogs(c, h.reg, h.drainState, c.Param("id"))
}

// Cancel removes a queued cell or interrupts the running one; unknown or
// terminal executions are a no-op success.
func (h *CodeHandler) Cancel(c *gin.Context) {
	h.sessions.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested"})
}
