package handler

import (
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/config"
	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/internal/store"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// SandboxHandler serves the daemon's own sandbox metadata and the persisted
// execution history.
type SandboxHandler struct {
	cfg     *config.Config
	history *store.ExecutionStore
	sandbox model.Sandbox
}

func NewSandboxHandler(cfg *config.Config, history *store.ExecutionStore) *SandboxHandler {
	envKeys := make([]string, 0)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			envKeys = append(envKeys, kv[:i])
		}
	}
	sort.Strings(envKeys)

	return &SandboxHandler{
		cfg:     cfg,
		history: history,
		sandbox: model.Sandbox{
			ID:         cfg.SandboxID,
			Image:      cfg.SandboxImage,
			Entrypoint: cfg.SandboxEntrypoint,
			State:      model.SandboxStateRunning,
			EnvKeys:    envKeys,
			CreatedAt:  time.Now().UTC(),
			ExpiresAt:  cfg.SandboxExpiresAt,
		},
	}
}

func (h *SandboxHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sandboxes/:id", h.Get)
	r.GET("/sandboxes/:id/executions", h.ListExecutions)
}

func (h *SandboxHandler) Get(c *gin.Context) {
	if !requireSandbox(c, h.cfg.SandboxID) {
		return
	}
	c.JSON(http.StatusOK, h.sandbox)
}

// ListExecutions returns recent terminal executions from the history store,
// newest first.
func (h *SandboxHandler) ListExecutions(c *gin.Context) {
	if !requireSandbox(c, h.cfg.SandboxID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	records, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		gateway.RenderError(c, model.NewInternalError("failed to list execution history", err))
		return
	}

	items := make([]model.Execution, 0, len(records))
	for _, rec := range records {
		items = append(items, *rec.Snapshot())
	}
	c.JSON(http.StatusOK, model.ExecutionListResponse{Items: items})
}
