package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/fileops"
	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

type FileHandler struct {
	sandboxID string
	files     *fileops.Service
}

func NewFileHandler(sandboxID string, files *fileops.Service) *FileHandler {
	return &FileHandler{sandboxID: sandboxID, files: files}
}

func (h *FileHandler) RegisterRoutes(r *gin.RouterGroup) {
	files := r.Group("/sandboxes/:id/files")
	{
		files.POST("", h.Write)
		files.GET("", h.Read)
		files.DELETE("", h.Delete)
		files.GET("/list", h.List)
	}
}

func (h *FileHandler) Write(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	var req model.WriteFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		gateway.RenderError(c, model.NewValidationError("invalid request: %v", err))
		return
	}
	if len(req.Entries) == 0 {
		gateway.RenderError(c, model.NewValidationError("entries must not be empty"))
		return
	}

	results := h.files.WriteFiles(req.Entries)
	c.JSON(http.StatusOK, model.WriteFilesResponse{Results: results})
}

func (h *FileHandler) Read(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	path := c.Query("path")
	if path == "" {
		gateway.RenderError(c, model.NewValidationError("path is required"))
		return
	}

	content, err := h.files.ReadFile(path)
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

func (h *FileHandler) List(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	path := c.DefaultQuery("path", "/")
	items, err := h.files.List(path)
	if err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.FileListResponse{Items: items})
}

func (h *FileHandler) Delete(c *gin.Context) {
	if !requireSandbox(c, h.sandboxID) {
		return
	}

	path := c.Query("path")
	if path == "" {
		gateway.RenderError(c, model.NewValidationError("path is required"))
		return
	}

	if err := h.files.Delete(path); err != nil {
		gateway.RenderError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}
