package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// requireSandbox validates the sandbox id on sandbox-scoped routes. Exactly
// one daemon runs per sandbox; a request for any other id is a lookup
// failure, rejected before any side effect.
func requireSandbox(c *gin.Context, sandboxID string) bool {
	if id := c.Param("id"); id != sandboxID {
		gateway.RenderError(c, model.NewNotFoundError("sandbox %s not found", id))
		return false
	}
	return true
}
