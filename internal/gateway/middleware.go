package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/logx"
	"github.com/hellomypastor/OpenSandbox/internal/security"
	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

const accessTokenHeader = "X-Access-Token"

// AuthMiddleware authenticates every request against the sandbox access
// token the orchestrator injected at daemon start. Only the token's hash is
// held in memory.
func AuthMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logx.LoggerWithRequestID(c.Request.Context()).With("component", "gateway_auth")

		token := ""
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.GetHeader(accessTokenHeader)
		}
		// WebSocket clients cannot always set headers; accept the token
		// as a query parameter on upgrade requests.
		if token == "" && isWebSocketUpgrade(c.Request) {
			token = c.Query("access_token")
		}

		if token == "" {
			logger.Warn("missing access token", "path", c.Request.URL.Path)
			abortWithError(c, &model.APIError{
				Code:    model.ErrCodeUnauthorized,
				Message: "missing access token",
			})
			return
		}

		if !security.VerifyToken(token, tokenHash) {
			logger.Warn("invalid access token", "path", c.Request.URL.Path)
			abortWithError(c, &model.APIError{
				Code:    model.ErrCodeUnauthorized,
				Message: "invalid access token",
			})
			return
		}

		c.Next()
	}
}

// DrainMiddleware rejects new work while the daemon drains; health endpoints
// and already-attached streams are unaffected.
func DrainMiddleware(isDraining func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isDraining() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "daemon is draining",
			})
			return
		}
		c.Next()
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// abortWithError renders the uniform error record with its mapped HTTP
// status.
func abortWithError(c *gin.Context, err *model.APIError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{
		"code":  err.Code,
		"error": err.Message,
	})
}

// RenderError maps any error to the wire taxonomy and writes it.
func RenderError(c *gin.Context, err error) {
	abortWithError(c, model.AsAPIError(err))
}
