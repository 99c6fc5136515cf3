package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/security"
)

func authRouter(tokenHash string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(tokenHash))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	hash := security.HashToken("the-token")
	r := authRouter(hash)

	tests := []struct {
		name    string
		arrange func(req *http.Request)
		want    int
	}{
		{
			name:    "missing token",
			arrange: func(req *http.Request) {},
			want:    http.StatusUnauthorized,
		},
		{
			name: "wrong bearer token",
			arrange: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer nope")
			},
			want: http.StatusUnauthorized,
		},
		{
			name: "valid bearer token",
			arrange: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer the-token")
			},
			want: http.StatusOK,
		},
		{
			name: "valid access token header",
			arrange: func(req *http.Request) {
				req.Header.Set("X-Access-Token", "the-token")
			},
			want: http.StatusOK,
		},
		{
			name: "query token rejected without upgrade",
			arrange: func(req *http.Request) {
				q := req.URL.Query()
				q.Set("access_token", "the-token")
				req.URL.RawQuery = q.Encode()
			},
			want: http.StatusUnauthorized,
		},
		{
			name: "query token accepted on websocket upgrade",
			arrange: func(req *http.Request) {
				q := req.URL.Query()
				q.Set("access_token", "the-token")
				req.URL.RawQuery = q.Encode()
				req.Header.Set("Upgrade", "websocket")
				req.Header.Set("Connection", "Upgrade")
			},
			want: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			tt.arrange(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestDrainMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	draining := false
	r := gin.New()
	r.Use(DrainMiddleware(func() bool { return draining }))
	r.GET("/work", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/work", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 before drain", w.Code)
	}

	draining = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/work", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while draining", w.Code)
	}
}
