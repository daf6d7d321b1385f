package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/shared/config"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/api/v1/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func TestNewRouterServesHealthMetricsAndRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(config.Config{Env: "dev", CORSAllowOrigin: []string{"http://localhost:8081"}}, pingRoutes{})

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/health", contains: `"ok":true`},
		{path: "/metrics", contains: "signalcraft_uploads_total"},
		{path: "/api/v1/ping", contains: "pong"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), tt.contains) {
				t.Fatalf("expected body to contain %q, got %s", tt.contains, resp.Body.String())
			}
			if resp.Header().Get("X-Request-Id") == "" {
				t.Fatalf("expected X-Request-Id header")
			}
		})
	}
}

func TestAddr(t *testing.T) {
	tests := []struct{ in, want string }{{"", ":8090"}, {"9000", ":9000"}, {":7000", ":7000"}}
	for _, tt := range tests {
		if got := Addr(tt.in); got != tt.want {
			t.Fatalf("expected %s, got %s", tt.want, got)
		}
	}
}
