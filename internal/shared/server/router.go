package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/shared/config"
	"signalcraft-client/internal/shared/metrics"
	"signalcraft-client/internal/shared/server/middleware"
	"signalcraft-client/internal/shared/server/respond"
)

// Routes registers a feature's handlers on the engine root group.
type Routes interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// NewRouter constructs the Gin engine with middleware, health and metrics
// registered, then mounts routes.
func NewRouter(cfg config.Config, routes ...Routes) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true, "env": cfg.Env, "demo_mode": cfg.DemoMode})
	})
	r.GET("/metrics", metrics.Handler())

	root := r.Group("")
	for _, rt := range routes {
		rt.RegisterRoutes(root)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8090"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
