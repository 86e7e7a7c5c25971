// Package http exposes the task and session API over gin: JSON REST for
// lifecycle operations, SSE and WebSocket for live task streams.
package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden/internal/logging"
	"warden/internal/scheduler"
	"warden/internal/server/app"
	"warden/internal/session"
)

// Deps wires the handlers to the application services.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Sessions    session.Store
	Broadcaster *app.Broadcaster
	Health      *app.HealthChecker
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         logging.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logging.OrNop(deps.Logger)))

	if len(deps.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = deps.AllowedOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsConfig))
	}

	tasks := &TaskHandler{
		scheduler:   deps.Scheduler,
		broadcaster: deps.Broadcaster,
		logger:      logging.OrNop(deps.Logger),
	}
	sessions := &SessionHandler{
		store:  deps.Sessions,
		logger: logging.OrNop(deps.Logger),
	}
	stream := NewStreamHandler(deps.Broadcaster, deps.Scheduler, deps.AllowedOrigins, deps.Logger)
	health := &HealthHandler{checker: deps.Health}

	engine.GET("/health", health.Live)
	engine.GET("/ready", health.Ready)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api")
	{
		api.POST("/tasks", tasks.Submit)
		api.GET("/tasks", tasks.List)
		api.GET("/tasks/:id", tasks.Get)
		api.DELETE("/tasks/:id", tasks.Cancel)
		api.GET("/tasks/:id/events", tasks.Events)
		api.GET("/tasks/:id/stream", stream.SSE)
		api.GET("/tasks/:id/ws", stream.WebSocket)

		api.POST("/sessions", sessions.Create)
		api.GET("/sessions", sessions.List)
		api.GET("/sessions/:id", sessions.Get)
		api.DELETE("/sessions/:id", sessions.Delete)
	}

	return engine
}

// requestLogger logs one line per request in the shared logger format.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http: %s %s -> %d in %s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
