package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/server/app"
)

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checker *app.HealthChecker
}

// Live always returns 200 once the process serves traffic.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs all probes and returns 503 when any component is not ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	components := h.checker.CheckAll(c.Request.Context())
	status := http.StatusOK
	overall := "ready"
	for _, component := range components {
		if component.Status == app.HealthStatusNotReady {
			status = http.StatusServiceUnavailable
			overall = "not_ready"
			break
		}
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}
