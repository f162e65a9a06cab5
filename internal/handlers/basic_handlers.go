package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SignerHealthChecker reports availability of the MPC signing backend
type SignerHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckHandler liveness probe. The API itself is healthy as long as it
// answers; the signer's state is reported alongside so a degraded dependency
// shows up without failing the probe.
// GET /health
func HealthCheckHandler(signer SignerHealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		signerStatus := "unconfigured"

		if signer != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			if err := signer.HealthCheck(ctx); err != nil {
				status = "degraded"
				signerStatus = err.Error()
			} else {
				signerStatus = "healthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"service": "anypay-backend",
			"api":     "healthy",
			"signer":  signerStatus,
		})
	}
}

// PingHandler connectivity check
// GET /ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}
