package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"anypay-backend/internal/config"
	"anypay-backend/internal/handlers"
	"anypay-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS middleware
// Priority: Environment Variable > YAML Config > Default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := true
		maxAge := 3600

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = allowedOrigins[:0]
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		originAllowed := func() bool {
			if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					return true
				}
			}
			return false
		}

		if !originAllowed() && origin != "" {
			logrus.WithFields(logrus.Fields{
				"request_origin":  origin,
				"allowed_origins": allowedOrigins,
				"path":            c.Request.URL.Path,
				"method":          c.Request.Method,
			}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept, X-PAYMENT")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-PAYMENT-RESPONSE")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SetupRouter wires the relayer API, operator endpoints and observability
// routes
func SetupRouter(relayerHandler *handlers.RelayerHandler, adminHandler *handlers.AdminHandler, signer handlers.SignerHealthChecker) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	logger := logrus.New()
	var allowedIPs []string
	if config.AppConfig != nil && len(config.AppConfig.Admin.AllowedIPs) > 0 {
		allowedIPs = config.AppConfig.Admin.AllowedIPs
		logger.WithFields(logrus.Fields{
			"allowed_ips": allowedIPs,
			"count":       len(allowedIPs),
		}).Info("Operator API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}

	localhostOnly := middleware.NewLocalhostOnly(logger, allowedIPs)
	adminAuth := middleware.NewAdminAuthMiddleware(logger)

	r.GET("/ping", handlers.PingHandler)
	r.GET("/health", handlers.HealthCheckHandler(signer))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	relayer := r.Group("/api/relayer")
	{
		relayer.POST("/register-deposit", relayerHandler.RegisterDeposit)
		relayer.POST("/check-deposit", relayerHandler.CheckDeposit)
		relayer.POST("/submit-tx-hash", relayerHandler.SubmitTxHash)
		relayer.POST("/execute-x402", relayerHandler.ExecuteX402)
		relayer.POST("/refund", relayerHandler.Refund)
		relayer.GET("/get-tokens", relayerHandler.GetTokens)

		// Operator endpoints: IP whitelist plus bearer token
		operator := relayer.Group("")
		operator.Use(localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			operator.GET("/deposits", adminHandler.ListDeposits)
			operator.POST("/sweep", adminHandler.TriggerSweep)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Route not found",
			"path":  c.Request.URL.Path,
		})
	})

	return r
}
