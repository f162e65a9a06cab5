package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly restricts access to localhost plus a whitelist of IP
// addresses or CIDR ranges
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string
}

// NewLocalhostOnly creates a new IP restriction middleware
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	return &LocalhostOnly{
		logger:     logger,
		allowedIPs: allowedIPs,
	}
}

// Restrict rejects requests from addresses outside the whitelist
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if l.isAllowed(clientIP) {
			c.Next()
			return
		}

		l.logger.WithFields(logrus.Fields{
			"client_ip": clientIP,
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		}).Warn("Access denied - IP not whitelisted")

		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Access denied",
			"code":    "IP_NOT_ALLOWED",
		})
		c.Abort()
	}
}

func (l *LocalhostOnly) isAllowed(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	for _, allowed := range l.allowedIPs {
		if _, cidr, err := net.ParseCIDR(allowed); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(ip) {
			return true
		}
	}
	return false
}
