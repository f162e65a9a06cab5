package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"anypay-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// OperatorClaims JWT claims carried by operator tokens
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuthMiddleware guards operator endpoints with bearer token auth
type AdminAuthMiddleware struct {
	logger *logrus.Logger
}

// NewAdminAuthMiddleware creates a new admin auth middleware
func NewAdminAuthMiddleware(logger *logrus.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{logger: logger}
}

// RequireAdminAuth validates the bearer token and the operator role
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Admin auth failed - missing Authorization header")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Admin auth failed - invalid Authorization format")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid authorization format, need Bearer token",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := ValidateOperatorToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Admin auth failed - invalid token")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		if claims.Role != "admin" && claims.Role != "operator" {
			a.logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"role": claims.Role,
			}).Warn("Admin auth failed - insufficient permissions")

			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			c.Abort()
			return
		}

		c.Set("operator_username", claims.Username)
		c.Set("operator_role", claims.Role)
		c.Next()
	}
}

// ValidateOperatorToken parses and validates an operator JWT
func ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	if config.AppConfig == nil || config.AppConfig.Admin.JWTSecret == "" {
		return nil, fmt.Errorf("operator auth not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.Admin.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
