package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/affsync/models"
)

// KeyContext is the gin context key holding the caller's API key.
const KeyContext = "api_key"

// Auth returns API-key authentication middleware.
//
// Accepts either header style:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// With no keys configured every request is rejected, so an empty key list
// never opens the run endpoints by accident.
func Auth(apiKeys []string) gin.HandlerFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			Abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}
		if !validKey(keys, key) {
			Abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}

		c.Set(KeyContext, key)
		c.Next()
	}
}

func validKey(keys [][]byte, key string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// Abort ends the request with the standard error body.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.APIError{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
