package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veriloq/auth-core/internal/service"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
	"github.com/veriloq/auth-core/pkg/response"
)

// ContextUserKey is the gin context key storing access claims.
const ContextUserKey = "currentUser"

// ContextTokenKey stores the raw bearer token for handlers that need to
// blacklist it (logout).
const ContextTokenKey = "currentToken"

// JWT protects routes by requiring a valid, non-blacklisted access token.
// All token failures surface as a single opaque unauthorized response.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
