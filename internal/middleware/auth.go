package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noteforge/noteforge/internal/authclient"
	"github.com/noteforge/noteforge/internal/models"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
	"github.com/noteforge/noteforge/pkg/response"
)

// ContextPrincipalKey is the gin context key storing the validated principal.
const ContextPrincipalKey = "currentPrincipal"

// Auth protects routes by requiring a valid access token. Validation is local
// and never blocks on the auth service.
func Auth(validator authclient.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid authorization header"))
			c.Abort()
			return
		}

		principal, err := validator.Validate(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is present but does
// not block.
func OptionalAuth(validator authclient.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		principal, err := validator.Validate(raw)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated principal stored on the context.
func PrincipalFrom(c *gin.Context) (*models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*models.Principal)
	return principal, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
