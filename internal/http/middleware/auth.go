package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/services"
)

const principalKey = "principal"

// publicPaths require no credential; the gateway forwards them untouched.
var publicPaths = map[string]bool{
	"/api/auth/register":               true,
	"/api/auth/login":                  true,
	"/api/auth/oauth2/success":         true,
	"/api/auth/verify-account":         true,
	"/api/auth/resend-verification":    true,
	"/api/auth/reset-password-request": true,
	"/api/auth/reset-password":         true,
	"/healthz":                         true,
}

// AuthMiddleware is the identity gateway: it resolves a bearer token to a
// principal before any handler runs. A bad token or an unknown subject stops
// the request with 401; an absent token on a protected path is forwarded so
// the handler can reject it.
type AuthMiddleware struct {
	log         *logger.Logger
	tokens      services.TokenService
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, tokens services.TokenService, authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		log:         log.With("Middleware", "AuthMiddleware"),
		tokens:      tokens,
		authService: authService,
	}
}

func (am *AuthMiddleware) Gateway() gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tokenString := extractBearer(c)
		if tokenString == "" {
			c.Next()
			return
		}

		subject, err := am.tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid token", "code": "unauthorized"},
			})
			return
		}
		user, err := am.authService.ExtractUser(c.Request.Context(), subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "unknown subject", "code": "unauthorized"},
			})
			return
		}

		c.Set(principalKey, user)
		c.Next()
	}
}

// RequireUser aborts with 401 unless the gateway attached a principal.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated principal, if any.
func CurrentUser(c *gin.Context) (*types.User, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*types.User)
	return user, ok
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
