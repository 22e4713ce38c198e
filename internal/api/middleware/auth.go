package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
)

const (
	ContextUserID = "userID"
	ContextRole   = "role"

	bearerChallenge = `Bearer realm="ChronoChimp"`

	// Budget for the privileged validator; key validation fails closed,
	// so a slow store surfaces as 500 rather than a silent retry.
	validateTimeout = 5 * time.Second
)

type AuthMiddleware struct {
	sessions *services.SessionService
	apiKeys  *services.APIKeyService
	logger   *zap.Logger
}

func NewAuthMiddleware(sessions *services.SessionService, apiKeys *services.APIKeyService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		apiKeys:  apiKeys,
		logger:   logger.With(zap.String("middleware", "auth")),
	}
}

// RequireAuth establishes identity from exactly one credential type: the
// session cookie, or a bearer API key when an Authorization header is
// present. Requests with neither, or with an invalid credential, get 401.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			am.authenticateBearer(c, header)
			return
		}

		session := am.sessions.VerifyRequest(c.Request)
		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		c.Set(ContextUserID, session.UserID)
		c.Set(ContextRole, session.Role)
		c.Next()
	}
}

func (am *AuthMiddleware) authenticateBearer(c *gin.Context, header string) {
	// Stage one: header shape only, no store access.
	rawKey, err := services.ParseBearer(header)
	if err != nil {
		c.Header("WWW-Authenticate", bearerChallenge)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
		return
	}

	// Stage two: the privileged validator, bounded by a timeout.
	ctx, cancel := context.WithTimeout(c.Request.Context(), validateTimeout)
	defer cancel()

	session, err := am.apiKeys.Validate(ctx, rawKey)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAPIKeyNotFound),
			errors.Is(err, services.ErrAPIKeyRevoked),
			errors.Is(err, services.ErrAPIKeyExpired):
			c.Header("WWW-Authenticate", bearerChallenge)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		default:
			am.logger.Error("API key validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.Set(ContextUserID, session.UserID)
	c.Set(ContextRole, session.Role)
	c.Next()
}

// RequireRole gates a route to the listed roles. Runs after RequireAuth;
// an authenticated identity outside the set gets 403.
func (am *AuthMiddleware) RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		role, ok := value.(models.UserRole)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}
