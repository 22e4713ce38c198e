package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/middleware"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
)

type APIKeyHandler struct {
	apiKeys *services.APIKeyService
	logger  *zap.Logger
}

func NewAPIKeyHandler(apiKeys *services.APIKeyService, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeys: apiKeys,
		logger:  logger.With(zap.String("handler", "apikey")),
	}
}

// keyResponse exposes key metadata only; the full key exists nowhere after
// issuance, so the prefix is the only identifying material returned.
func keyResponse(k *models.ApiKey) gin.H {
	out := gin.H{
		"id":        k.ID,
		"name":      k.Name,
		"keyPrefix": k.KeyPrefix,
		"revoked":   k.Revoked,
		"createdAt": k.CreatedAt.Format(time.RFC3339),
	}
	if k.ExpiresAt != nil {
		out["expiresAt"] = k.ExpiresAt.Format(time.RFC3339)
	}
	if k.LastUsedAt != nil {
		out["lastUsedAt"] = k.LastUsedAt.Format(time.RFC3339)
	}
	return out
}

func (kh *APIKeyHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	keys, err := kh.apiKeys.List(c.Request.Context(), userID)
	if err != nil {
		kh.logger.Error("Failed to list api keys", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	out := make([]gin.H, 0, len(keys))
	for i := range keys {
		out = append(out, keyResponse(&keys[i]))
	}
	c.JSON(http.StatusOK, out)
}

type createKeyRequest struct {
	Name          string `json:"name" binding:"required"`
	ExpiresInDays int    `json:"expiresInDays"`
}

func (kh *APIKeyHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key name is required"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	}

	rawKey, key, err := kh.apiKeys.Issue(c.Request.Context(), userID, req.Name, expiresAt)
	if err != nil {
		kh.logger.Error("Failed to issue api key", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := keyResponse(key)
	// The one and only time the full key is disclosed.
	resp["key"] = rawKey
	c.JSON(http.StatusCreated, resp)
}

func (kh *APIKeyHandler) Revoke(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	keyID := c.Param("id")

	if err := kh.apiKeys.Revoke(c.Request.Context(), userID, keyID); err != nil {
		if errors.Is(err, services.ErrAPIKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		kh.logger.Error("Failed to revoke api key", zap.String("key_id", keyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}
