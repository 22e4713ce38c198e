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
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
)

type InviteHandler struct {
	invites *services.InviteService
	logger  *zap.Logger
}

func NewInviteHandler(invites *services.InviteService, logger *zap.Logger) *InviteHandler {
	return &InviteHandler{
		invites: invites,
		logger:  logger.With(zap.String("handler", "invite")),
	}
}

func inviteResponse(i *models.UserInvite) gin.H {
	out := gin.H{
		"id":        i.ID,
		"email":     i.Email,
		"role":      i.Role,
		"status":    i.Status,
		"expiresAt": i.ExpiresAt.Format(time.RFC3339),
		"createdAt": i.CreatedAt.Format(time.RFC3339),
	}
	if i.AcceptedAt != nil {
		out["acceptedAt"] = i.AcceptedAt.Format(time.RFC3339)
	}
	return out
}

func (ih *InviteHandler) List(c *gin.Context) {
	invites, err := ih.invites.List(c.Request.Context())
	if err != nil {
		ih.logger.Error("Failed to list invites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	out := make([]gin.H, 0, len(invites))
	for i := range invites {
		out = append(out, inviteResponse(&invites[i]))
	}
	c.JSON(http.StatusOK, out)
}

type createInviteRequest struct {
	Email          string          `json:"email" binding:"required"`
	Role           models.UserRole `json:"role" binding:"required"`
	ExpiresInHours int             `json:"expiresInHours"`
}

func (ih *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and role are required"})
		return
	}
	if err := utils.ValidateEmail(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}

	var ttl time.Duration
	if req.ExpiresInHours > 0 {
		ttl = time.Duration(req.ExpiresInHours) * time.Hour
	}

	rawToken, invite, err := ih.invites.Issue(c.Request.Context(), req.Email, req.Role, c.GetString(middleware.ContextUserID), ttl)
	if err != nil {
		ih.logger.Error("Failed to issue invite", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := inviteResponse(invite)
	// Disclosed once; only the hash survives in storage.
	resp["token"] = rawToken
	c.JSON(http.StatusCreated, resp)
}

func (ih *InviteHandler) Revoke(c *gin.Context) {
	inviteID := c.Param("id")

	if err := ih.invites.Revoke(c.Request.Context(), inviteID); err != nil {
		if errors.Is(err, services.ErrInviteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invite not found"})
			return
		}
		ih.logger.Error("Failed to revoke invite", zap.String("invite_id", inviteID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invite revoked"})
}
