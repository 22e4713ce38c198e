package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/middleware"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
)

type TwoFactorHandler struct {
	twoFactor *services.TwoFactorService
	db        *gorm.DB
	logger    *zap.Logger
}

func NewTwoFactorHandler(twoFactor *services.TwoFactorService, db *gorm.DB, logger *zap.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactor: twoFactor,
		db:        db,
		logger:    logger.With(zap.String("handler", "twofactor")),
	}
}

// Setup returns a fresh secret and provisioning URI for the caller. The
// user's stored state does not change; enabling happens in Verify after a
// valid code confirms the authenticator was provisioned.
func (th *TwoFactorHandler) Setup(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var user models.User
	if err := th.db.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	setup, err := th.twoFactor.InitiateSetup(user.Email)
	if err != nil {
		th.logger.Error("2FA setup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, setup)
}

type verifyTwoFactorRequest struct {
	EncryptedSecret string `json:"encryptedSecret" binding:"required"`
	Code            string `json:"code" binding:"required"`
}

func (th *TwoFactorHandler) Verify(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var req verifyTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Encrypted secret and code are required"})
		return
	}

	backupCodes, err := th.twoFactor.Enable(c.Request.Context(), userID, req.EncryptedSecret, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOTPInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid one-time code"})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		default:
			th.logger.Error("2FA enable failed", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	th.logger.Info("2FA enabled", zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{
		"message":     "Two-factor authentication enabled",
		"backupCodes": backupCodes,
	})
}

type disableTwoFactorRequest struct {
	Password string `json:"password" binding:"required"`
}

// Disable turns 2FA off after re-confirming the account password.
func (th *TwoFactorHandler) Disable(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var req disableTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return
	}

	var user models.User
	if err := th.db.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if ok, err := utils.VerifyPassword(user.PasswordHash, req.Password); !ok || err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	if err := th.twoFactor.Disable(c.Request.Context(), userID); err != nil {
		th.logger.Error("2FA disable failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	th.logger.Info("2FA disabled", zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication disabled"})
}
