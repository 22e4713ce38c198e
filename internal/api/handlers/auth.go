package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/middleware"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/config"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
)

type AuthHandler struct {
	sessions  *services.SessionService
	twoFactor *services.TwoFactorService
	invites   *services.InviteService
	security  config.SecurityConfig
	db        *gorm.DB
	logger    *zap.Logger
}

func NewAuthHandler(sessions *services.SessionService, twoFactor *services.TwoFactorService, invites *services.InviteService, security config.SecurityConfig, db *gorm.DB, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		twoFactor: twoFactor,
		invites:   invites,
		security:  security,
		db:        db,
		logger:    logger.With(zap.String("handler", "auth")),
	}
}

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	OtpCode    string `json:"otpCode"`
	BackupCode string `json:"backupCode"`
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	var user models.User
	if err := ah.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		ah.logger.Warn("Login with unknown email", zap.String("email", req.Email), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if ok, err := utils.VerifyPassword(user.PasswordHash, req.Password); !ok || err != nil {
		ah.logger.Warn("Login with wrong password", zap.String("user_id", user.ID), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	healed, err := ah.twoFactor.SelfHealIfBroken(c.Request.Context(), &user)
	if err != nil {
		ah.logger.Error("2FA self-heal failed", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if healed {
		ah.logger.Warn("2FA force-disabled during login", zap.String("user_id", user.ID))
	}

	if user.IsTwoFactorEnabled {
		if !ah.completeTwoFactor(c, &user, req) {
			return
		}
	}

	token, err := ah.sessions.Issue(user.ID, user.Role)
	if err != nil {
		ah.logger.Error("Could not create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	ah.sessions.WriteCookie(c.Writer, c.Request, token)
	ah.logger.Info("User logged in", zap.String("user_id", user.ID), zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, userResponse(&user))
}

// completeTwoFactor resolves the second factor during login. Writes the
// response and returns false when login must not proceed.
func (ah *AuthHandler) completeTwoFactor(c *gin.Context, user *models.User, req loginRequest) bool {
	switch {
	case req.OtpCode != "":
		ok, err := ah.twoFactor.VerifyUserCode(c.Request.Context(), user, req.OtpCode)
		if err != nil {
			ah.logger.Error("OTP verification failed", zap.String("user_id", user.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return false
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid one-time code"})
			return false
		}
		return true

	case req.BackupCode != "":
		ok, err := ah.twoFactor.VerifyBackupCode(c.Request.Context(), user.ID, req.BackupCode)
		if err != nil {
			ah.logger.Error("Backup code verification failed", zap.String("user_id", user.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return false
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid backup code"})
			return false
		}
		return true

	default:
		c.JSON(http.StatusPreconditionRequired, gin.H{
			"error":   "Two-factor authentication required",
			"details": "Retry with otpCode or backupCode",
		})
		return false
	}
}

// Logout expires the session cookie. Tokens are not tracked server-side;
// a copied token remains valid until its own expiry.
func (ah *AuthHandler) Logout(c *gin.Context) {
	if session := ah.sessions.VerifyRequest(c.Request); session != nil {
		ah.logger.Info("User logged out",
			zap.String("user_id", session.UserID),
			zap.String("ip", c.ClientIP()))
	}

	ah.sessions.ClearCookie(c.Writer, c.Request)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Session reports the identity carried by the presented credential.
func (ah *AuthHandler) Session(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	role, _ := c.Get(middleware.ContextRole)
	c.JSON(http.StatusOK, gin.H{"userId": userID, "role": role})
}

type acceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (ah *AuthHandler) AcceptInvite(c *gin.Context) {
	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token, name and password are required"})
		return
	}

	if err := utils.ValidatePassword(req.Password, ah.security.PasswordMinLength, ah.security.PasswordMaxLength); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := ah.invites.Accept(c.Request.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInviteNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Invite not found"})
		case errors.Is(err, services.ErrInviteExpired):
			c.JSON(http.StatusConflict, gin.H{"error": "Invite has expired"})
		case errors.Is(err, services.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "Email is already registered"})
		default:
			ah.logger.Error("Invite acceptance failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	token, err := ah.sessions.Issue(user.ID, user.Role)
	if err != nil {
		ah.logger.Error("Could not create session after invite", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	ah.sessions.WriteCookie(c.Writer, c.Request, token)
	c.JSON(http.StatusCreated, userResponse(user))
}
