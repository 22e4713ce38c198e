package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/middleware"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
)

type UserHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUserHandler(db *gorm.DB, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		db:     db,
		logger: logger.With(zap.String("handler", "user")),
	}
}

// userResponse strips credential material from a user record. Password
// hashes and 2FA secrets never leave the server.
func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":                 u.ID,
		"name":               u.Name,
		"email":              u.Email,
		"role":               u.Role,
		"isTwoFactorEnabled": u.IsTwoFactorEnabled,
		"avatarUrl":          u.AvatarURL,
		"createdAt":          u.CreatedAt.Format(time.RFC3339),
		"updatedAt":          u.UpdatedAt.Format(time.RFC3339),
	}
}

func (uh *UserHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var user models.User
	if err := uh.db.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, userResponse(&user))
}

type updateMeRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
	Password  *string `json:"password"`
}

func (uh *UserHandler) UpdateMe(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var user models.User
	if err := uh.db.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.Password != nil {
		hash, err := utils.EncryptPassword(*req.Password)
		if err != nil {
			uh.logger.Error("Failed to hash password", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		user.PasswordHash = hash
	}

	if err := uh.db.Save(&user).Error; err != nil {
		uh.logger.Error("Failed to update user", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(&user))
}

func (uh *UserHandler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := uh.db.Order("created_at").Find(&users).Error; err != nil {
		uh.logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for i := range users {
		out = append(out, userResponse(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

type adminUpdateUserRequest struct {
	Name  *string          `json:"name"`
	Email *string          `json:"email"`
	Role  *models.UserRole `json:"role"`
}

func (uh *UserHandler) UpdateUser(c *gin.Context) {
	targetID := c.Param("id")

	var req adminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var user models.User
	if err := uh.db.First(&user, "id = ?", targetID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if req.Role != nil {
		if !req.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}
		// Role changes land in storage immediately but take effect on the
		// target's next login; outstanding session tokens keep the old role.
		user.Role = *req.Role
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		var count int64
		if err := uh.db.Model(&models.User{}).Where("email = ? AND id <> ?", *req.Email, targetID).Count(&count).Error; err != nil {
			uh.logger.Error("Failed to check email uniqueness", zap.String("user_id", targetID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if count > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Email is already registered"})
			return
		}
		user.Email = *req.Email
	}

	if err := uh.db.Save(&user).Error; err != nil {
		uh.logger.Error("Failed to update user", zap.String("user_id", targetID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	uh.logger.Info("User updated by admin",
		zap.String("user_id", targetID),
		zap.String("admin_id", c.GetString(middleware.ContextUserID)))
	c.JSON(http.StatusOK, userResponse(&user))
}

func (uh *UserHandler) DeleteUser(c *gin.Context) {
	targetID := c.Param("id")
	adminID := c.GetString(middleware.ContextUserID)

	if targetID == adminID {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot delete your own account"})
		return
	}

	result := uh.db.Delete(&models.User{}, "id = ?", targetID)
	if result.Error != nil {
		uh.logger.Error("Failed to delete user", zap.String("user_id", targetID), zap.Error(result.Error))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	uh.logger.Info("User deleted by admin",
		zap.String("user_id", targetID),
		zap.String("admin_id", adminID))
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}
