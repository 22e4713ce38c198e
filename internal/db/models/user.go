package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin  UserRole = "ADMIN"
	RoleEditor UserRole = "EDITOR"
	RoleViewer UserRole = "VIEWER"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

type User struct {
	ID                 string   `gorm:"primaryKey"`
	Name               string   `gorm:"not null"`
	Email              string   `gorm:"unique;not null"`
	PasswordHash       string   `gorm:"not null"` // Bcrypt hash of password
	Role               UserRole `gorm:"not null;default:'VIEWER'"`
	IsTwoFactorEnabled bool     `gorm:"not null;default:false"`
	TwoFactorSecret    *string  // AES-256-GCM encrypted TOTP secret, nil until 2FA is confirmed
	AvatarURL          string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	ApiKeys     []ApiKey              `gorm:"foreignKey:UserID"`
	BackupCodes []TwoFactorBackupCode `gorm:"foreignKey:UserID"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
