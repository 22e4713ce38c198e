package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TwoFactorBackupCode is a single-use fallback for a lost TOTP device.
// Codes are bcrypt-hashed; a used code never validates again.
type TwoFactorBackupCode struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	CodeHash  string `gorm:"not null"`
	Used      bool   `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (b *TwoFactorBackupCode) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}
