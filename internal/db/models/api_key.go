package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApiKey stores only a non-secret prefix and a SHA-256 hash of the full
// key. The prefix is a lookup index, never an authentication factor: a
// prefix hit still requires the hash to match.
type ApiKey struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index;not null"`
	Name       string `gorm:"not null"`
	KeyPrefix  string `gorm:"index;not null"`
	KeyHash    string `gorm:"uniqueIndex;not null"` // SHA-256 hex of the full key
	Revoked    bool   `gorm:"not null;default:false"`
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (k *ApiKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	return nil
}
