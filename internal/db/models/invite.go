package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteExpired  InviteStatus = "EXPIRED"
)

// UserInvite holds a one-time invitation. The raw token is handed out
// exactly once at creation; only its SHA-256 hash is stored, so redemption
// scans pending rows and compares hashes. Status moves pending -> accepted
// or pending -> expired and never back.
type UserInvite struct {
	ID         string       `gorm:"primaryKey"`
	Email      string       `gorm:"index;not null"`
	Role       UserRole     `gorm:"not null;default:'VIEWER'"`
	TokenHash  string       `gorm:"not null"`
	Status     InviteStatus `gorm:"not null;default:'PENDING'"`
	InvitedBy  string       `gorm:"index"`
	ExpiresAt  time.Time    `gorm:"not null"`
	AcceptedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *UserInvite) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}
