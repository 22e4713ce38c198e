package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/crypto"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteExpired  = errors.New("invite has expired")
	ErrEmailTaken     = errors.New("email is already registered")
)

// InviteService manages one-time invitation tokens. Tokens are stored only
// as SHA-256 hashes, so redemption walks the pending invites and compares
// hashes in constant time. The pending set stays small (tens of rows), so
// the scan is the price of never persisting the secret.
type InviteService struct {
	db         *gorm.DB
	logger     *zap.Logger
	metrics    *metrics.MetricsCollector
	defaultTTL time.Duration
}

func NewInviteService(db *gorm.DB, defaultTTL time.Duration, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *InviteService {
	return &InviteService{
		db:         db,
		logger:     logger.With(zap.String("service", "invite_service")),
		metrics:    metricsCollector,
		defaultTTL: defaultTTL,
	}
}

// Issue creates a pending invite and returns the raw token. The token is
// never retrievable again; only its hash is stored.
func (is *InviteService) Issue(ctx context.Context, email string, role models.UserRole, invitedBy string, ttl time.Duration) (string, *models.UserInvite, error) {
	if ttl <= 0 {
		ttl = is.defaultTTL
	}

	pair, err := crypto.GenerateHashedToken(crypto.DefaultTokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate invite token: %w", err)
	}

	invite := &models.UserInvite{
		Email:     email,
		Role:      role,
		TokenHash: pair.Hash,
		Status:    models.InvitePending,
		InvitedBy: invitedBy,
		ExpiresAt: time.Now().Add(ttl),
	}

	if err := is.db.WithContext(ctx).Create(invite).Error; err != nil {
		return "", nil, fmt.Errorf("failed to store invite: %w", err)
	}

	is.logger.Info("Invite issued",
		zap.String("invite_id", invite.ID),
		zap.String("email", email),
		zap.String("role", string(role)),
		zap.Time("expires_at", invite.ExpiresAt),
	)
	is.metrics.IncrementCounter("invite.issued", nil)
	return pair.Token, invite, nil
}

// Redeem resolves a raw token to its invite and consumes it. The
// check-and-mark runs inline with the caller's transaction so two
// concurrent redemptions of the same token cannot both succeed: the status
// update is guarded by a WHERE status = 'PENDING' clause and the loser
// sees zero affected rows.
func (is *InviteService) Redeem(ctx context.Context, rawToken string) (*models.UserInvite, error) {
	var redeemed *models.UserInvite
	var expired bool
	err := is.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invite, wasExpired, err := is.redeemTx(tx, rawToken)
		if err != nil {
			return err
		}
		if wasExpired {
			expired = true
			return nil
		}
		redeemed = invite
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrInviteExpired
	}
	is.metrics.IncrementCounter("invite.redeemed", nil)
	return redeemed, nil
}

// redeemTx resolves a raw token and consumes the matching invite inside
// tx. An expired match is flipped to EXPIRED and signalled through the
// second return value rather than an error, so the enclosing transaction
// commits the flip instead of rolling it back.
func (is *InviteService) redeemTx(tx *gorm.DB, rawToken string) (*models.UserInvite, bool, error) {
	var pending []models.UserInvite
	if err := tx.Where("status = ?", models.InvitePending).Find(&pending).Error; err != nil {
		return nil, false, fmt.Errorf("failed to scan pending invites: %w", err)
	}

	for i := range pending {
		invite := &pending[i]
		match, err := crypto.VerifyToken(rawToken, invite.TokenHash)
		if err != nil || !match {
			continue
		}

		if time.Now().After(invite.ExpiresAt) {
			// The token is consumed either way; reporting Expired instead
			// of NotFound is caller UX, not an information leak.
			result := tx.Model(&models.UserInvite{}).
				Where("id = ? AND status = ?", invite.ID, models.InvitePending).
				Update("status", models.InviteExpired)
			if result.Error != nil {
				return nil, false, fmt.Errorf("failed to expire invite: %w", result.Error)
			}
			is.metrics.IncrementCounter("invite.redeem.rejected", map[string]string{"reason": "expired"})
			return nil, true, nil
		}

		now := time.Now()
		result := tx.Model(&models.UserInvite{}).
			Where("id = ? AND status = ?", invite.ID, models.InvitePending).
			Updates(map[string]interface{}{
				"status":      models.InviteAccepted,
				"accepted_at": now,
			})
		if result.Error != nil {
			return nil, false, fmt.Errorf("failed to accept invite: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, false, ErrInviteNotFound
		}

		invite.Status = models.InviteAccepted
		invite.AcceptedAt = &now
		is.logger.Info("Invite redeemed",
			zap.String("invite_id", invite.ID),
			zap.String("email", invite.Email),
		)
		return invite, false, nil
	}

	is.metrics.IncrementCounter("invite.redeem.rejected", map[string]string{"reason": "not_found"})
	return nil, false, ErrInviteNotFound
}

// Accept redeems an invite and creates the invited account in the same
// transaction; either both happen or neither does.
func (is *InviteService) Accept(ctx context.Context, rawToken, name, password string) (*models.User, error) {
	passwordHash, err := utils.EncryptPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *models.User
	var expired bool
	err = is.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invite, wasExpired, err := is.redeemTx(tx, rawToken)
		if err != nil {
			return err
		}
		if wasExpired {
			expired = true
			return nil
		}

		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", invite.Email).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}

		user = &models.User{
			Name:         name,
			Email:        invite.Email,
			PasswordHash: passwordHash,
			Role:         invite.Role,
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrInviteExpired
	}

	is.logger.Info("Invite accepted",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)),
	)
	is.metrics.IncrementCounter("invite.accepted", nil)
	return user, nil
}

// Revoke hard-deletes an invite. Unknown ids report NotFound but leave the
// store untouched, so the operation is idempotent.
func (is *InviteService) Revoke(ctx context.Context, inviteID string) error {
	result := is.db.WithContext(ctx).Delete(&models.UserInvite{}, "id = ?", inviteID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInviteNotFound
	}

	is.logger.Info("Invite revoked", zap.String("invite_id", inviteID))
	is.metrics.IncrementCounter("invite.revoked", nil)
	return nil
}

func (is *InviteService) List(ctx context.Context) ([]models.UserInvite, error) {
	var invites []models.UserInvite
	if err := is.db.WithContext(ctx).Order("created_at desc").Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return invites, nil
}
