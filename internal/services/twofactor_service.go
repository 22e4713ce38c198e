package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/crypto"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrOTPInvalid        = errors.New("invalid one-time code")
	ErrTwoFactorDisabled = errors.New("two-factor authentication is not enabled")
)

// SetupData is returned from InitiateSetup. The raw secret and the
// provisioning URI go to the client for QR rendering and confirmation; the
// encrypted blob is what the client round-trips to the verify step, so the
// plaintext secret never has to be trusted coming back.
type SetupData struct {
	Secret          string `json:"secret"`
	EncryptedSecret string `json:"encryptedSecret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// TwoFactorService drives the per-user 2FA state machine:
// disabled -> pending (setup issued) -> enabled (OTP confirmed), with an
// explicit reset back to disabled. Nothing persists before confirmation.
type TwoFactorService struct {
	db          *gorm.DB
	box         *crypto.SecretBox
	issuer      string
	backupCount int
	logger      *zap.Logger
	metrics     *metrics.MetricsCollector
}

func NewTwoFactorService(db *gorm.DB, box *crypto.SecretBox, issuer string, backupCount int, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *TwoFactorService {
	return &TwoFactorService{
		db:          db,
		box:         box,
		issuer:      issuer,
		backupCount: backupCount,
		logger:      logger.With(zap.String("service", "twofactor_service")),
		metrics:     metricsCollector,
	}
}

// InitiateSetup generates a fresh TOTP secret and provisioning URI. It
// persists nothing: the user stays in their current state until Enable
// confirms a valid code.
func (ts *TwoFactorService) InitiateSetup(userEmail string) (*SetupData, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      ts.issuer,
		AccountName: userEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	encrypted, err := ts.box.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt totp secret: %w", err)
	}

	ts.metrics.IncrementCounter("twofactor.setup_initiated", nil)
	return &SetupData{
		Secret:          key.Secret(),
		EncryptedSecret: encrypted,
		ProvisioningURI: key.URL(),
	}, nil
}

// VerifyCode checks a code against a plaintext secret within the standard
// time-step tolerance. A mismatch is a normal negative result, not an
// error.
func (ts *TwoFactorService) VerifyCode(secret, code string) bool {
	return totp.Validate(code, secret)
}

// Enable confirms setup: the code must validate against the encrypted
// secret from InitiateSetup, then the secret and flag are persisted and a
// fresh batch of backup codes replaces any stale ones. The raw backup
// codes are returned exactly once.
func (ts *TwoFactorService) Enable(ctx context.Context, userID, encryptedSecret, code string) ([]string, error) {
	secret, err := ts.box.Decrypt(encryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt setup secret: %w", err)
	}

	if !ts.VerifyCode(secret, code) {
		ts.metrics.IncrementCounter("twofactor.enable.rejected", nil)
		return nil, ErrOTPInvalid
	}

	rawCodes, hashed, err := ts.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"is_two_factor_enabled": true,
			"two_factor_secret":     encryptedSecret,
		})
		if result.Error != nil {
			return fmt.Errorf("failed to enable 2fa: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.TwoFactorBackupCode{}).Error; err != nil {
			return fmt.Errorf("failed to clear stale backup codes: %w", err)
		}

		for _, h := range hashed {
			codeRow := models.TwoFactorBackupCode{UserID: userID, CodeHash: h}
			if err := tx.Create(&codeRow).Error; err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ts.logger.Info("Two-factor enabled", zap.String("user_id", userID))
	ts.metrics.IncrementCounter("twofactor.enabled", nil)
	return rawCodes, nil
}

// Disable resets the state machine: secret cleared, flag dropped, backup
// codes deleted. Also the recovery path when the stored state is broken.
func (ts *TwoFactorService) Disable(ctx context.Context, userID string) error {
	err := ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"is_two_factor_enabled": false,
			"two_factor_secret":     nil,
		})
		if result.Error != nil {
			return fmt.Errorf("failed to disable 2fa: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.TwoFactorBackupCode{}).Error; err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ts.logger.Info("Two-factor disabled", zap.String("user_id", userID))
	ts.metrics.IncrementCounter("twofactor.disabled", nil)
	return nil
}

// SelfHealIfBroken detects the enabled-without-secret state, which would
// otherwise lock the account out forever, and force-disables 2FA. Returns
// true when a repair happened. Callers run this before demanding a code.
func (ts *TwoFactorService) SelfHealIfBroken(ctx context.Context, user *models.User) (bool, error) {
	if !user.IsTwoFactorEnabled {
		return false, nil
	}
	if user.TwoFactorSecret != nil && *user.TwoFactorSecret != "" {
		return false, nil
	}

	ts.logger.Warn("2FA enabled without a secret, self-healing to disabled",
		zap.String("user_id", user.ID))
	ts.metrics.IncrementCounter("twofactor.self_healed", nil)
	if err := ts.Disable(ctx, user.ID); err != nil {
		return false, err
	}
	user.IsTwoFactorEnabled = false
	user.TwoFactorSecret = nil
	return true, nil
}

// VerifyUserCode validates a login-time OTP against a user's stored
// secret.
func (ts *TwoFactorService) VerifyUserCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.IsTwoFactorEnabled {
		return false, ErrTwoFactorDisabled
	}
	if user.TwoFactorSecret == nil || *user.TwoFactorSecret == "" {
		return false, ErrTwoFactorDisabled
	}

	secret, err := ts.box.Decrypt(*user.TwoFactorSecret)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt stored secret: %w", err)
	}

	ok := ts.VerifyCode(secret, code)
	if ok {
		ts.metrics.IncrementCounter("twofactor.verify.ok", nil)
	} else {
		ts.metrics.IncrementCounter("twofactor.verify.rejected", nil)
	}
	return ok, nil
}

// VerifyBackupCode burns a backup code. The used flag flips inside a
// transaction guarded by WHERE used = false, so two concurrent attempts on
// the same code cannot both succeed.
func (ts *TwoFactorService) VerifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	matched := false
	err := ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var codes []models.TwoFactorBackupCode
		if err := tx.Where("user_id = ? AND used = ?", userID, false).Find(&codes).Error; err != nil {
			return fmt.Errorf("failed to load backup codes: %w", err)
		}

		for i := range codes {
			row := &codes[i]
			if bcrypt.CompareHashAndPassword([]byte(row.CodeHash), []byte(code)) != nil {
				continue
			}

			now := time.Now()
			result := tx.Model(&models.TwoFactorBackupCode{}).
				Where("id = ? AND used = ?", row.ID, false).
				Updates(map[string]interface{}{"used": true, "used_at": now})
			if result.Error != nil {
				return fmt.Errorf("failed to mark backup code used: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				// Lost the race to a concurrent attempt; the code is spent.
				return nil
			}

			matched = true
			return nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if matched {
		ts.logger.Info("Backup code consumed", zap.String("user_id", userID))
		ts.metrics.IncrementCounter("twofactor.backup_code.used", nil)
	} else {
		ts.metrics.IncrementCounter("twofactor.backup_code.rejected", nil)
	}
	return matched, nil
}

func (ts *TwoFactorService) generateBackupCodes() ([]string, []string, error) {
	raw := make([]string, 0, ts.backupCount)
	hashed := make([]string, 0, ts.backupCount)

	for i := 0; i < ts.backupCount; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := hex.EncodeToString(buf)

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}

		raw = append(raw, code)
		hashed = append(hashed, string(hash))
	}
	return raw, hashed, nil
}
