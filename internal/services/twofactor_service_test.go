package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/crypto"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
)

func newTestTwoFactorService(t *testing.T) (*TwoFactorService, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	box, err := crypto.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return NewTwoFactorService(database, box, "ChronoChimp", 10, zap.NewNop(), metrics.NewMetricsCollector()), database
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestInitiateSetup(t *testing.T) {
	ts, database := newTestTwoFactorService(t)
	user := createTestUser(t, database, "mfa@example.com", models.RoleEditor)

	setup, err := ts.InitiateSetup(user.Email)
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, setup.ProvisioningURI, "ChronoChimp")
	assert.NotEqual(t, setup.Secret, setup.EncryptedSecret)

	t.Run("nothing persisted before confirmation", func(t *testing.T) {
		var stored models.User
		require.NoError(t, database.First(&stored, "id = ?", user.ID).Error)
		assert.False(t, stored.IsTwoFactorEnabled)
		assert.Nil(t, stored.TwoFactorSecret)
	})

	t.Run("code for the new secret validates", func(t *testing.T) {
		assert.True(t, ts.VerifyCode(setup.Secret, currentCode(t, setup.Secret)))
	})

	t.Run("wrong code does not validate", func(t *testing.T) {
		code := currentCode(t, setup.Secret)
		altered := "000000"
		if code == altered {
			altered = "000001"
		}
		assert.False(t, ts.VerifyCode(setup.Secret, altered))
	})
}

func TestEnableAndVerify(t *testing.T) {
	ts, database := newTestTwoFactorService(t)
	user := createTestUser(t, database, "mfa@example.com", models.RoleEditor)

	setup, err := ts.InitiateSetup(user.Email)
	require.NoError(t, err)

	t.Run("wrong code rejects enable", func(t *testing.T) {
		_, err := ts.Enable(context.Background(), user.ID, setup.EncryptedSecret, "000000")
		assert.ErrorIs(t, err, ErrOTPInvalid)
	})

	t.Run("tampered blob rejects enable", func(t *testing.T) {
		_, err := ts.Enable(context.Background(), user.ID, "bm90IGEgcmVhbCBibG9i", currentCode(t, setup.Secret))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrOTPInvalid)
	})

	backupCodes, err := ts.Enable(context.Background(), user.ID, setup.EncryptedSecret, currentCode(t, setup.Secret))
	require.NoError(t, err)
	assert.Len(t, backupCodes, 10)

	var stored models.User
	require.NoError(t, database.First(&stored, "id = ?", user.ID).Error)
	assert.True(t, stored.IsTwoFactorEnabled)
	require.NotNil(t, stored.TwoFactorSecret)
	assert.Equal(t, setup.EncryptedSecret, *stored.TwoFactorSecret)

	t.Run("backup codes stored hashed", func(t *testing.T) {
		var rows []models.TwoFactorBackupCode
		require.NoError(t, database.Where("user_id = ?", user.ID).Find(&rows).Error)
		require.Len(t, rows, 10)
		for _, row := range rows {
			assert.True(t, strings.HasPrefix(row.CodeHash, "$2"), "expected bcrypt hash")
		}
	})

	t.Run("login code verifies against stored secret", func(t *testing.T) {
		ok, err := ts.VerifyUserCode(context.Background(), &stored, currentCode(t, setup.Secret))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ts.VerifyUserCode(context.Background(), &stored, "000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("enable for unknown user", func(t *testing.T) {
		_, err := ts.Enable(context.Background(), "ghost", setup.EncryptedSecret, currentCode(t, setup.Secret))
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestBackupCodeSingleUse(t *testing.T) {
	ts, database := newTestTwoFactorService(t)
	user := createTestUser(t, database, "mfa@example.com", models.RoleEditor)

	setup, err := ts.InitiateSetup(user.Email)
	require.NoError(t, err)
	backupCodes, err := ts.Enable(context.Background(), user.ID, setup.EncryptedSecret, currentCode(t, setup.Secret))
	require.NoError(t, err)

	code := backupCodes[0]

	ok, err := ts.VerifyBackupCode(context.Background(), user.ID, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ts.VerifyBackupCode(context.Background(), user.ID, code)
	require.NoError(t, err)
	assert.False(t, ok, "a burned backup code must never verify again")

	t.Run("other codes still usable", func(t *testing.T) {
		ok, err := ts.VerifyBackupCode(context.Background(), user.ID, backupCodes[1])
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown code rejects", func(t *testing.T) {
		ok, err := ts.VerifyBackupCode(context.Background(), user.ID, "deadbeef00")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDisableClearsState(t *testing.T) {
	ts, database := newTestTwoFactorService(t)
	user := createTestUser(t, database, "mfa@example.com", models.RoleEditor)

	setup, err := ts.InitiateSetup(user.Email)
	require.NoError(t, err)
	_, err = ts.Enable(context.Background(), user.ID, setup.EncryptedSecret, currentCode(t, setup.Secret))
	require.NoError(t, err)

	require.NoError(t, ts.Disable(context.Background(), user.ID))

	var stored models.User
	require.NoError(t, database.First(&stored, "id = ?", user.ID).Error)
	assert.False(t, stored.IsTwoFactorEnabled)
	assert.Nil(t, stored.TwoFactorSecret)

	var count int64
	require.NoError(t, database.Model(&models.TwoFactorBackupCode{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count)

	_, err = ts.VerifyUserCode(context.Background(), &stored, "000000")
	assert.ErrorIs(t, err, ErrTwoFactorDisabled)
}

func TestSelfHealIfBroken(t *testing.T) {
	ts, database := newTestTwoFactorService(t)

	t.Run("healthy disabled user untouched", func(t *testing.T) {
		user := createTestUser(t, database, "plain@example.com", models.RoleViewer)
		healed, err := ts.SelfHealIfBroken(context.Background(), user)
		require.NoError(t, err)
		assert.False(t, healed)
	})

	t.Run("enabled without secret is repaired", func(t *testing.T) {
		user := createTestUser(t, database, "broken@example.com", models.RoleViewer)
		require.NoError(t, database.Model(&models.User{}).Where("id = ?", user.ID).
			Update("is_two_factor_enabled", true).Error)
		user.IsTwoFactorEnabled = true

		healed, err := ts.SelfHealIfBroken(context.Background(), user)
		require.NoError(t, err)
		assert.True(t, healed)
		assert.False(t, user.IsTwoFactorEnabled)

		var stored models.User
		require.NoError(t, database.First(&stored, "id = ?", user.ID).Error)
		assert.False(t, stored.IsTwoFactorEnabled)
	})

	t.Run("properly enabled user untouched", func(t *testing.T) {
		user := createTestUser(t, database, "healthy@example.com", models.RoleViewer)
		setup, err := ts.InitiateSetup(user.Email)
		require.NoError(t, err)
		_, err = ts.Enable(context.Background(), user.ID, setup.EncryptedSecret, currentCode(t, setup.Secret))
		require.NoError(t, err)

		require.NoError(t, database.First(user, "id = ?", user.ID).Error)
		healed, err := ts.SelfHealIfBroken(context.Background(), user)
		require.NoError(t, err)
		assert.False(t, healed)
		assert.True(t, user.IsTwoFactorEnabled)
	})
}
