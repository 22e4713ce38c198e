package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
)

func newTestInviteService(t *testing.T) (*InviteService, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	return NewInviteService(database, 72*time.Hour, zap.NewNop(), metrics.NewMetricsCollector()), database
}

func TestInviteIssueAndRedeem(t *testing.T) {
	is, database := newTestInviteService(t)

	rawToken, invite, err := is.Issue(context.Background(), "new@example.com", models.RoleEditor, "admin-1", 0)
	require.NoError(t, err)
	assert.Equal(t, models.InvitePending, invite.Status)
	assert.NotContains(t, invite.TokenHash, rawToken, "hash must not embed the raw token")

	redeemed, err := is.Redeem(context.Background(), rawToken)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", redeemed.Email)
	assert.Equal(t, models.RoleEditor, redeemed.Role)
	assert.Equal(t, models.InviteAccepted, redeemed.Status)
	assert.NotNil(t, redeemed.AcceptedAt)

	var stored models.UserInvite
	require.NoError(t, database.First(&stored, "id = ?", invite.ID).Error)
	assert.Equal(t, models.InviteAccepted, stored.Status)
}

func TestInviteRedeemEdgeCases(t *testing.T) {
	is, database := newTestInviteService(t)

	t.Run("unknown token", func(t *testing.T) {
		_, err := is.Redeem(context.Background(), "not-a-token")
		assert.ErrorIs(t, err, ErrInviteNotFound)
	})

	t.Run("second redemption fails", func(t *testing.T) {
		rawToken, _, err := is.Issue(context.Background(), "once@example.com", models.RoleViewer, "admin-1", 0)
		require.NoError(t, err)

		_, err = is.Redeem(context.Background(), rawToken)
		require.NoError(t, err)

		_, err = is.Redeem(context.Background(), rawToken)
		assert.ErrorIs(t, err, ErrInviteNotFound)
	})

	t.Run("expired token reports expired and is consumed", func(t *testing.T) {
		rawToken, invite, err := is.Issue(context.Background(), "late@example.com", models.RoleViewer, "admin-1", time.Nanosecond)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		_, err = is.Redeem(context.Background(), rawToken)
		assert.ErrorIs(t, err, ErrInviteExpired)

		// The expiry transition must survive the failed redemption.
		var stored models.UserInvite
		require.NoError(t, database.First(&stored, "id = ?", invite.ID).Error)
		assert.Equal(t, models.InviteExpired, stored.Status)

		// The first attempt moved the invite out of pending, so a retry
		// no longer finds it.
		_, err = is.Redeem(context.Background(), rawToken)
		assert.ErrorIs(t, err, ErrInviteNotFound)
	})
}

func TestInviteAccept(t *testing.T) {
	is, database := newTestInviteService(t)

	rawToken, _, err := is.Issue(context.Background(), "joiner@example.com", models.RoleEditor, "admin-1", 0)
	require.NoError(t, err)

	user, err := is.Accept(context.Background(), rawToken, "Joiner", "s3cure-enough-pw")
	require.NoError(t, err)
	assert.Equal(t, "joiner@example.com", user.Email)
	assert.Equal(t, models.RoleEditor, user.Role)

	ok, err := utils.VerifyPassword(user.PasswordHash, "s3cure-enough-pw")
	require.NoError(t, err)
	assert.True(t, ok)

	var count int64
	require.NoError(t, database.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestInviteAcceptEmailTakenRollsBack(t *testing.T) {
	is, database := newTestInviteService(t)
	createTestUser(t, database, "taken@example.com", models.RoleViewer)

	rawToken, invite, err := is.Issue(context.Background(), "taken@example.com", models.RoleViewer, "admin-1", 0)
	require.NoError(t, err)

	_, err = is.Accept(context.Background(), rawToken, "Dup", "s3cure-enough-pw")
	assert.ErrorIs(t, err, ErrEmailTaken)

	// The whole transaction rolled back, so the invite is still pending.
	var stored models.UserInvite
	require.NoError(t, database.First(&stored, "id = ?", invite.ID).Error)
	assert.Equal(t, models.InvitePending, stored.Status)
}

func TestInviteAcceptExpiredConsumesInvite(t *testing.T) {
	is, database := newTestInviteService(t)

	rawToken, invite, err := is.Issue(context.Background(), "tardy@example.com", models.RoleViewer, "admin-1", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = is.Accept(context.Background(), rawToken, "Tardy", "s3cure-enough-pw")
	assert.ErrorIs(t, err, ErrInviteExpired)

	var stored models.UserInvite
	require.NoError(t, database.First(&stored, "id = ?", invite.ID).Error)
	assert.Equal(t, models.InviteExpired, stored.Status)

	var count int64
	require.NoError(t, database.Model(&models.User{}).Where("email = ?", "tardy@example.com").Count(&count).Error)
	assert.Zero(t, count, "no account may be created from an expired invite")
}

func TestInviteRevokeAndList(t *testing.T) {
	is, _ := newTestInviteService(t)

	_, invite, err := is.Issue(context.Background(), "gone@example.com", models.RoleViewer, "admin-1", 0)
	require.NoError(t, err)

	require.NoError(t, is.Revoke(context.Background(), invite.ID))
	assert.ErrorIs(t, is.Revoke(context.Background(), invite.ID), ErrInviteNotFound)

	invites, err := is.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, invites)
}
