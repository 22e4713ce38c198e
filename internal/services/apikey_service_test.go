package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
)

func newTestAPIKeyService(t *testing.T) (*APIKeyService, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	return NewAPIKeyService(database, 8, zap.NewNop(), metrics.NewMetricsCollector()), database
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer cc_abc123", "cc_abc123", false},
		{"empty header", "", "", true},
		{"missing scheme", "cc_abc123", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"scheme only", "Bearer ", "", true},
		{"lowercase scheme", "bearer cc_abc123", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBearer(tc.header)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedAuthHeader)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAPIKeyIssueAndValidate(t *testing.T) {
	as, database := newTestAPIKeyService(t)
	user := createTestUser(t, database, "keys@example.com", models.RoleEditor)

	rawKey, key, err := as.Issue(context.Background(), user.ID, "ci key", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawKey, KeyIDPrefix))
	assert.Equal(t, rawKey[:8], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, rawKey, "hash must not embed the raw key")

	session, err := as.Validate(context.Background(), rawKey)
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, models.RoleEditor, session.Role)

	t.Run("records last used", func(t *testing.T) {
		var stored models.ApiKey
		require.NoError(t, database.First(&stored, "id = ?", key.ID).Error)
		assert.NotNil(t, stored.LastUsedAt)
	})
}

func TestAPIKeyValidateRejections(t *testing.T) {
	as, database := newTestAPIKeyService(t)
	user := createTestUser(t, database, "keys@example.com", models.RoleViewer)

	t.Run("unknown prefix", func(t *testing.T) {
		_, err := as.Validate(context.Background(), "cc_doesnotexist")
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	t.Run("short garbage", func(t *testing.T) {
		_, err := as.Validate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	t.Run("revoked key never validates", func(t *testing.T) {
		rawKey, key, err := as.Issue(context.Background(), user.ID, "to revoke", nil)
		require.NoError(t, err)
		require.NoError(t, as.Revoke(context.Background(), user.ID, key.ID))

		_, err = as.Validate(context.Background(), rawKey)
		assert.ErrorIs(t, err, ErrAPIKeyRevoked)
	})

	t.Run("expired key never validates", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		rawKey, _, err := as.Issue(context.Background(), user.ID, "expired", &past)
		require.NoError(t, err)

		_, err = as.Validate(context.Background(), rawKey)
		assert.ErrorIs(t, err, ErrAPIKeyExpired)
	})

	t.Run("revoked wins even when also expired", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		rawKey, key, err := as.Issue(context.Background(), user.ID, "both", &past)
		require.NoError(t, err)
		require.NoError(t, as.Revoke(context.Background(), user.ID, key.ID))

		_, err = as.Validate(context.Background(), rawKey)
		assert.Error(t, err)
		assert.NotEqual(t, ErrAPIKeyNotFound, err)
	})

	t.Run("prefix match with wrong remainder", func(t *testing.T) {
		rawKey, _, err := as.Issue(context.Background(), user.ID, "prefix probe", nil)
		require.NoError(t, err)

		forged := rawKey[:8] + strings.Repeat("A", len(rawKey)-8)
		_, err = as.Validate(context.Background(), forged)
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})
}

func TestAPIKeyListAndRevoke(t *testing.T) {
	as, database := newTestAPIKeyService(t)
	owner := createTestUser(t, database, "owner@example.com", models.RoleEditor)
	other := createTestUser(t, database, "other@example.com", models.RoleEditor)

	_, key, err := as.Issue(context.Background(), owner.ID, "mine", nil)
	require.NoError(t, err)

	t.Run("list is scoped to the owner", func(t *testing.T) {
		keys, err := as.List(context.Background(), owner.ID)
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		keys, err = as.List(context.Background(), other.ID)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("cannot revoke someone else's key", func(t *testing.T) {
		err := as.Revoke(context.Background(), other.ID, key.ID)
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	t.Run("revoking an unknown id reports not found", func(t *testing.T) {
		err := as.Revoke(context.Background(), owner.ID, "nope")
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})
}
