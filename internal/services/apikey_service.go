package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/crypto"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrMalformedAuthHeader = errors.New("malformed authorization header, expected 'Bearer <token>'")
	ErrAPIKeyNotFound      = errors.New("api key not found")
	ErrAPIKeyRevoked       = errors.New("api key has been revoked")
	ErrAPIKeyExpired       = errors.New("api key has expired")
)

// KeyIDPrefix marks ChronoChimp API keys; the stored lookup prefix covers
// it plus the first random characters.
const KeyIDPrefix = "cc_"

// APIKeyService validates bearer API keys in two stages. ParseBearer is
// the pre-check stage: pure header parsing with no storage or crypto
// access, so it can run anywhere. Validate is the privileged stage: prefix
// lookup, hash comparison, revocation and expiry checks against the
// credential store.
type APIKeyService struct {
	db        *gorm.DB
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
	prefixLen int
}

func NewAPIKeyService(db *gorm.DB, prefixLen int, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *APIKeyService {
	return &APIKeyService{
		db:        db,
		logger:    logger.With(zap.String("service", "apikey_service")),
		metrics:   metricsCollector,
		prefixLen: prefixLen,
	}
}

// ParseBearer extracts the raw key from an Authorization header value.
// Stage one of validation: it must stay free of storage and hashing so it
// can execute in a context without those capabilities.
func ParseBearer(header string) (string, error) {
	const scheme = "Bearer "
	if header == "" || !strings.HasPrefix(header, scheme) {
		return "", ErrMalformedAuthHeader
	}
	raw := strings.TrimSpace(header[len(scheme):])
	if raw == "" {
		return "", ErrMalformedAuthHeader
	}
	return raw, nil
}

// Validate is stage two: resolves a raw key to its owner's identity. The
// prefix narrows the candidate set; the SHA-256 hash comparison decides.
func (as *APIKeyService) Validate(ctx context.Context, rawKey string) (*AuthSession, error) {
	start := time.Now()
	defer func() {
		as.metrics.ObserveLatency("apikey.validate", time.Since(start))
	}()

	if len(rawKey) < as.prefixLen {
		as.metrics.IncrementCounter("apikey.validate.rejected", map[string]string{"reason": "not_found"})
		return nil, ErrAPIKeyNotFound
	}
	prefix := rawKey[:as.prefixLen]

	var candidates []models.ApiKey
	if err := as.db.WithContext(ctx).Where("key_prefix = ?", prefix).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}

	for i := range candidates {
		key := &candidates[i]
		match, err := crypto.VerifyToken(rawKey, key.KeyHash)
		if err != nil || !match {
			continue
		}

		if key.Revoked {
			as.metrics.IncrementCounter("apikey.validate.rejected", map[string]string{"reason": "revoked"})
			return nil, ErrAPIKeyRevoked
		}
		if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
			as.metrics.IncrementCounter("apikey.validate.rejected", map[string]string{"reason": "expired"})
			return nil, ErrAPIKeyExpired
		}

		var user models.User
		if err := as.db.WithContext(ctx).First(&user, "id = ?", key.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrAPIKeyNotFound
			}
			return nil, fmt.Errorf("failed to load key owner: %w", err)
		}

		now := time.Now()
		if err := as.db.WithContext(ctx).Model(key).Update("last_used_at", now).Error; err != nil {
			as.logger.Warn("failed to record api key usage", zap.String("key_id", key.ID), zap.Error(err))
		}

		as.metrics.IncrementCounter("apikey.validate.ok", nil)
		return &AuthSession{UserID: user.ID, Role: user.Role}, nil
	}

	as.metrics.IncrementCounter("apikey.validate.rejected", map[string]string{"reason": "not_found"})
	return nil, ErrAPIKeyNotFound
}

// Issue creates a new key for a user. The raw key is returned exactly
// once; storage keeps the prefix and a SHA-256 hash.
func (as *APIKeyService) Issue(ctx context.Context, userID, name string, expiresAt *time.Time) (string, *models.ApiKey, error) {
	pair, err := crypto.GenerateHashedToken(crypto.DefaultTokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	rawKey := KeyIDPrefix + pair.Token
	key := &models.ApiKey{
		UserID:    userID,
		Name:      name,
		KeyPrefix: rawKey[:as.prefixLen],
		KeyHash:   crypto.HashToken(rawKey),
		ExpiresAt: expiresAt,
	}

	if err := as.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}

	as.logger.Info("API key issued",
		zap.String("key_id", key.ID),
		zap.String("user_id", userID),
		zap.String("prefix", key.KeyPrefix),
	)
	as.metrics.IncrementCounter("apikey.issued", nil)
	return rawKey, key, nil
}

func (as *APIKeyService) List(ctx context.Context, userID string) ([]models.ApiKey, error) {
	var keys []models.ApiKey
	if err := as.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Revoke marks a key unusable. Only the owner can revoke; the revoked flag
// is permanent.
func (as *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	result := as.db.WithContext(ctx).Model(&models.ApiKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked", true)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}

	as.logger.Info("API key revoked", zap.String("key_id", keyID), zap.String("user_id", userID))
	as.metrics.IncrementCounter("apikey.revoked", nil)
	return nil
}
