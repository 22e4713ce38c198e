package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
)

// newTestDB opens a throwaway in-memory database with the credential
// schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(database))
	return database
}

func createTestUser(t *testing.T, database *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()

	hash, err := utils.EncryptPassword("correct horse battery staple")
	require.NoError(t, err)

	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	require.NoError(t, database.Create(user).Error)
	return user
}
