package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Cookie   CookieConfig   `json:"cookie"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	SessionSecret     string        `json:"session_secret"`
	SessionTimeout    time.Duration `json:"session_timeout"`
	EncryptionKey     string        `json:"encryption_key"` // 32 bytes, AES-256-GCM for TOTP secrets
	TOTPIssuer        string        `json:"totp_issuer"`
	PasswordMinLength int           `json:"password_min_length"`
	PasswordMaxLength int           `json:"password_max_length"`
	InviteExpiry      time.Duration `json:"invite_expiry"`
	APIKeyPrefixLen   int           `json:"api_key_prefix_len"`
	BackupCodeCount   int           `json:"backup_code_count"`
	MaxFailedAttempts int           `json:"max_failed_attempts"`
}

// CookieConfig controls the session cookie attributes. SecureMode "auto"
// derives the Secure flag from the request scheme (honoring
// X-Forwarded-Proto when TrustProxy is set); "always"/"never" override it.
type CookieConfig struct {
	SecureMode string `json:"secure_mode"` // "auto", "always", "never"
	SameSite   string `json:"same_site"`   // "lax", "strict", "none"
	Domain     string `json:"domain"`
	TrustProxy bool   `json:"trust_proxy"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
		applyEnvOverrides(config)
	})

	return config, err
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func UpdateConfig(updater func(*Configuration)) {
	configLock.Lock()
	defer configLock.Unlock()
	updater(config)
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{}
	applyDefaults(config)
	applyEnvOverrides(config)

	return config
}

func applyDefaults(cfg *Configuration) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	if cfg.Security.SessionTimeout == 0 {
		cfg.Security.SessionTimeout = 24 * time.Hour
	}
	if cfg.Security.TOTPIssuer == "" {
		cfg.Security.TOTPIssuer = "ChronoChimp"
	}
	if cfg.Security.PasswordMinLength == 0 {
		cfg.Security.PasswordMinLength = 8
	}
	if cfg.Security.PasswordMaxLength == 0 {
		cfg.Security.PasswordMaxLength = 64
	}
	if cfg.Security.InviteExpiry == 0 {
		cfg.Security.InviteExpiry = 72 * time.Hour
	}
	if cfg.Security.APIKeyPrefixLen == 0 {
		cfg.Security.APIKeyPrefixLen = 8
	}
	if cfg.Security.BackupCodeCount == 0 {
		cfg.Security.BackupCodeCount = 10
	}
	if cfg.Security.MaxFailedAttempts == 0 {
		cfg.Security.MaxFailedAttempts = 5
	}

	if cfg.Cookie.SecureMode == "" {
		cfg.Cookie.SecureMode = "auto"
	}
	if cfg.Cookie.SameSite == "" {
		cfg.Cookie.SameSite = "lax"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.Username == "" {
		cfg.Database.Username = "postgres"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "chronochimp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 100
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
}

// Secrets never ship in the JSON file in production; they arrive through
// the environment and win over whatever the file carries.
func applyEnvOverrides(cfg *Configuration) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Security.SessionSecret = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		cfg.Cookie.SecureMode = v
	}
	if v := os.Getenv("COOKIE_SAMESITE"); v != "" {
		cfg.Cookie.SameSite = v
	}
	if v := os.Getenv("COOKIE_DOMAIN"); v != "" {
		cfg.Cookie.Domain = v
	}
	if v := os.Getenv("TRUST_PROXY"); v == "true" || v == "1" {
		cfg.Cookie.TrustProxy = true
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations the auth core cannot run with. A missing
// session secret would make every token unverifiable, and GCM needs a full
// 32-byte key.
func Validate(cfg *Configuration) error {
	if cfg.Security.SessionSecret == "" {
		return fmt.Errorf("security.session_secret is required")
	}
	if len(cfg.Security.SessionSecret) < 32 {
		return fmt.Errorf("security.session_secret must be at least 32 characters")
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		return fmt.Errorf("security.encryption_key must be exactly 32 bytes, got %d", len(cfg.Security.EncryptionKey))
	}
	// Raw API keys are "cc_" plus 43 base64url characters; the stored
	// prefix must cover the marker plus at least one random character and
	// cannot exceed the key itself.
	if cfg.Security.APIKeyPrefixLen < 4 || cfg.Security.APIKeyPrefixLen > 46 {
		return fmt.Errorf("security.api_key_prefix_len must be between 4 and 46, got %d", cfg.Security.APIKeyPrefixLen)
	}
	switch cfg.Cookie.SecureMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("cookie.secure_mode must be auto, always or never, got %q", cfg.Cookie.SecureMode)
	}
	switch cfg.Cookie.SameSite {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("cookie.same_site must be lax, strict or none, got %q", cfg.Cookie.SameSite)
	}
	return nil
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.Duration("session_timeout", config.Security.SessionTimeout),
		zap.String("totp_issuer", config.Security.TOTPIssuer),
		zap.Duration("invite_expiry", config.Security.InviteExpiry),
		zap.String("cookie_secure_mode", config.Cookie.SecureMode),
		zap.String("cookie_same_site", config.Cookie.SameSite),
		zap.Bool("trust_proxy", config.Cookie.TrustProxy),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
	)
}
