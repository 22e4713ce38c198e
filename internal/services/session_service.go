package services

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/config"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
	"go.uber.org/zap"
)

const SessionCookieName = "session_token"

var ErrMissingSecret = errors.New("session secret is not configured")

// AuthSession is the identity extracted from a verified credential, either
// a session cookie or an API key.
type AuthSession struct {
	UserID string
	Role   models.UserRole
}

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

// SessionService issues and verifies signed session tokens. Identity and
// role live entirely inside the token, so verification needs no storage
// access; role changes take effect on the next login.
type SessionService struct {
	secret  []byte
	timeout time.Duration
	cookie  config.CookieConfig
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewSessionService(cfg *config.Configuration, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *SessionService {
	return &SessionService{
		secret:  []byte(cfg.Security.SessionSecret),
		timeout: cfg.Security.SessionTimeout,
		cookie:  cfg.Cookie,
		logger:  logger.With(zap.String("service", "session_service")),
		metrics: metricsCollector,
	}
}

func (ss *SessionService) Issue(userID string, role models.UserRole) (string, error) {
	if len(ss.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ss.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
		Role:   string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ss.secret)
	if err != nil {
		return "", err
	}

	ss.metrics.IncrementCounter("session.issued", nil)
	return signed, nil
}

// Verify validates a session token and returns its identity, or nil. It
// fails closed on every malformed input: missing secret, bad signature,
// expired token, or a payload without a role claim.
func (ss *SessionService) Verify(token string) *AuthSession {
	if token == "" || len(ss.secret) == 0 {
		return nil
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return ss.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		ss.metrics.IncrementCounter("session.verify.rejected", nil)
		return nil
	}

	// A signed token without a role claim predates the role scheme; treat
	// it as invalid rather than guessing a privilege level.
	role := models.UserRole(claims.Role)
	if claims.UserID == "" || !role.Valid() {
		ss.metrics.IncrementCounter("session.verify.rejected", nil)
		return nil
	}

	ss.metrics.IncrementCounter("session.verify.ok", nil)
	return &AuthSession{UserID: claims.UserID, Role: role}
}

// VerifyRequest reads the session cookie from a request and verifies it.
func (ss *SessionService) VerifyRequest(r *http.Request) *AuthSession {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return ss.Verify(cookie.Value)
}

// WriteCookie sets the session cookie with attributes derived from the
// configured cookie policy.
func (ss *SessionService) WriteCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   ss.cookie.Domain,
		MaxAge:   int(ss.timeout.Seconds()),
		HttpOnly: true,
		Secure:   ss.secureFlag(r),
		SameSite: ss.sameSite(),
	})
}

// ClearCookie expires the session cookie. Logout is client-side: the
// server does not track issued tokens, it only stops the browser from
// presenting this one.
func (ss *SessionService) ClearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   ss.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ss.secureFlag(r),
		SameSite: ss.sameSite(),
	})
}

func (ss *SessionService) secureFlag(r *http.Request) bool {
	switch ss.cookie.SecureMode {
	case "always":
		return true
	case "never":
		return false
	}
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if ss.cookie.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https" {
		return true
	}
	return false
}

func (ss *SessionService) sameSite() http.SameSite {
	switch ss.cookie.SameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
