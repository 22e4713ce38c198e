package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	DefaultTokenLength = 32 // 256 bits
)

// TokenPair couples the raw secret handed to the client with the hash that
// goes to storage. The raw value is never retrievable after issuance.
type TokenPair struct {
	Token string
	Hash  string
}

func generateToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultTokenLength
	}

	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func GenerateHashedToken(byteLength int) (*TokenPair, error) {
	token, err := generateToken(byteLength)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		Token: token,
		Hash:  HashToken(token),
	}, nil
}

// HashToken returns the hex-encoded SHA-256 digest of a token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// VerifyToken compares a candidate token against a stored hash in constant
// time.
func VerifyToken(token, storedHash string) (bool, error) {
	if token == "" || storedHash == "" {
		return false, errors.New("token and hash cannot be empty")
	}

	tokenHash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(tokenHash), []byte(storedHash)) == 1, nil
}
