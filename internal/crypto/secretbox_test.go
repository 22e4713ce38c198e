package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecretBox(t *testing.T) {
	t.Run("rejects short keys", func(t *testing.T) {
		_, err := NewSecretBox([]byte("too-short"))
		assert.Error(t, err)
	})

	t.Run("accepts a 32-byte key", func(t *testing.T) {
		_, err := NewSecretBox(bytes.Repeat([]byte("k"), 32))
		assert.NoError(t, err)
	})
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox(bytes.Repeat([]byte("a"), 32))
	require.NoError(t, err)

	t.Run("decrypt recovers plaintext", func(t *testing.T) {
		sealed, err := box.Encrypt("JBSWY3DPEHPK3PXP")
		require.NoError(t, err)

		opened, err := box.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "JBSWY3DPEHPK3PXP", opened)
	})

	t.Run("ciphertexts are nondeterministic", func(t *testing.T) {
		first, err := box.Encrypt("secret")
		require.NoError(t, err)
		second, err := box.Encrypt("secret")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("wrong key cannot decrypt", func(t *testing.T) {
		sealed, err := box.Encrypt("secret")
		require.NoError(t, err)

		other, err := NewSecretBox(bytes.Repeat([]byte("b"), 32))
		require.NoError(t, err)

		_, err = other.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("garbage input is rejected", func(t *testing.T) {
		_, err := box.Decrypt("not base64!!!")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)

		_, err = box.Decrypt("c2hvcnQ=")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
}
