package secretcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESCipherRoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewAESCipher(key)
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("telegram:123456:chat-id,webhook:https://example.com/hook")
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "telegram:123456:chat-id,webhook:https://example.com/hook", plaintext)
}

func TestNewFromHexKeyEmptyReturnsNoop(t *testing.T) {
	c, err := NewFromHexKey("")
	require.NoError(t, err)
	out, err := c.Encrypt("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", out)
}

func TestNewFromHexKeyRejectsWrongLength(t *testing.T) {
	_, err := NewFromHexKey("ab")
	require.Error(t, err)
}

func TestDecryptEmptyStringIsEmpty(t *testing.T) {
	key := make([]byte, 32)
	c, err := NewAESCipher(key)
	require.NoError(t, err)
	out, err := c.Decrypt("")
	require.NoError(t, err)
	require.Equal(t, "", out)
}
