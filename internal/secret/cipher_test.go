package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("a-long-enough-test-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("0xdeadbeef")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "deadbeef")

	again, err := c.Encrypt("0xdeadbeef")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", plain)
}

func TestCipherRejectsTampering(t *testing.T) {
	c, err := NewCipher("a-long-enough-test-secret")
	require.NoError(t, err)
	other, err := NewCipher("another-long-test-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("seed")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)

	_, err = c.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewCipherRequiresKey(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
	_, err = NewCipher("short")
	assert.Error(t, err)
}
