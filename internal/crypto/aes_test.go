package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := FromPassphrase("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := c.Seal("smtp-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, SecretPrefix))
	assert.NotContains(t, sealed, "smtp-password")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-password", plain)
}

func TestOpenPassesThroughPlainValues(t *testing.T) {
	c, err := FromPassphrase("key")
	require.NoError(t, err)

	v, err := c.Open("not-secret")
	require.NoError(t, err)
	assert.Equal(t, "not-secret", v)
}

func TestOpenWrongKey(t *testing.T) {
	a, err := FromPassphrase("first")
	require.NoError(t, err)
	b, err := FromPassphrase("second")
	require.NoError(t, err)

	sealed, err := a.Seal("value")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestOpenBadEncoding(t *testing.T) {
	c, err := FromPassphrase("key")
	require.NoError(t, err)

	_, err = c.Open("enc:%%%")
	assert.ErrorContains(t, err, "decode secret")
}

func TestFromPassphraseEmpty(t *testing.T) {
	_, err := FromPassphrase("")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestDecryptShortCiphertext(t *testing.T) {
	c := New(make([]byte, 32))
	_, err := c.Decrypt([]byte{1, 2})
	assert.ErrorContains(t, err, "too short")
}
