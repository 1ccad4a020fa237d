package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsHexSHA256(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Sum("ab", "c"))
}

func TestHashGeneratesSalt(t *testing.T) {
	h := New()
	hash, salt, err := h.Hash("u1", "pw1")
	require.NoError(t, err)
	assert.Len(t, salt, SaltLength)
	assert.Regexp(t, "^[A-Za-z0-9]+$", salt)
	assert.Equal(t, Sum("pw1", salt), hash)
	assert.True(t, h.Verify(hash, salt, "pw1"))
	assert.False(t, h.Verify(hash, salt, "pw2"))

	_, other, err := h.Hash("u1", "pw1")
	require.NoError(t, err)
	assert.NotEqual(t, salt, other)
}

func TestBootstrapAccountsUnsalted(t *testing.T) {
	h := New(DefaultBootstrapIDs...)
	hash, salt, err := h.Hash("admin001", "admin")
	require.NoError(t, err)
	assert.Empty(t, salt)
	assert.Equal(t, Sum("admin", ""), hash)
	assert.True(t, h.Verify(hash, salt, "admin"))

	_, salt, err = h.Rehash("admin")
	require.NoError(t, err)
	assert.Len(t, salt, SaltLength)
}

func TestBootstrapDisabledByDefault(t *testing.T) {
	h := New()
	assert.False(t, h.IsBootstrap("admin001"))
	_, salt, err := h.Hash("admin001", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, salt)

	var nilHasher *Hasher
	assert.False(t, nilHasher.IsBootstrap("admin001"))
}

func TestVerifyUnknownNeverMatches(t *testing.T) {
	h := New()
	for _, candidate := range []string{"", "pw", unknownSalt, "0000"} {
		assert.False(t, h.VerifyUnknown(candidate), candidate)
	}
}
