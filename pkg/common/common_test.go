package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDint64Unique(t *testing.T) {
	seen := make(map[int64]struct{})
	for i := 0; i < 1000; i++ {
		id := UUIDint64()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestIfEmptyStr(t *testing.T) {
	assert.Equal(t, NA, IfEmptyStr("", NA))
	assert.Equal(t, NA, IfEmptyStr("  ", NA))
	assert.Equal(t, "x", IfEmptyStr("x", NA))
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := Encrypt("s3cret!", "key")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", enc)

	plain, err := Decrypt(enc, "key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret!", plain)

	_, err = Decrypt(enc, "other-key")
	assert.Error(t, err)

	_, err = Decrypt("%%%", "key")
	assert.Error(t, err)
}
