package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialID(t *testing.T) {
	id, err := NewCredentialID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, CredentialPrefix))
	assert.Len(t, id, len(CredentialPrefix)+Length)
}

func TestGenerateUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := Generate("x-")
		require.NoError(t, err)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate ID %s", id)
		seen[id] = struct{}{}
	}
}
