package in_memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStorage(t *testing.T) {
	s := NewKVStorage()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("key", "value"))
	value, ok, err := s.Get("key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", value)

	require.NoError(t, s.Set("key", "other"))
	value, _, _ = s.Get("key")
	assert.Equal(t, "other", value)

	require.NoError(t, s.Remove("key"))
	require.NoError(t, s.Remove("key"))
	_, ok, _ = s.Get("key")
	assert.False(t, ok)
}
