package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionStore(t *testing.T) {
	t.Parallel()

	s := NewVersionStore()
	ctx := context.Background()

	v, err := s.Get(ctx, "c", "D1")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Put(ctx, "c", "D1", "v1"))
	require.NoError(t, s.Put(ctx, "c", "D2", "v2"))
	require.NoError(t, s.Put(ctx, "other", "D1", "x"))

	v, err = s.Get(ctx, "c", "D1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.Delete(ctx, "c", "D1"))
	all, err := s.List(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"D2": "v2"}, all)
}
