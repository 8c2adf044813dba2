package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestBlobStorePutGetDelete(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "docs/conn/abc", "application/pdf", bytes.NewReader([]byte("%PDF")))
	require.NoError(t, err)
	assert.Equal(t, "memory://docs/conn/abc", uri)

	obj, ok := store.Get("docs/conn/abc")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", obj.ContentType)
	obj.Data[0] = 'X'
	again, _ := store.Get("docs/conn/abc")
	assert.Equal(t, "%PDF", string(again.Data))

	require.NoError(t, store.DeleteObject(ctx, "docs/conn/abc"))
	require.NoError(t, store.DeleteObject(ctx, "docs/conn/abc"))
	assert.Equal(t, 0, store.Len())
}

func TestBlobStoreReadError(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "p", "", failingReader{})
	require.ErrorContains(t, err, "failed to read data from reader")
}
