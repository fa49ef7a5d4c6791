package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte{0xff, 0xd8, 0xff}
	require.NoError(t, s.Put(ctx, "analysis/a.jpg", data, "image/jpeg"))
	data[0] = 0 // the store keeps its own copy

	got, ct, err := s.Get(ctx, "analysis/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, got)
	assert.Equal(t, "image/jpeg", ct)

	url, err := s.URL(ctx, "analysis/a.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	assert.Equal(t, "data:image/jpeg;base64,/9j/", url)

	require.NoError(t, s.Delete(ctx, "analysis/a.jpg"))
	require.NoError(t, s.Delete(ctx, "analysis/a.jpg"))
	assert.Equal(t, 0, s.Len())

	_, _, err = s.Get(ctx, "analysis/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.URL(ctx, "analysis/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestS3StoreKey(t *testing.T) {
	s := &S3Store{prefix: "uploads"}
	assert.Equal(t, "uploads/analysis/a.jpg", s.key("analysis/a.jpg"))

	s.prefix = ""
	assert.Equal(t, "analysis/a.jpg", s.key("analysis/a.jpg"))
}
