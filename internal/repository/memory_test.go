package repository

import (
	"context"
	"net/http"
	"testing"
	"time"

	"mozzafiato/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResponseCache(t *testing.T) {
	cache := NewMemoryResponseCache()
	ctx := context.Background()

	t.Run("PutOverwritesAndCopies", func(t *testing.T) {
		body := []byte("first")
		entry := &models.CacheEntry{Namespace: "v1", Key: "GET /", Status: http.StatusOK, Body: body, CapturedAt: time.Now()}
		require.NoError(t, cache.Put(ctx, entry))

		body[0] = 'X'
		got, err := cache.Get(ctx, "v1", "GET /")
		require.NoError(t, err)
		assert.Equal(t, "first", string(got.Body))

		require.NoError(t, cache.Put(ctx, &models.CacheEntry{Namespace: "v1", Key: "GET /", Body: []byte("second")}))
		got, _ = cache.Get(ctx, "v1", "GET /")
		assert.Equal(t, "second", string(got.Body))
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := cache.Get(ctx, "v1", "GET /missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Namespaces", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, &models.CacheEntry{Namespace: "v0", Key: "GET /"}))
		names, err := cache.Namespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v0", "v1"}, names)

		require.NoError(t, cache.DropNamespace(ctx, "v0"))
		names, _ = cache.Namespaces(ctx)
		assert.Equal(t, []string{"v1"}, names)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, cache.Delete(ctx, "v1", "GET /"))
		got, _ := cache.Get(ctx, "v1", "GET /")
		assert.Nil(t, got)
	})
}
