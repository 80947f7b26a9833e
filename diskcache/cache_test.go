package diskcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/request"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)
	key := request.DataCacheKey("a")
	c.Set(key, []byte("hello"))

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
	assert.True(t, c.Contains(key))
}

func TestGetMissReportsFalse(t *testing.T) {
	c := openTestCache(t)
	_, ok := c.Get(request.DataCacheKey("missing"))
	assert.False(t, ok)
	assert.False(t, c.Contains(request.DataCacheKey("missing")))
}

func TestRemoveDeletesEntry(t *testing.T) {
	c := openTestCache(t)
	key := request.DataCacheKey("a")
	c.Set(key, []byte("bytes"))
	c.Remove(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.False(t, c.Contains(key))
}

func TestSetOverwritesExistingValue(t *testing.T) {
	c := openTestCache(t)
	key := request.DataCacheKey("a")
	c.Set(key, []byte("first"))
	c.Set(key, []byte("second"))

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), v)
}

func TestClosedCacheGetDoesNotPanic(t *testing.T) {
	c, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, ok := c.Get(request.DataCacheKey("a"))
	assert.False(t, ok)
}
