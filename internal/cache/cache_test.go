package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestMemoryCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache().WithClock(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Prune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache().WithClock(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short-1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "short-2", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "long", []byte("c"), time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("d"), 0))

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.t = clock.t.Add(2 * time.Minute)
	n, err = c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, c.Len())

	_, ok, _ := c.Get(ctx, "long")
	assert.True(t, ok)
}

func TestMemoryCache_ExpiredGetKeepsFreshSet(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache().WithClock(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("old"), time.Minute))
	clock.t = clock.t.Add(2 * time.Minute)
	require.NoError(t, c.Set(ctx, "k", []byte("new"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), val)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "missing"))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_RunPrunerStopsOnCancel(t *testing.T) {
	c := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunPruner(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	buf := []byte("abc")

	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	val, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), val)
}

func TestSQLiteCache_RoundTripAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	c.WithClock(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "vision:abc", []byte(`{"productName":"mug"}`), time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("x"), 0))

	val, ok, err := c.Get(ctx, "vision:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"productName":"mug"}`, string(val))

	clock.t = clock.t.Add(2 * time.Hour)
	_, ok, err = c.Get(ctx, "vision:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteCache_Overwrite(t *testing.T) {
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("one"), time.Hour))
	require.NoError(t, c.Set(ctx, "k", []byte("two"), time.Hour))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("two"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_GetSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db, "lp:")
	ctx := context.TODO()

	mock.ExpectSet("lp:k", []byte("v"), time.Minute).SetVal("OK")
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	mock.ExpectGet("lp:k").SetVal("v")
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	mock.ExpectGet("lp:missing").RedisNil()
	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectDel("lp:k").SetVal(1)
	require.NoError(t, c.Delete(ctx, "k"))

	mock.ExpectGet("lp:broken").SetErr(errors.New("redis error"))
	_, _, err = c.Get(ctx, "broken")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis get failure")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
