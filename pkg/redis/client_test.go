package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	c, err := NewClient(config.RedisConfig{Addr: m.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, m
}

func TestGetSetDel(t *testing.T) {
	c, m := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "history:missing")
	assert.True(t, IsNilError(err))

	require.NoError(t, c.Set(ctx, "history:a", []byte(`[]`), time.Minute))
	got, err := c.Get(ctx, "history:a")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
	assert.Equal(t, time.Minute, m.TTL("history:a"))

	require.NoError(t, c.Del(ctx, "history:a"))
	assert.False(t, m.Exists("history:a"))
}

func TestFlushByPatternCrossesBatches(t *testing.T) {
	c, m := newTestClient(t)
	ctx := context.Background()
	for i := 0; i < 250; i++ {
		require.NoError(t, m.Set(fmt.Sprintf("history:item-1:%d", i), "x"))
	}
	require.NoError(t, m.Set("history:item-2", "x"))

	deleted, err := c.FlushByPattern(ctx, "history:item-1*")
	require.NoError(t, err)
	assert.Equal(t, int64(250), deleted)
	assert.True(t, m.Exists("history:item-2"))
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	addr := m.Addr()
	m.Close()

	_, err = NewClient(config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
