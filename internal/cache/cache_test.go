package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("kt", time.Minute)

	_, err := c.Get(ctx, "a")
	require.True(t, IsNotFound(err))

	val := []byte("hola")
	require.NoError(t, c.Set(ctx, "a", val, 0))
	val[0] = 'X'

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "hola", string(got))

	require.NoError(t, c.Delete(ctx, "a"))
	_, err = c.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "memory", st.Driver)
	require.Equal(t, int64(1), st.Hits)
	require.Equal(t, int64(2), st.Misses)
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", 0)
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 20*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, "a")
		return IsNotFound(err)
	}, time.Second, 10*time.Millisecond)
}

func TestNew_Drivers(t *testing.T) {
	c, err := New(Config{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	_, err = New(Config{Driver: "memcached"})
	require.Error(t, err)
}
