package ws

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/segvis/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_EchoInOrder(t *testing.T) {
	srv := httptest.NewServer(Handler(func(ctx context.Context, c *Conn) {
		for {
			msg, err := c.Recv(ctx)
			if err != nil {
				return
			}
			if err := c.Send(ctx, msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Send(ctx, []byte(fmt.Sprint(i))))
	}
	for i := 0; i < 20; i++ {
		msg, err := c.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(msg))
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	srv := httptest.NewServer(Handler(func(ctx context.Context, c *Conn) {
		_, _ = c.Recv(ctx)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(ctx, []byte("x")), transport.ErrClosed)
}

func TestConn_CloseFlushesQueued(t *testing.T) {
	const n = 200
	got := make(chan string, n)
	srv := httptest.NewServer(Handler(func(ctx context.Context, c *Conn) {
		defer close(got)
		for {
			msg, err := c.Recv(ctx)
			if err != nil {
				return
			}
			got <- string(msg)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	for i := range n {
		require.NoError(t, c.Send(ctx, []byte(fmt.Sprint(i))))
	}
	require.NoError(t, c.Close())

	i := 0
	for msg := range got {
		assert.Equal(t, fmt.Sprint(i), msg)
		i++
	}
	assert.Equal(t, n, i)
}
