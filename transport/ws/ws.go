// Package ws carries transport.Channel messages over a websocket.
//
// Each message is one binary websocket frame. Writes are serialized through
// a writer goroutine fed by a bounded queue; reads happen on the caller's
// goroutine. Close flushes queued messages before the close frame.
// Cancelling the context of a pending Recv tears down the connection, since
// websocket read errors are permanent.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/segvis/transport"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Conn adapts a websocket connection to transport.Channel.
type Conn struct {
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{}
	flushed chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once
	mu         sync.Mutex
	err        error
}

var _ transport.Channel = (*Conn)(nil)

// New wraps an established websocket connection.
func New(conn *websocket.Conn) *Conn {
	c := &Conn{
		conn:    conn,
		out:     make(chan []byte, defaultQueueSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Handler upgrades incoming requests and hands the channel to serve. The
// connection is closed when serve returns.
func Handler(serve func(ctx context.Context, c *Conn)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		c := New(conn)
		defer c.Close()
		serve(r.Context(), c)
	})
}

// Send queues msg for the writer goroutine.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	b := make([]byte, len(msg))
	copy(b, msg)

	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv reads the next message.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.fail(ctxErr)
				return nil, ctxErr
			}
			c.fail(err)
			return nil, c.closedErr()
		}
		if typ == websocket.BinaryMessage || typ == websocket.TextMessage {
			return msg, nil
		}
	}
}

// Close writes the messages still queued, sends a close frame and releases
// the connection.
func (c *Conn) Close() error {
	c.fail(nil)
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.flushed)
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case b := <-c.out:
			if !c.write(b, time.Now().Add(writeTimeout)) {
				return
			}
		}
	}
}

// drain writes what is left in the queue after a graceful Close, all
// within one write timeout.
func (c *Conn) drain() {
	c.mu.Lock()
	graceful := c.err == nil
	c.mu.Unlock()
	if !graceful {
		return
	}
	deadline := time.Now().Add(writeTimeout)
	for {
		select {
		case b := <-c.out:
			if !c.write(b, deadline) {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(b []byte, deadline time.Time) bool {
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		c.shutdown(err)
		_ = c.conn.Close()
		return false
	}
	return true
}

// fail stops accepting messages, waits for the writer and closes the
// connection. A nil err is a graceful close.
func (c *Conn) fail(err error) {
	c.shutdown(err)
	<-c.flushed
	c.finishOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil || websocket.IsCloseError(c.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return transport.ErrClosed
	}
	return errors.Join(transport.ErrClosed, c.err)
}
