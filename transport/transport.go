// Package transport defines the opaque, reliable, FIFO message channel that
// connects the interactive context to the processing context.
//
// Nothing is shared between the two ends except the bytes that travel
// through a Channel. Pipe connects two ends inside one process; package
// transport/ws carries the same messages over a websocket.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Recv once the channel is closed and, for
// Recv, all buffered messages were delivered.
var ErrClosed = errors.New("transport: channel closed")

// Channel is a reliable, ordered, message-oriented duplex connection.
type Channel interface {
	// Send enqueues msg for delivery. Messages are delivered in send order.
	Send(ctx context.Context, msg []byte) error
	// Recv blocks until a message arrives, ctx is done or the channel closes.
	Recv(ctx context.Context) ([]byte, error)
	// Close shuts the channel down in both directions.
	Close() error
}

// Pipe returns two connected in-process channel ends. Send never blocks;
// the queue is unbounded so neither context can stall the other.
func Pipe() (Channel, Channel) {
	a, b := newQueue(), newQueue()
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			a.close()
			b.close()
		})
	}
	return &pipeEnd{in: a, out: b, shutdown: shutdown}, &pipeEnd{in: b, out: a, shutdown: shutdown}
}

type pipeEnd struct {
	in, out  *queue
	shutdown func()
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := make([]byte, len(msg))
	copy(b, msg)
	return p.out.push(b)
}

func (p *pipeEnd) Recv(ctx context.Context) ([]byte, error) {
	return p.in.pop(ctx)
}

func (p *pipeEnd) Close() error {
	p.shutdown()
	return nil
}

// queue is an unbounded FIFO of messages.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(b []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
