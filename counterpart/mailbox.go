package counterpart

import (
	"context"
	"sync"
)

type item struct {
	msg []byte
	fn  func()
}

// mailbox is an unbounded FIFO shared by the reader goroutine and Post.
type mailbox struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(it item) {
	m.mu.Lock()
	m.items = append(m.items, it)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// wait returns the next item. Queued items are delivered before the close
// cause.
func (m *mailbox) wait(ctx context.Context) (item, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			it := m.items[0]
			m.items[0] = item{}
			m.items = m.items[1:]
			m.mu.Unlock()
			return it, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return item{}, err
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return item{}, ctx.Err()
		}
	}
}

func (m *mailbox) drain() []item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
