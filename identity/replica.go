package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/segid"
)

// Wire names used between Authority and Mirror.
const (
	// Kind is the counterpart kind of a Mirror.
	Kind = "identity.mirror"

	methodOp    = "op"
	methodReset = "reset"
)

// ErrClosed is returned by Authority mutations after Close.
var ErrClosed = errors.New("identity: closed")

// Sender delivers calls to the mirror's context.
type Sender interface {
	Send(ctx context.Context, method string, body any) error
}

// Authority is the authoritative copy, owned by the interactive context.
type Authority struct {
	*State

	mu     sync.Mutex
	remote Sender
	ep     *counterpart.Endpoint
	handle counterpart.Handle
	closed bool
	log    *slog.Logger
}

// NewAuthority returns an authority with an empty state and no mirror.
func NewAuthority(logger *slog.Logger) *Authority {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authority{State: NewState(), log: logger}
}

// Attach connects the authority to an existing mirror and sends it a full
// snapshot.
func (a *Authority) Attach(ctx context.Context, remote Sender) error {
	a.mu.Lock()
	a.remote = remote
	a.mu.Unlock()
	return a.Resync(ctx)
}

// Replicate creates the mirror on the peer of ep, initialized from the
// current snapshot.
func (a *Authority) Replicate(ctx context.Context, ep *counterpart.Endpoint) (counterpart.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrClosed
	}
	if a.ep != nil {
		return a.handle, nil
	}

	h, err := ep.Create(ctx, Kind, nil, a.State.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("identity: create mirror: %w", err)
	}
	a.ep, a.handle, a.remote = ep, h, ep.Remote(h)
	return h, nil
}

// Handle returns the mirror's counterpart handle (0 when not replicated).
func (a *Authority) Handle() counterpart.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// Do applies op locally and forwards it to the mirror when it changed the
// state. A send failure leaves the local change in place; Resync repairs the
// mirror.
func (a *Authority) Do(ctx context.Context, op Op) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, ErrClosed
	}
	changed, err := a.State.Apply(op)
	if err != nil || !changed {
		return changed, err
	}
	if a.remote != nil {
		if err := a.remote.Send(ctx, methodOp, op); err != nil {
			a.log.Warn("replicating op failed", "op", op.Kind.String(), "error", err)
			return true, fmt.Errorf("identity: replicate %s: %w", op.Kind, err)
		}
	}
	return true, nil
}

// AddVisible inserts ids into the visible set.
func (a *Authority) AddVisible(ctx context.Context, ids ...segid.ID) (bool, error) {
	return a.Do(ctx, InsertVisible(ids...))
}

// RemoveVisible removes ids from the visible set.
func (a *Authority) RemoveVisible(ctx context.Context, ids ...segid.ID) (bool, error) {
	return a.Do(ctx, RemoveVisible(ids...))
}

// ClearVisible empties the visible set.
func (a *Authority) ClearVisible(ctx context.Context) (bool, error) {
	return a.Do(ctx, ClearVisible())
}

// Merge unions all ids into one class.
func (a *Authority) Merge(ctx context.Context, ids ...segid.ID) (bool, error) {
	return a.Do(ctx, Union(ids...))
}

// SetEquivalences replaces the equivalence relation.
func (a *Authority) SetEquivalences(ctx context.Context, groups [][]segid.ID) (bool, error) {
	return a.Do(ctx, SetEquivalences(groups))
}

// Reset replaces the whole state and sends the mirror a snapshot.
func (a *Authority) Reset(ctx context.Context, snap Snapshot) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	changed := a.State.Restore(snap)
	a.mu.Unlock()

	if !changed {
		return nil
	}
	return a.Resync(ctx)
}

// Resync sends the mirror a full snapshot.
func (a *Authority) Resync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.remote == nil {
		return nil
	}
	if err := a.remote.Send(ctx, methodReset, a.State.Snapshot()); err != nil {
		return fmt.Errorf("identity: resync: %w", err)
	}
	return nil
}

// Close tears down the mirror together with the authority.
func (a *Authority) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.remote = nil
	if a.ep != nil {
		return a.ep.Release(ctx, a.handle)
	}
	return nil
}

// Mirror is the read-mostly copy in the processing context. It only changes
// in response to ops received from the Authority.
type Mirror struct {
	*State

	mu        sync.Mutex
	disposed  bool
	onDispose []func()
	applied   uint64
}

// NewMirror returns a mirror initialized from snap.
func NewMirror(snap Snapshot) *Mirror {
	m := &Mirror{State: NewState()}
	m.State.Restore(snap)
	return m
}

// MirrorFactory builds mirrors for a counterpart.Endpoint. onCreate, if
// set, runs for every new mirror.
func MirrorFactory(onCreate func(counterpart.Handle, *Mirror)) counterpart.Factory {
	return func(_ context.Context, _ *counterpart.Endpoint, h counterpart.Handle, decode func(v any) error) (counterpart.Object, error) {
		var snap Snapshot
		if err := decode(&snap); err != nil {
			return nil, fmt.Errorf("identity: decode snapshot: %w", err)
		}
		m := NewMirror(snap)
		if onCreate != nil {
			onCreate(h, m)
		}
		return m, nil
	}
}

// Receive applies an op or snapshot from the authority.
func (m *Mirror) Receive(_ context.Context, method string, decode func(v any) error) error {
	switch method {
	case methodOp:
		var op Op
		if err := decode(&op); err != nil {
			return err
		}
		_, err := m.ApplyOp(op)
		return err
	case methodReset:
		var snap Snapshot
		if err := decode(&snap); err != nil {
			return err
		}
		m.State.Restore(snap)
		m.count()
		return nil
	default:
		return fmt.Errorf("identity: unknown method %q", method)
	}
}

// ApplyOp applies one received op.
func (m *Mirror) ApplyOp(op Op) (bool, error) {
	changed, err := m.State.Apply(op)
	m.count()
	return changed, err
}

// Applied returns the number of ops and snapshots received.
func (m *Mirror) Applied() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// OnDispose registers fn to run when the mirror is torn down.
func (m *Mirror) OnDispose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDispose = append(m.onDispose, fn)
}

// Disposed reports whether the authority released the mirror.
func (m *Mirror) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Dispose tears the mirror down.
func (m *Mirror) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	fns := m.onDispose
	m.onDispose = nil
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Mirror) count() {
	m.mu.Lock()
	m.applied++
	m.mu.Unlock()
}
