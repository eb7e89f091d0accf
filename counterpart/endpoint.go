package counterpart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/segvis/codec"
	"github.com/hupe1980/segvis/transport"
)

var (
	// ErrClosed is returned after the endpoint shut down.
	ErrClosed = errors.New("counterpart: endpoint closed")

	// ErrUnknownHandle is returned for calls to handles with no local object.
	ErrUnknownHandle = errors.New("counterpart: unknown handle")

	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("counterpart: unknown object kind")
)

// MethodError is the method delivered to the creating side when the peer
// failed to construct a counterpart. Its body is an ErrorBody.
const MethodError = "counterpart.error"

// ErrorBody describes a remote failure.
type ErrorBody struct {
	Message string `json:"message"`
}

// Side selects the handle space of an endpoint.
type Side int8

const (
	Frontend Side = 1
	Backend  Side = -1
)

// Handle addresses a pair of counterpart objects.
type Handle int64

// Object is the local half of a counterpart pair.
type Object interface {
	// Receive handles a call addressed to this object. decode unmarshals the
	// call body.
	Receive(ctx context.Context, method string, decode func(v any) error) error
	// Dispose releases the object. It is called at most once.
	Dispose()
}

// Factory builds the local counterpart of an object created by the peer.
type Factory func(ctx context.Context, ep *Endpoint, h Handle, decode func(v any) error) (Object, error)

type envelopeKind string

const (
	kindCreate  envelopeKind = "create"
	kindCall    envelopeKind = "call"
	kindDispose envelopeKind = "dispose"
)

type envelope struct {
	Kind   envelopeKind    `json:"k"`
	Handle Handle          `json:"h"`
	Type   string          `json:"t,omitempty"`
	Method string          `json:"m,omitempty"`
	Body   json.RawMessage `json:"b,omitempty"`
}

// Options configures an Endpoint.
type Options struct {
	// Codec encodes envelopes and bodies. Defaults to codec.Default.
	Codec codec.Codec
	// Logger receives dropped-message and factory failures.
	Logger *slog.Logger
}

// Endpoint is one side of a counterpart connection.
type Endpoint struct {
	ch    transport.Channel
	codec codec.Codec
	side  Side
	log   *slog.Logger
	box   *mailbox

	mu        sync.Mutex
	next      int64
	objects   map[Handle]Object
	factories map[string]Factory

	startOnce sync.Once
	closeOnce sync.Once
}

// NewEndpoint creates an endpoint. Call Start before Serve or Poll.
func NewEndpoint(ch transport.Channel, side Side, optFns ...func(o *Options)) *Endpoint {
	opts := Options{
		Codec:  codec.Default,
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Endpoint{
		ch:        ch,
		codec:     opts.Codec,
		side:      side,
		log:       opts.Logger.With("side", side.String()),
		box:       newMailbox(),
		objects:   make(map[Handle]Object),
		factories: make(map[string]Factory),
	}
}

func (s Side) String() string {
	if s == Backend {
		return "backend"
	}
	return "frontend"
}

// Side returns the handle space of the endpoint.
func (e *Endpoint) Side() Side { return e.side }

// Register installs the factory for objects of kind created by the peer.
func (e *Endpoint) Register(kind string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[kind] = f
}

// Start launches the reader goroutine. It stops when ctx ends or the channel
// closes; the mailbox then reports the cause.
func (e *Endpoint) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go func() {
			for {
				msg, err := e.ch.Recv(ctx)
				if err != nil {
					e.box.close(err)
					return
				}
				e.box.push(item{msg: msg})
			}
		}()
	})
}

// Post schedules fn to run on the owning context.
func (e *Endpoint) Post(fn func()) {
	e.box.push(item{fn: fn})
}

// Serve processes mailbox items until ctx ends or the channel closes.
func (e *Endpoint) Serve(ctx context.Context) error {
	for {
		it, err := e.box.wait(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return ErrClosed
			}
			return err
		}
		e.process(ctx, it)
	}
}

// Poll processes every queued item without blocking and returns how many
// were handled.
func (e *Endpoint) Poll(ctx context.Context) int {
	items := e.box.drain()
	for _, it := range items {
		e.process(ctx, it)
	}
	return len(items)
}

// Create registers local (may be nil) under a new handle and asks the peer to
// build its counterpart of the given kind from init.
func (e *Endpoint) Create(ctx context.Context, kind string, local Object, init any) (Handle, error) {
	body, err := e.codec.Marshal(init)
	if err != nil {
		return 0, fmt.Errorf("counterpart: encode %s: %w", kind, err)
	}

	e.mu.Lock()
	e.next++
	h := Handle(e.next * int64(e.side))
	if local != nil {
		e.objects[h] = local
	}
	e.mu.Unlock()

	if err := e.send(ctx, envelope{Kind: kindCreate, Handle: h, Type: kind, Body: body}); err != nil {
		e.mu.Lock()
		delete(e.objects, h)
		e.mu.Unlock()
		return 0, err
	}
	return h, nil
}

// Call sends method(body) to the peer's object h.
func (e *Endpoint) Call(ctx context.Context, h Handle, method string, body any) error {
	b, err := e.codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("counterpart: encode %s: %w", method, err)
	}
	return e.send(ctx, envelope{Kind: kindCall, Handle: h, Method: method, Body: b})
}

// Remote returns a sender bound to handle h.
func (e *Endpoint) Remote(h Handle) *Remote {
	return &Remote{ep: e, h: h}
}

// Release unregisters h locally and disposes the peer's counterpart. The
// local object's Dispose is left to the caller.
func (e *Endpoint) Release(ctx context.Context, h Handle) error {
	e.mu.Lock()
	delete(e.objects, h)
	e.mu.Unlock()
	return e.send(ctx, envelope{Kind: kindDispose, Handle: h})
}

// Lookup returns the local object registered under h.
func (e *Endpoint) Lookup(h Handle) (Object, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[h]
	return obj, ok
}

// Len returns the number of registered local objects.
func (e *Endpoint) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.objects)
}

// Close disposes every local object and closes the channel.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		objs := e.objects
		e.objects = make(map[Handle]Object)
		e.mu.Unlock()

		for _, obj := range objs {
			obj.Dispose()
		}
		err = e.ch.Close()
		e.box.close(ErrClosed)
	})
	return err
}

func (e *Endpoint) send(ctx context.Context, env envelope) error {
	b, err := e.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("counterpart: encode envelope: %w", err)
	}
	if err := e.ch.Send(ctx, b); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (e *Endpoint) process(ctx context.Context, it item) {
	if it.fn != nil {
		it.fn()
		return
	}

	var env envelope
	if err := e.codec.Unmarshal(it.msg, &env); err != nil {
		e.log.Warn("dropping malformed message", "error", err)
		return
	}
	decode := func(v any) error {
		if len(env.Body) == 0 {
			return nil
		}
		return e.codec.Unmarshal(env.Body, v)
	}

	switch env.Kind {
	case kindCreate:
		e.create(ctx, env, decode)
	case kindCall:
		obj, ok := e.Lookup(env.Handle)
		if !ok {
			// Calls racing with a release are expected.
			e.log.Debug("dropping call to unknown handle", "handle", env.Handle, "method", env.Method)
			return
		}
		if err := obj.Receive(ctx, env.Method, decode); err != nil {
			e.log.Warn("call failed", "handle", env.Handle, "method", env.Method, "error", err)
		}
	case kindDispose:
		e.mu.Lock()
		obj, ok := e.objects[env.Handle]
		delete(e.objects, env.Handle)
		e.mu.Unlock()
		if ok {
			obj.Dispose()
		}
	default:
		e.log.Warn("dropping message of unknown kind", "kind", env.Kind)
	}
}

func (e *Endpoint) create(ctx context.Context, env envelope, decode func(v any) error) {
	e.mu.Lock()
	f, ok := e.factories[env.Type]
	e.mu.Unlock()

	var (
		obj Object
		err error
	)
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	} else {
		obj, err = f(ctx, e, env.Handle, decode)
	}
	if err != nil {
		e.log.Warn("counterpart creation failed", "kind", env.Type, "handle", env.Handle, "error", err)
		if sendErr := e.Call(ctx, env.Handle, MethodError, ErrorBody{Message: err.Error()}); sendErr != nil {
			e.log.Warn("reporting creation failure", "handle", env.Handle, "error", sendErr)
		}
		return
	}

	e.mu.Lock()
	e.objects[env.Handle] = obj
	e.mu.Unlock()
}

// Remote sends calls to one peer object.
type Remote struct {
	ep *Endpoint
	h  Handle
}

// Handle returns the addressed handle.
func (r *Remote) Handle() Handle { return r.h }

// Send calls method(body) on the peer object.
func (r *Remote) Send(ctx context.Context, method string, body any) error {
	return r.ep.Call(ctx, r.h, method, body)
}
