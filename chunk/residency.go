package chunk

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/geometry"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/internal/resource"
)

// Clock counts frames. Residencies sharing a clock agree on what "needed in
// the current frame" means.
type Clock struct {
	frame atomic.Uint64
}

// Advance starts a new frame and returns its number.
func (c *Clock) Advance() uint64 { return c.frame.Add(1) }

// Frame returns the current frame number.
func (c *Clock) Frame() uint64 { return c.frame.Load() }

// Resident is a chunk whose geometry lives in GPU buffers.
type Resident struct {
	Key      Key
	Kind     geometry.Kind
	Vertices *gpu.Buffer
	Indices  *gpu.Buffer
	// Count is the number of indices.
	Count int
	// Bytes is the GPU memory charged to the budget.
	Bytes int64

	lastNeeded uint64
	owner      *Residency
}

// LastNeeded returns the last frame in which the chunk was drawn.
func (r *Resident) LastNeeded() uint64 { return r.lastNeeded }

func (r *Resident) release() {
	r.Vertices.Dispose()
	r.Indices.Dispose()
}

// ResidencyOptions configures a Residency.
type ResidencyOptions struct {
	Kind    geometry.Kind
	Logger  *slog.Logger
	Metrics Metrics
	// OnError runs when the peer reports that the Source could not be built.
	OnError func(error)
	// Peers returns the residencies sharing the budget. Their chunks not
	// needed in the current frame are eviction candidates too.
	Peers func() []*Residency
}

// Residency owns the GPU copies of one source's chunks. It belongs to the
// interactive context and is not safe for concurrent use.
type Residency struct {
	dev    gpu.Device
	budget *resource.Controller
	clock  *Clock
	remote Sender
	opts   ResidencyOptions
	log    *slog.Logger

	chunks map[Key]*Resident
	// deferred holds the sizes of chunks rejected for lack of budget.
	deferred map[Key]int64
	err      error
	closed   bool
}

// NewResidency creates a residency allocating from dev within budget.
// remote, which may be set later with Bind, receives eviction reports.
func NewResidency(dev gpu.Device, budget *resource.Controller, clock *Clock, optFns ...func(o *ResidencyOptions)) *Residency {
	opts := ResidencyOptions{Kind: geometry.KindMesh}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if clock == nil {
		clock = &Clock{}
	}
	return &Residency{
		dev:      dev,
		budget:   budget,
		clock:    clock,
		opts:     opts,
		log:      opts.Logger.With("kind", opts.Kind.String()),
		chunks:   make(map[Key]*Resident),
		deferred: make(map[Key]int64),
	}
}

// Bind sets the sender used to report evictions to the Source.
func (r *Residency) Bind(remote Sender) { r.remote = remote }

// Kind returns the geometry kind of the chunks.
func (r *Residency) Kind() geometry.Kind { return r.opts.Kind }

// Err returns the failure reported by the peer when it could not build the
// Source, if any.
func (r *Residency) Err() error { return r.err }

// Upload makes key resident. A chunk already resident is left alone. When
// the budget is exhausted, chunks not needed in the current frame are
// evicted least-recently-needed first; if that does not make room the
// upload is rejected and reported back, and Retry asks for it again once
// the budget has room.
func (r *Residency) Upload(ctx context.Context, key Key, p *geometry.Payload) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.chunks[key]; ok {
		return nil
	}

	size := p.SizeBytes()
	if !r.budget.Fits(size) {
		r.reject(ctx, key, ReasonRejected)
		r.opts.Metrics.RecordUpload(size, ErrOverBudget)
		return fmt.Errorf("%w: %s needs %d bytes", ErrOverBudget, key, size)
	}
	for r.budget.AcquireMemory(size) != nil {
		victim := r.leastRecentlyNeeded()
		if victim == nil {
			r.deferred[key] = size
			r.reject(ctx, key, ReasonRejected)
			r.opts.Metrics.RecordUpload(size, ErrOverBudget)
			return fmt.Errorf("%w: %s needs %d bytes", ErrOverBudget, key, size)
		}
		if err := victim.owner.evict(ctx, victim, ReasonEvicted); err != nil {
			r.log.Warn("reporting eviction failed", "key", victim.Key.Name(), "error", err)
		}
	}

	res, err := r.allocate(key, p, size)
	r.opts.Metrics.RecordUpload(size, err)
	if err != nil {
		r.budget.ReleaseMemory(size)
		r.reject(ctx, key, ReasonRejected)
		return fmt.Errorf("chunk: upload %s: %w", key, err)
	}
	r.chunks[key] = res
	delete(r.deferred, key)
	return nil
}

// allocate creates both buffers. Partial allocations are released.
func (r *Residency) allocate(key Key, p *geometry.Payload, size int64) (_ *Resident, err error) {
	res := &Resident{
		Key:        key,
		Kind:       p.Kind,
		Vertices:   gpu.NewBuffer(r.dev, gpu.BufferUsageVertex),
		Indices:    gpu.NewBuffer(r.dev, gpu.BufferUsageIndex),
		Count:      len(p.Indices),
		Bytes:      size,
		lastNeeded: r.clock.Frame(),
		owner:      r,
	}
	defer func() {
		if err != nil {
			res.release()
		}
	}()

	if err = res.Vertices.Upload(p.VertexBytes()); err != nil {
		return nil, err
	}
	if err = res.Indices.Upload(p.IndexBytes()); err != nil {
		return nil, err
	}
	return res, nil
}

// Touch marks key as needed in the current frame.
func (r *Residency) Touch(key Key) bool {
	res, ok := r.chunks[key]
	if ok {
		res.lastNeeded = r.clock.Frame()
	}
	return ok
}

// Get returns the resident chunk for key.
func (r *Residency) Get(key Key) (*Resident, bool) {
	res, ok := r.chunks[key]
	return res, ok
}

// Evict releases key and reports it to the Source.
func (r *Residency) Evict(ctx context.Context, key Key) error {
	res, ok := r.chunks[key]
	if !ok {
		return nil
	}
	return r.evict(ctx, res, ReasonReleased)
}

// evict releases GPU handles and budget before the chunk is reported, so a
// failing report never leaks GPU memory.
func (r *Residency) evict(ctx context.Context, res *Resident, reason Reason) error {
	delete(r.chunks, res.Key)
	func() {
		defer r.budget.ReleaseMemory(res.Bytes)
		res.release()
	}()
	r.opts.Metrics.RecordEviction(reason)
	if r.remote == nil {
		return nil
	}
	return r.remote.Send(ctx, MethodEvicted, EvictedBody{Key: res.Key, Reason: reason})
}

func (r *Residency) reject(ctx context.Context, key Key, reason Reason) {
	r.opts.Metrics.RecordEviction(reason)
	if r.remote == nil {
		return
	}
	if err := r.remote.Send(ctx, MethodEvicted, EvictedBody{Key: key, Reason: reason}); err != nil {
		r.log.Warn("reporting rejection failed", "key", key.Name(), "error", err)
	}
}

// sharing returns r followed by its peers.
func (r *Residency) sharing() []*Residency {
	out := []*Residency{r}
	if r.opts.Peers == nil {
		return out
	}
	for _, p := range r.opts.Peers() {
		if p != r && p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (r *Residency) leastRecentlyNeeded() *Resident {
	frame := r.clock.Frame()
	var victim *Resident
	for _, o := range r.sharing() {
		for _, res := range o.chunks {
			if res.lastNeeded >= frame {
				continue
			}
			if victim == nil || res.lastNeeded < victim.lastNeeded ||
				(res.lastNeeded == victim.lastNeeded && res.Key.Compare(victim.Key) < 0) {
				victim = res
			}
		}
	}
	return victim
}

// Retry asks the Source to promote again the chunks rejected for lack of
// budget that now fit, counting chunks not needed in the current frame as
// free. It returns the number of chunks asked for. Call it once per frame,
// after drawing.
func (r *Residency) Retry(ctx context.Context) (int, error) {
	if r.closed || r.remote == nil || len(r.deferred) == 0 {
		return 0, nil
	}

	room := r.budget.MemoryAvailable()
	if r.budget.MemoryLimit() > 0 {
		frame := r.clock.Frame()
		for _, o := range r.sharing() {
			for _, res := range o.chunks {
				if res.lastNeeded < frame {
					room += res.Bytes
				}
			}
		}
	}

	var keys []Key
	for _, k := range slices.SortedFunc(maps.Keys(r.deferred), Key.Compare) {
		if size := r.deferred[k]; size <= room {
			room -= size
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.remote.Send(ctx, MethodRetry, RetryBody{Keys: keys}); err != nil {
		return 0, err
	}
	for _, k := range keys {
		delete(r.deferred, k)
	}
	return len(keys), nil
}

// Deferred returns the number of chunks waiting for budget.
func (r *Residency) Deferred() int { return len(r.deferred) }

// Resident yields the resident chunks in key order.
func (r *Residency) Resident() iter.Seq[*Resident] {
	return func(yield func(*Resident) bool) {
		list := make([]*Resident, 0, len(r.chunks))
		for _, res := range r.chunks {
			list = append(list, res)
		}
		slices.SortFunc(list, func(a, b *Resident) int { return a.Key.Compare(b.Key) })
		for _, res := range list {
			if !yield(res) {
				return
			}
		}
	}
}

// Len returns the number of resident chunks.
func (r *Residency) Len() int { return len(r.chunks) }

// Bytes returns the GPU memory held by resident chunks.
func (r *Residency) Bytes() int64 {
	var n int64
	for _, res := range r.chunks {
		n += res.Bytes
	}
	return n
}

// Receive handles promotions from the Source.
func (r *Residency) Receive(ctx context.Context, method string, decode func(v any) error) error {
	switch method {
	case MethodUpload:
		var body UploadBody
		if err := decode(&body); err != nil {
			return err
		}
		p, err := geometry.Decode(r.opts.Kind, body.Frame)
		if err != nil {
			r.reject(ctx, body.Key, ReasonInvalid)
			return fmt.Errorf("chunk: decode %s: %w", body.Key, err)
		}
		return r.Upload(ctx, body.Key, p)
	case counterpart.MethodError:
		var body counterpart.ErrorBody
		if err := decode(&body); err != nil {
			return err
		}
		r.err = fmt.Errorf("chunk: source unavailable: %s", body.Message)
		r.log.Warn("chunk source failed", "error", body.Message)
		if r.opts.OnError != nil {
			r.opts.OnError(r.err)
		}
		return nil
	default:
		return fmt.Errorf("chunk: unknown method %q", method)
	}
}

// Dispose releases every resident chunk.
func (r *Residency) Dispose() { r.Close() }

// Close releases every resident chunk without reporting. The Source is
// expected to be torn down with it.
func (r *Residency) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for _, res := range r.chunks {
		res.release()
		r.budget.ReleaseMemory(res.Bytes)
	}
	clear(r.chunks)
	clear(r.deferred)
}
