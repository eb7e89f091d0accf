package chunk

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/geometry"
	"github.com/hupe1980/segvis/internal/cache"
	"github.com/hupe1980/segvis/internal/resource"
	"github.com/hupe1980/segvis/segid"
)

// Defaults for SourceOptions.
const (
	DefaultRetryLimit  = 3
	DefaultCacheBytes  = 64 << 20
	DefaultMaxInFlight = 4
)

// SourceOptions configures a Source.
type SourceOptions struct {
	// Kind is the geometry kind stored in the blobs.
	Kind geometry.Kind
	// Keys maps an object to its chunk keys. Defaults to FixedFragments(1).
	Keys func(segid.ID) []Key
	// RetryLimit is the number of failed fetches after which a chunk is
	// permanently failed.
	RetryLimit int
	// CacheBytes bounds decoded payloads held but not promoted.
	CacheBytes int64
	// Controller bounds in-flight fetches and IO throughput. Defaults to a
	// controller with DefaultMaxInFlight slots.
	Controller *resource.Controller
	// Memory, if set, is charged for cached payloads. It may be shared by
	// several sources.
	Memory *resource.Controller
	// WireCompression compresses promoted payloads.
	WireCompression geometry.Compression
	Logger          *slog.Logger
	Metrics         Metrics
}

// Info describes one chunk.
type Info struct {
	Key       Key
	State     State
	Attempts  int
	Permanent bool
	Err       error
}

// SourceStats summarizes a Source.
type SourceStats struct {
	Needed      int
	Queued      int
	Downloading int
	Decoded     int
	Resident    int
	Failed      int
	Permanent   int
	CacheBytes  int64
}

type entry struct {
	state     State
	attempts  int
	permanent bool
	err       error
	// payload is held while GPU_RESIDENT so an eviction can return the
	// chunk to the cache.
	payload *geometry.Payload
}

// Source fetches and decodes the chunks of one geometry source. All methods
// except Close must be called from the owning context; fetch completions are
// delivered through post.
type Source struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  blobstore.BlobStore
	remote Sender
	post   func(func())
	opts   SourceOptions
	rc     *resource.Controller
	cache  *cache.LRU[Key, *geometry.Payload]
	log    *slog.Logger

	chunks map[Key]*entry
	needed map[Key]struct{}
	queue  []Key

	wg     sync.WaitGroup
	closed bool
}

// NewSource creates a source reading blobs from store. remote receives
// promotions; post schedules completions on the owning context.
func NewSource(ctx context.Context, store blobstore.BlobStore, remote Sender, post func(func()), optFns ...func(o *SourceOptions)) *Source {
	opts := SourceOptions{
		Kind:       geometry.KindMesh,
		RetryLimit: DefaultRetryLimit,
		CacheBytes: DefaultCacheBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Keys == nil {
		opts.Keys = FixedFragments(1)
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.Controller == nil {
		opts.Controller = resource.NewController(resource.Config{MaxInFlight: DefaultMaxInFlight})
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Source{
		ctx:    ctx,
		cancel: cancel,
		store:  store,
		remote: remote,
		post:   post,
		opts:   opts,
		rc:     opts.Controller,
		log:    opts.Logger.With("kind", opts.Kind.String()),
		chunks: make(map[Key]*entry),
		needed: make(map[Key]struct{}),
	}
	s.cache = cache.NewLRU(opts.CacheBytes, cache.Options[Key, *geometry.Payload]{
		SizeOf:     func(p *geometry.Payload) int64 { return p.SizeBytes() },
		OnEvict:    s.onCacheEvict,
		Controller: opts.Memory,
	})
	return s
}

// SetNeeded replaces the set of needed objects. Absent chunks are queued,
// retryable failures re-queued, decoded chunks promoted and queued chunks
// no longer needed dropped. Downloads in progress are left to complete.
func (s *Source) SetNeeded(objects iter.Seq[segid.ID]) {
	if s.closed {
		return
	}

	needed := make(map[Key]struct{})
	for id := range objects {
		for _, k := range s.opts.Keys(id) {
			needed[k] = struct{}{}
		}
	}
	for k, e := range s.chunks {
		if _, ok := needed[k]; !ok && e.state == StateQueued {
			delete(s.chunks, k)
		}
	}
	s.needed = needed

	keys := make([]Key, 0, len(needed))
	for k := range needed {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, Key.Compare)

	for _, k := range keys {
		e, ok := s.chunks[k]
		switch {
		case !ok:
			s.chunks[k] = &entry{state: StateQueued}
			s.queue = append(s.queue, k)
		case e.state == StateFailed && !e.permanent:
			e.state = StateQueued
			s.queue = append(s.queue, k)
		case e.state == StateDecoded:
			s.promoteCached(k, e)
		}
	}
	s.pump()
}

// Retry promotes again the needed chunks among keys, typically ones the
// Residency rejected for lack of budget. Chunks the cache dropped meanwhile
// are fetched again.
func (s *Source) Retry(keys []Key) {
	if s.closed {
		return
	}
	for _, k := range keys {
		if _, ok := s.needed[k]; !ok {
			continue
		}
		e, ok := s.chunks[k]
		switch {
		case !ok:
			s.chunks[k] = &entry{state: StateQueued}
			s.queue = append(s.queue, k)
		case e.state == StateDecoded:
			s.promoteCached(k, e)
		}
	}
	s.pump()
}

// Evicted records that the interactive context released key. The chunk
// returns to the cache unless its frame was invalid.
func (s *Source) Evicted(key Key, reason Reason) {
	if s.closed {
		return
	}
	e, ok := s.chunks[key]
	if !ok || e.state != StateGPUResident {
		return
	}
	p := e.payload
	e.payload = nil

	if reason == ReasonInvalid {
		e.state = StateFailed
		e.attempts = s.opts.RetryLimit
		e.permanent = true
		e.err = fmt.Errorf("%w: %s rejected by frontend", ErrPermanentlyFailed, key)
		return
	}
	s.stash(key, e, p)
}

// Chunk returns the state of one chunk.
func (s *Source) Chunk(key Key) (Info, bool) {
	e, ok := s.chunks[key]
	if !ok {
		return Info{}, false
	}
	return Info{Key: key, State: e.state, Attempts: e.attempts, Permanent: e.permanent, Err: e.err}, true
}

// Stats summarizes chunk states.
func (s *Source) Stats() SourceStats {
	st := SourceStats{Needed: len(s.needed), CacheBytes: s.cache.Size()}
	for _, e := range s.chunks {
		switch e.state {
		case StateQueued:
			st.Queued++
		case StateDownloading:
			st.Downloading++
		case StateDecoded:
			st.Decoded++
		case StateGPUResident:
			st.Resident++
		case StateFailed:
			st.Failed++
			if e.permanent {
				st.Permanent++
			}
		}
	}
	return st
}

// Receive handles eviction reports and retry requests from the Residency.
func (s *Source) Receive(_ context.Context, method string, decode func(v any) error) error {
	switch method {
	case MethodEvicted:
		var body EvictedBody
		if err := decode(&body); err != nil {
			return err
		}
		s.Evicted(body.Key, body.Reason)
		return nil
	case MethodRetry:
		var body RetryBody
		if err := decode(&body); err != nil {
			return err
		}
		s.Retry(body.Keys)
		return nil
	default:
		return fmt.Errorf("chunk: unknown method %q", method)
	}
}

// Dispose closes the source.
func (s *Source) Dispose() { s.Close() }

// Close cancels outstanding fetches, waits for them and drops all chunks.
func (s *Source) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.wg.Wait()
	s.cache.Purge()
	clear(s.chunks)
	clear(s.needed)
	s.queue = nil
}

func (s *Source) pump() {
	for len(s.queue) > 0 {
		k := s.queue[0]
		e, ok := s.chunks[k]
		if !ok || e.state != StateQueued {
			s.queue = s.queue[1:]
			continue
		}
		if !s.rc.TryAcquireSlot() {
			return
		}
		s.queue = s.queue[1:]
		e.state = StateDownloading
		s.wg.Add(1)
		go s.fetch(k)
	}
}

func (s *Source) fetch(k Key) {
	defer s.wg.Done()

	start := time.Now()
	p, n, err := s.load(k)
	s.rc.ReleaseSlot()
	s.opts.Metrics.RecordChunkLoad(n, time.Since(start), err)

	s.post(func() { s.complete(k, p, err) })
}

func (s *Source) load(k Key) (*geometry.Payload, int, error) {
	data, err := blobstore.Get(s.ctx, s.store, k.Name())
	if err != nil {
		return nil, 0, err
	}
	if err := s.rc.AcquireIO(s.ctx, len(data)); err != nil {
		return nil, len(data), err
	}
	p, err := geometry.Decode(s.opts.Kind, data)
	return p, len(data), err
}

func (s *Source) complete(k Key, p *geometry.Payload, err error) {
	if s.closed {
		return
	}
	e, ok := s.chunks[k]
	if !ok || e.state != StateDownloading {
		return
	}

	if err != nil {
		e.attempts++
		e.state = StateFailed
		e.err = err
		if e.attempts >= s.opts.RetryLimit {
			e.permanent = true
			e.err = fmt.Errorf("%w: %s: %w", ErrPermanentlyFailed, k, err)
			s.log.Warn("chunk permanently failed", "key", k.Name(), "attempts", e.attempts, "error", err)
		} else if !errors.Is(err, context.Canceled) {
			s.log.Debug("chunk fetch failed", "key", k.Name(), "attempts", e.attempts, "error", err)
		}
	} else {
		e.err = nil
		if _, needed := s.needed[k]; needed {
			s.promote(k, e, p)
		} else {
			s.stash(k, e, p)
		}
	}
	s.pump()
}

// promoteCached promotes a DECODED chunk from the cache, or queues it again
// when the cache no longer holds it.
func (s *Source) promoteCached(k Key, e *entry) {
	p, hit := s.cache.Remove(k)
	if !hit {
		e.state = StateQueued
		s.queue = append(s.queue, k)
		return
	}
	s.promote(k, e, p)
}

// promote hands a decoded payload to the interactive context.
func (s *Source) promote(k Key, e *entry, p *geometry.Payload) {
	frame, err := geometry.Encode(p, s.opts.WireCompression)
	if err == nil {
		err = s.remote.Send(s.ctx, MethodUpload, UploadBody{Key: k, Frame: frame})
	}
	if err != nil {
		s.log.Warn("promoting chunk failed", "key", k.Name(), "error", err)
		s.stash(k, e, p)
		return
	}
	e.state = StateGPUResident
	e.payload = p
}

// stash keeps a decoded payload in the cache, or discards the chunk when
// the cache will not hold it.
func (s *Source) stash(k Key, e *entry, p *geometry.Payload) {
	e.state = StateDecoded
	e.payload = nil
	if !s.cache.Set(k, p) {
		delete(s.chunks, k)
	}
}

func (s *Source) onCacheEvict(k Key, _ *geometry.Payload) {
	if e, ok := s.chunks[k]; ok && e.state == StateDecoded {
		delete(s.chunks, k)
	}
}
