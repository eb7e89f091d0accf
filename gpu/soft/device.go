package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hupe1980/segvis/gpu"
)

// ErrUnknownResource is returned for ids the device did not issue.
var ErrUnknownResource = errors.New("soft: unknown resource")

// Op names a device operation for fault injection.
type Op string

const (
	OpCreateBuffer       Op = "CreateBuffer"
	OpWriteBuffer        Op = "WriteBuffer"
	OpCreateTexture      Op = "CreateTexture"
	OpCreateRenderbuffer Op = "CreateRenderbuffer"
	OpDraw               Op = "Draw"
)

// Stats counts device activity.
type Stats struct {
	BufferAllocs       int
	BufferFrees        int
	TextureAllocs      int
	TextureFrees       int
	RenderbufferAllocs int
	RenderbufferFrees  int
	FramebufferAllocs  int
	FramebufferFrees   int
	StatusChecks       int
	Draws              int
	BufferBytes        int64
}

// LiveBuffers returns allocated minus freed buffers.
func (s Stats) LiveBuffers() int { return s.BufferAllocs - s.BufferFrees }

// LiveTextures returns allocated minus freed textures.
func (s Stats) LiveTextures() int { return s.TextureAllocs - s.TextureFrees }

type surface struct {
	width, height int
	format        gpu.Format
	pix           []byte
}

type framebuffer struct {
	attachments map[gpu.AttachmentPoint]gpu.Attachment
}

// Device is an in-memory gpu.Device. It is safe for concurrent use.
type Device struct {
	mu            sync.Mutex
	next          uint64
	buffers       map[gpu.BufferID][]byte
	textures      map[gpu.TextureID]*surface
	renderbuffers map[gpu.RenderbufferID]*surface
	framebuffers  map[gpu.FramebufferID]*framebuffer
	bound         gpu.FramebufferID
	faults        map[Op]error
	stats         Stats
	draws         []gpu.DrawCall
}

var _ gpu.Device = (*Device)(nil)

// New returns an empty device.
func New() *Device {
	return &Device{
		buffers:       make(map[gpu.BufferID][]byte),
		textures:      make(map[gpu.TextureID]*surface),
		renderbuffers: make(map[gpu.RenderbufferID]*surface),
		framebuffers:  make(map[gpu.FramebufferID]*framebuffer),
		faults:        make(map[Op]error),
	}
}

// FailNext makes the next call of op return err.
func (d *Device) FailNext(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = err
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Draws returns the draw calls recorded since the last ResetDraws.
func (d *Device) Draws() []gpu.DrawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]gpu.DrawCall, len(d.draws))
	copy(out, d.draws)
	return out
}

// ResetDraws forgets recorded draw calls.
func (d *Device) ResetDraws() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draws = d.draws[:0]
}

// BufferData returns a copy of a buffer's contents.
func (d *Device) BufferData(id gpu.BufferID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func (d *Device) fault(op Op) error {
	err, ok := d.faults[op]
	if !ok {
		return nil
	}
	delete(d.faults, op)
	return err
}

func (d *Device) id() uint64 {
	d.next++
	return d.next
}

func (d *Device) CreateBuffer(size int, _ gpu.BufferUsage) (gpu.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateBuffer); err != nil {
		return gpu.InvalidID, err
	}
	if size <= 0 {
		return gpu.InvalidID, gpu.ErrInvalidSize
	}
	id := gpu.BufferID(d.id())
	d.buffers[id] = make([]byte, size)
	d.stats.BufferAllocs++
	d.stats.BufferBytes += int64(size)
	return id, nil
}

func (d *Device) WriteBuffer(id gpu.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpWriteBuffer); err != nil {
		return err
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if offset < 0 || offset+len(data) > len(b) {
		return fmt.Errorf("soft: write [%d,%d) out of range for buffer of %d bytes", offset, offset+len(data), len(b))
	}
	copy(b[offset:], data)
	return nil
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	d.stats.BufferFrees++
	d.stats.BufferBytes -= int64(len(b))
}

func newSurface(width, height int, format gpu.Format) (*surface, error) {
	if width <= 0 || height <= 0 {
		return nil, gpu.ErrInvalidSize
	}
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", gpu.ErrUnsupportedFormat, format)
	}
	return &surface{width: width, height: height, format: format, pix: make([]byte, width*height*bpp)}, nil
}

func (d *Device) CreateTexture(width, height int, format gpu.Format) (gpu.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateTexture); err != nil {
		return gpu.InvalidID, err
	}
	s, err := newSurface(width, height, format)
	if err != nil {
		return gpu.InvalidID, err
	}
	id := gpu.TextureID(d.id())
	d.textures[id] = s
	d.stats.TextureAllocs++
	return id, nil
}

func (d *Device) DestroyTexture(id gpu.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.textures[id]; !ok {
		return
	}
	delete(d.textures, id)
	d.stats.TextureFrees++
}

func (d *Device) CreateRenderbuffer(width, height int, format gpu.Format) (gpu.RenderbufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateRenderbuffer); err != nil {
		return gpu.InvalidID, err
	}
	s, err := newSurface(width, height, format)
	if err != nil {
		return gpu.InvalidID, err
	}
	id := gpu.RenderbufferID(d.id())
	d.renderbuffers[id] = s
	d.stats.RenderbufferAllocs++
	return id, nil
}

func (d *Device) DestroyRenderbuffer(id gpu.RenderbufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.renderbuffers[id]; !ok {
		return
	}
	delete(d.renderbuffers, id)
	d.stats.RenderbufferFrees++
}

func (d *Device) CreateFramebuffer() (gpu.FramebufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.FramebufferID(d.id())
	d.framebuffers[id] = &framebuffer{attachments: make(map[gpu.AttachmentPoint]gpu.Attachment)}
	d.stats.FramebufferAllocs++
	return id, nil
}

func (d *Device) DestroyFramebuffer(id gpu.FramebufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.framebuffers[id]; !ok {
		return
	}
	delete(d.framebuffers, id)
	d.stats.FramebufferFrees++
	if d.bound == id {
		d.bound = gpu.InvalidID
	}
}

func (d *Device) Attach(fb gpu.FramebufferID, point gpu.AttachmentPoint, a gpu.Attachment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.framebuffers[fb]
	if !ok {
		return fmt.Errorf("%w: framebuffer %d", ErrUnknownResource, fb)
	}
	if a.Texture == gpu.InvalidID && a.Renderbuffer == gpu.InvalidID {
		delete(f.attachments, point)
		return nil
	}
	f.attachments[point] = a
	return nil
}

func (d *Device) BindFramebuffer(fb gpu.FramebufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fb != gpu.InvalidID {
		if _, ok := d.framebuffers[fb]; !ok {
			return fmt.Errorf("%w: framebuffer %d", ErrUnknownResource, fb)
		}
	}
	d.bound = fb
	return nil
}

// attachment resolves a to its surface. Caller holds d.mu.
func (d *Device) attachment(a gpu.Attachment) (*surface, bool) {
	if a.Texture != gpu.InvalidID {
		s, ok := d.textures[a.Texture]
		return s, ok
	}
	s, ok := d.renderbuffers[a.Renderbuffer]
	return s, ok
}

func (d *Device) CheckFramebufferStatus(fb gpu.FramebufferID) gpu.FramebufferStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.StatusChecks++

	f, ok := d.framebuffers[fb]
	if !ok {
		return gpu.StatusUnsupported
	}
	var (
		colors        int
		width, height = -1, -1
	)
	for point, a := range f.attachments {
		s, ok := d.attachment(a)
		if !ok {
			return gpu.StatusIncompleteAttachment
		}
		if (point == gpu.AttachmentDepth) != s.format.IsDepth() {
			return gpu.StatusIncompleteAttachment
		}
		if point != gpu.AttachmentDepth {
			colors++
		}
		if width == -1 {
			width, height = s.width, s.height
		} else if s.width != width || s.height != height {
			return gpu.StatusIncompleteDimensions
		}
	}
	if colors == 0 {
		return gpu.StatusMissingAttachment
	}
	return gpu.StatusComplete
}

func toRGBA8(c [4]float32) [4]byte {
	var out [4]byte
	for i, v := range c {
		v = max(0, min(1, v))
		out[i] = byte(math.Round(float64(v) * 255))
	}
	return out
}

// color returns the RGBA8 color surface at point of the bound framebuffer.
// Caller holds d.mu.
func (d *Device) color(point gpu.AttachmentPoint) (*surface, bool) {
	f, ok := d.framebuffers[d.bound]
	if !ok {
		return nil, false
	}
	a, ok := f.attachments[point]
	if !ok {
		return nil, false
	}
	s, ok := d.attachment(a)
	if !ok || s.format != gpu.FormatRGBA8 {
		return nil, false
	}
	return s, true
}

func (s *surface) set(x, y int, px [4]byte) {
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return
	}
	copy(s.pix[(y*s.width+x)*4:], px[:])
}

func (d *Device) Clear(color [4]float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.framebuffers[d.bound]
	if !ok {
		return nil
	}
	px := toRGBA8(color)
	for point, a := range f.attachments {
		if point == gpu.AttachmentDepth {
			continue
		}
		s, ok := d.attachment(a)
		if !ok || s.format != gpu.FormatRGBA8 {
			continue
		}
		for i := 0; i < len(s.pix); i += 4 {
			copy(s.pix[i:], px[:])
		}
	}
	return nil
}

func (d *Device) Draw(call gpu.DrawCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpDraw); err != nil {
		return err
	}
	vb, ok := d.buffers[call.Vertices]
	if !ok {
		return fmt.Errorf("%w: vertex buffer %d", ErrUnknownResource, call.Vertices)
	}
	ib, ok := d.buffers[call.Indices]
	if !ok {
		return fmt.Errorf("%w: index buffer %d", ErrUnknownResource, call.Indices)
	}
	if call.Count < 0 || call.Count*4 > len(ib) {
		return fmt.Errorf("soft: draw of %d indices exceeds index buffer of %d bytes", call.Count, len(ib))
	}
	d.stats.Draws++
	d.draws = append(d.draws, call)

	colorSurf, hasColor := d.color(gpu.ColorAttachment(0))
	pickSurf, hasPick := d.color(gpu.ColorAttachment(1))
	colorPx := toRGBA8(call.Color)
	var pickPx [4]byte
	binary.LittleEndian.PutUint32(pickPx[:], call.PickID)

	vertices := len(vb) / 12
	for i := range call.Count {
		idx := int(binary.LittleEndian.Uint32(ib[i*4:]))
		if idx >= vertices {
			return fmt.Errorf("soft: index %d out of range for %d vertices", idx, vertices)
		}
		x := math.Float32frombits(binary.LittleEndian.Uint32(vb[idx*12:]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(vb[idx*12+4:]))
		px, py := int(x), int(y)
		if hasColor {
			colorSurf.set(px, py, colorPx)
		}
		if hasPick {
			pickSurf.set(px, py, pickPx)
		}
	}
	return nil
}

func (d *Device) ReadPixel(point gpu.AttachmentPoint, x, y int) ([4]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.framebuffers[d.bound]
	if !ok {
		return [4]byte{}, fmt.Errorf("%w: no framebuffer bound", ErrUnknownResource)
	}
	a, ok := f.attachments[point]
	if !ok {
		return [4]byte{}, fmt.Errorf("%w: attachment %d", ErrUnknownResource, point)
	}
	s, ok := d.attachment(a)
	if !ok {
		return [4]byte{}, fmt.Errorf("%w: attachment %d", ErrUnknownResource, point)
	}
	if s.format != gpu.FormatRGBA8 {
		return [4]byte{}, fmt.Errorf("%w: %s", gpu.ErrUnsupportedFormat, s.format)
	}
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return [4]byte{}, fmt.Errorf("soft: pixel (%d,%d) outside %dx%d", x, y, s.width, s.height)
	}
	var px [4]byte
	copy(px[:], s.pix[(y*s.width+x)*4:])
	return px, nil
}
