package gpu

// Buffer is a resizable GPU buffer.
type Buffer struct {
	dev      Device
	usage    BufferUsage
	id       BufferID
	length   int
	disposed bool
}

// NewBuffer returns an empty buffer. Nothing is allocated until Resize or
// Upload.
func NewBuffer(dev Device, usage BufferUsage) *Buffer {
	return &Buffer{dev: dev, usage: usage}
}

// ID returns the current allocation, or InvalidID.
func (b *Buffer) ID() BufferID { return b.id }

// Len returns the allocated length in bytes.
func (b *Buffer) Len() int { return b.length }

// Resize reallocates the buffer to length bytes. Resizing to the current
// length is a no-op. On failure the buffer is left empty.
func (b *Buffer) Resize(length int) error {
	if b.disposed {
		return ErrDisposed
	}
	if length < 0 {
		return ErrInvalidSize
	}
	if length == b.length {
		return nil
	}

	b.release()
	if length == 0 {
		return nil
	}
	id, err := b.dev.CreateBuffer(length, b.usage)
	if err != nil {
		return err
	}
	b.id, b.length = id, length
	return nil
}

// Upload sizes the buffer to data and writes it.
func (b *Buffer) Upload(data []byte) error {
	if err := b.Resize(len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return b.dev.WriteBuffer(b.id, 0, data)
}

// Dispose releases the allocation. Further calls are no-ops.
func (b *Buffer) Dispose() {
	if b.disposed {
		return
	}
	b.release()
	b.disposed = true
}

func (b *Buffer) release() {
	if b.id != InvalidID {
		b.dev.DestroyBuffer(b.id)
	}
	b.id, b.length = InvalidID, 0
}

// Texture is a resizable 2D texture.
type Texture struct {
	dev           Device
	format        Format
	id            TextureID
	width, height int
	disposed      bool
}

// NewTexture returns an empty texture of the given format.
func NewTexture(dev Device, format Format) *Texture {
	return &Texture{dev: dev, format: format}
}

// ID returns the current allocation, or InvalidID.
func (t *Texture) ID() TextureID { return t.id }

// Format returns the pixel format.
func (t *Texture) Format() Format { return t.format }

// Size returns the allocated dimensions.
func (t *Texture) Size() (width, height int) { return t.width, t.height }

// Resize reallocates the texture. Resizing to the current size is a no-op.
// It reports whether a reallocation happened.
func (t *Texture) Resize(width, height int) (bool, error) {
	if t.disposed {
		return false, ErrDisposed
	}
	if width < 0 || height < 0 {
		return false, ErrInvalidSize
	}
	if width == t.width && height == t.height {
		return false, nil
	}

	t.release()
	if width == 0 || height == 0 {
		return true, nil
	}
	id, err := t.dev.CreateTexture(width, height, t.format)
	if err != nil {
		return true, err
	}
	t.id, t.width, t.height = id, width, height
	return true, nil
}

// Dispose releases the allocation.
func (t *Texture) Dispose() {
	if t.disposed {
		return
	}
	t.release()
	t.disposed = true
}

func (t *Texture) release() {
	if t.id != InvalidID {
		t.dev.DestroyTexture(t.id)
	}
	t.id, t.width, t.height = InvalidID, 0, 0
}

// Renderbuffer is a resizable renderbuffer, typically used for depth.
type Renderbuffer struct {
	dev           Device
	format        Format
	id            RenderbufferID
	width, height int
	disposed      bool
}

// NewRenderbuffer returns an empty renderbuffer of the given format.
func NewRenderbuffer(dev Device, format Format) *Renderbuffer {
	return &Renderbuffer{dev: dev, format: format}
}

// ID returns the current allocation, or InvalidID.
func (r *Renderbuffer) ID() RenderbufferID { return r.id }

// Size returns the allocated dimensions.
func (r *Renderbuffer) Size() (width, height int) { return r.width, r.height }

// Resize reallocates the renderbuffer. Resizing to the current size is a
// no-op. It reports whether a reallocation happened.
func (r *Renderbuffer) Resize(width, height int) (bool, error) {
	if r.disposed {
		return false, ErrDisposed
	}
	if width < 0 || height < 0 {
		return false, ErrInvalidSize
	}
	if width == r.width && height == r.height {
		return false, nil
	}

	r.release()
	if width == 0 || height == 0 {
		return true, nil
	}
	id, err := r.dev.CreateRenderbuffer(width, height, r.format)
	if err != nil {
		return true, err
	}
	r.id, r.width, r.height = id, width, height
	return true, nil
}

// Dispose releases the allocation.
func (r *Renderbuffer) Dispose() {
	if r.disposed {
		return
	}
	r.release()
	r.disposed = true
}

func (r *Renderbuffer) release() {
	if r.id != InvalidID {
		r.dev.DestroyRenderbuffer(r.id)
	}
	r.id, r.width, r.height = InvalidID, 0, 0
}
