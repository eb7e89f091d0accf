// Package gpu manages sized GPU surfaces through an explicit Device handle.
//
// The Device interface is the only path to the graphics API. It hands out
// opaque ids and keeps the mapping to backend objects to itself. No package
// state refers to a device: every component that allocates receives the
// handle explicitly, and the session that created it owns its lifetime.
//
// Surfaces (Buffer, Texture, Renderbuffer) own zero or one allocation.
// Resizing to the current size never touches the device; any other size
// releases the old allocation before creating the new one, so callers never
// observe a partially resized surface. Dispose releases the allocation
// exactly once.
//
// A FramebufferConfiguration combines color attachments and an optional
// depth renderbuffer. Completeness is checked lazily on the first Bind and
// cached for the lifetime of the configuration. An incomplete framebuffer
// is a configuration bug and is reported as *FramebufferIncompleteError.
package gpu
