// Package segvis manages which segments of a segmentation volume are shown
// and streams their meshes and skeletons to the GPU.
//
// A session spans two execution contexts. The interactive context (Session)
// owns the authoritative identity state of each layer (an equivalence
// relation and a visible set over uint64 segment ids), the GPU residency of
// decoded chunks and the render coordinator. The processing context
// (Backend) owns a mirror of each identity state and the chunk sources that
// fetch and decode geometry for the visible segments. The two exchange
// encoded messages over a transport.Channel only.
//
// # Quick Start
//
// In-process:
//
//	ctx := context.Background()
//	s, done, _ := segvis.NewLocal(ctx, segvis.WithConfig(cfg))
//	defer func() { _ = s.Close(ctx); <-done }()
//
//	st := layer.DefaultState()
//	st.Mesh = "s3://bucket/meshes"
//	st.Segments = []segid.ID{42}
//	l, _ := s.OpenLayer(ctx, "segmentation", st)
//
// Across a websocket:
//
//	// processing side
//	http.Handle("/segvis", ws.Handler(func(ctx context.Context, c *ws.Conn) {
//	    b, _ := segvis.NewBackend(c)
//	    _ = b.Serve(ctx)
//	    _ = b.Close()
//	}))
//
//	// interactive side
//	ch, _ := ws.Dial(ctx, "ws://host/segvis")
//	s, _ := segvis.NewSession(ctx, ch)
//
// # Frames
//
// Drive the session from one goroutine. Frame applies pending uploads from
// the backend, advances the frame clock and draws every layer:
//
//	fb := s.NewFramebuffer()
//	_ = fb.Resize(w, h)
//	for {
//	    if err := s.Frame(ctx, map[render.PassKind]*gpu.FramebufferConfiguration{
//	        render.PassPerspective: fb,
//	    }); segvis.IsFatal(err) {
//	        return err
//	    }
//	    pick, ok, _ := s.Pick(fb, mouseX, mouseY)
//	}
//
// Chunks not drawn in a frame become eligible for eviction once the GPU
// memory budget is exhausted.
//
// # Persistence
//
// With WithStateStore, layer states are saved by Flush and Close and opened
// again with LoadLayer. Saves use optimistic concurrency: a layer saved by
// another session in the meantime fails with ErrConcurrentModification.
package segvis

import (
	// Register the s3:// and minio:// locator schemes.
	_ "github.com/hupe1980/segvis/blobstore/minio"
	_ "github.com/hupe1980/segvis/blobstore/s3"
)
