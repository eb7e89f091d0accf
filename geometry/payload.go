package geometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPayload is returned for payloads whose topology is inconsistent.
var ErrInvalidPayload = errors.New("geometry: invalid payload")

// Kind distinguishes skeleton (line list) from mesh (triangle list) payloads.
type Kind uint8

const (
	KindSkeleton Kind = iota + 1
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindSkeleton:
		return "skeleton"
	case KindMesh:
		return "mesh"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Primitive returns the number of indices per primitive.
func (k Kind) Primitive() int {
	if k == KindMesh {
		return 3
	}
	return 2
}

// Payload is the decoded geometry of one chunk.
type Payload struct {
	Kind Kind
	// Vertices holds xyz triples.
	Vertices []float32
	// Indices references Vertices by vertex number.
	Indices []uint32
}

// VertexCount returns the number of vertices.
func (p *Payload) VertexCount() int { return len(p.Vertices) / 3 }

// SizeBytes returns the GPU memory the payload occupies once uploaded.
func (p *Payload) SizeBytes() int64 {
	return 4 * int64(len(p.Vertices)+len(p.Indices))
}

// VertexBytes returns the vertices as little-endian float32 values, the
// layout of a vertex buffer.
func (p *Payload) VertexBytes() []byte {
	b := make([]byte, 4*len(p.Vertices))
	for i, v := range p.Vertices {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// IndexBytes returns the indices as little-endian uint32 values.
func (p *Payload) IndexBytes() []byte {
	b := make([]byte, 4*len(p.Indices))
	for i, idx := range p.Indices {
		binary.LittleEndian.PutUint32(b[4*i:], idx)
	}
	return b
}

// Validate checks that the vertex data is whole and every index is in range.
func (p *Payload) Validate() error {
	if p.Kind != KindSkeleton && p.Kind != KindMesh {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidPayload, uint8(p.Kind))
	}
	if len(p.Vertices)%3 != 0 {
		return fmt.Errorf("%w: %d floats is not a whole number of vertices", ErrInvalidPayload, len(p.Vertices))
	}
	if n := p.Kind.Primitive(); len(p.Indices)%n != 0 {
		return fmt.Errorf("%w: %s index count %d is not a multiple of %d", ErrInvalidPayload, p.Kind, len(p.Indices), n)
	}
	vc := uint32(p.VertexCount())
	for i, idx := range p.Indices {
		if idx >= vc {
			return fmt.Errorf("%w: index %d references vertex %d of %d", ErrInvalidPayload, i, idx, vc)
		}
	}
	return nil
}
