package geometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxBodySize bounds the uncompressed body a frame may declare.
const MaxBodySize = 1 << 30

const (
	frameHeaderSize = 5
	bodyHeaderSize  = 8
)

// ErrCorrupt is returned by Decode for malformed frames.
var ErrCorrupt = errors.New("geometry: corrupt frame")

var errIncompressible = errors.New("geometry: incompressible")

// Encode validates p and frames it with compression c. Bodies LZ4 cannot
// shrink are stored uncompressed.
func Encode(p *Payload, c Compression) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	body := make([]byte, bodyHeaderSize+4*len(p.Vertices)+4*len(p.Indices))
	binary.LittleEndian.PutUint32(body[0:], uint32(p.VertexCount()))
	binary.LittleEndian.PutUint32(body[4:], uint32(len(p.Indices)))
	off := bodyHeaderSize
	for _, v := range p.Vertices {
		binary.LittleEndian.PutUint32(body[off:], math.Float32bits(v))
		off += 4
	}
	for _, idx := range p.Indices {
		binary.LittleEndian.PutUint32(body[off:], idx)
		off += 4
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("geometry: body of %d bytes exceeds %d", len(body), MaxBodySize)
	}

	data, err := compress(body, c)
	if errors.Is(err, errIncompressible) {
		data, c, err = body, CompressionNone, nil
	}
	if err != nil {
		return nil, fmt.Errorf("geometry: %s: %w", c, err)
	}

	frame := make([]byte, frameHeaderSize+len(data))
	frame[0] = byte(c)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(body)))
	copy(frame[frameHeaderSize:], data)
	return frame, nil
}

// Decode parses a frame into a payload of the given kind and validates it.
func Decode(kind Kind, frame []byte) (*Payload, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(frame))
	}
	c := Compression(frame[0])
	size := binary.LittleEndian.Uint32(frame[1:])
	if size > MaxBodySize {
		return nil, fmt.Errorf("%w: declared body of %d bytes", ErrCorrupt, size)
	}

	body, err := decompress(frame[frameHeaderSize:], c, size)
	if err != nil {
		return nil, err
	}
	if len(body) < bodyHeaderSize {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrCorrupt, len(body))
	}

	vc := uint64(binary.LittleEndian.Uint32(body[0:]))
	ic := uint64(binary.LittleEndian.Uint32(body[4:]))
	if want := bodyHeaderSize + 12*vc + 4*ic; uint64(len(body)) != want {
		return nil, fmt.Errorf("%w: %d vertices and %d indices need %d bytes, have %d", ErrCorrupt, vc, ic, want, len(body))
	}

	p := &Payload{
		Kind:     kind,
		Vertices: make([]float32, 3*vc),
		Indices:  make([]uint32, ic),
	}
	off := bodyHeaderSize
	for i := range p.Vertices {
		p.Vertices[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
		off += 4
	}
	for i := range p.Indices {
		p.Indices[i] = binary.LittleEndian.Uint32(body[off:])
		off += 4
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
