package geometry

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cube() *Payload {
	return &Payload{
		Kind: KindMesh,
		Vertices: []float32{
			0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0,
			0, 0, 1, 1, 0, 1, 1, 1, 1, 0, 1, 1,
		},
		Indices: []uint32{
			0, 1, 2, 0, 2, 3, 4, 5, 6, 4, 6, 7,
			0, 1, 5, 0, 5, 4, 3, 2, 6, 3, 6, 7,
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			p := cube()
			frame, err := Encode(p, c)
			require.NoError(t, err)

			got, err := Decode(KindMesh, frame)
			require.NoError(t, err)
			assert.Equal(t, p, got)
			assert.Equal(t, int64(4*(24+24)), got.SizeBytes())
		})
	}
}

func TestEncode_LargeCompresses(t *testing.T) {
	p := &Payload{Kind: KindSkeleton}
	for i := range 4096 {
		p.Vertices = append(p.Vertices, float32(i%16), 0, 0)
		if i > 0 {
			p.Indices = append(p.Indices, uint32(i-1), uint32(i))
		}
	}

	raw, err := Encode(p, CompressionNone)
	require.NoError(t, err)
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		frame, err := Encode(p, c)
		require.NoError(t, err)
		assert.Equal(t, byte(c), frame[0])
		assert.Less(t, len(frame), len(raw))

		got, err := Decode(KindSkeleton, frame)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEncode_IncompressibleFallsBackToRaw(t *testing.T) {
	p := &Payload{Kind: KindSkeleton, Vertices: []float32{1.5, -2.25, 3}}
	frame, err := Encode(p, CompressionLZ4)
	require.NoError(t, err)

	got, err := Decode(KindSkeleton, frame)
	require.NoError(t, err)
	assert.Equal(t, p.Vertices, got.Vertices)
	assert.Empty(t, got.Indices)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		ok   bool
	}{
		{"empty skeleton", Payload{Kind: KindSkeleton}, true},
		{"unknown kind", Payload{Kind: 9}, false},
		{"partial vertex", Payload{Kind: KindMesh, Vertices: []float32{1, 2}}, false},
		{"odd skeleton", Payload{Kind: KindSkeleton, Vertices: make([]float32, 6), Indices: []uint32{0, 1, 1}}, false},
		{"mesh not triangles", Payload{Kind: KindMesh, Vertices: make([]float32, 9), Indices: []uint32{0, 1}}, false},
		{"index out of range", Payload{Kind: KindSkeleton, Vertices: make([]float32, 6), Indices: []uint32{0, 2}}, false},
		{"edge", Payload{Kind: KindSkeleton, Vertices: make([]float32, 6), Indices: []uint32{0, 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			}
		})
	}

	_, err := Encode(&Payload{Kind: KindMesh, Vertices: make([]float32, 3), Indices: []uint32{0, 0, 1}}, CompressionNone)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode_Corrupt(t *testing.T) {
	frame, err := Encode(cube(), CompressionNone)
	require.NoError(t, err)

	_, err = Decode(KindMesh, frame[:3])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(KindMesh, frame[:len(frame)-4])
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), frame...)
	bad[0] = 7
	_, err = Decode(KindMesh, bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	// Vertex count disagreeing with the body length.
	bad = append([]byte(nil), frame...)
	binary.LittleEndian.PutUint32(bad[frameHeaderSize:], 100)
	_, err = Decode(KindMesh, bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	// Index out of range survives framing but fails validation.
	bad = append([]byte(nil), frame...)
	binary.LittleEndian.PutUint32(bad[len(bad)-4:], 99)
	_, err = Decode(KindMesh, bad)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	lz, err := Encode(cube(), CompressionZSTD)
	require.NoError(t, err)
	_, err = Decode(KindMesh, lz[:len(lz)-3])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecode_DeclaredSizeBeyondExpansion(t *testing.T) {
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			frame := make([]byte, frameHeaderSize+5)
			frame[0] = byte(c)
			binary.LittleEndian.PutUint32(frame[1:], MaxBodySize)

			_, err := Decode(KindMesh, frame)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
	assert.Equal(t, "mesh", KindMesh.String())
}
