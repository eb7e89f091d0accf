package soft

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segvis/gpu"
)

func TestDevice_BufferCounters(t *testing.T) {
	d := New()
	id, err := d.CreateBuffer(16, gpu.BufferUsageVertex)
	require.NoError(t, err)
	require.NoError(t, d.WriteBuffer(id, 4, []byte{1, 2, 3, 4}))

	data, ok := d.BufferData(id)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, data[4:8])

	require.Error(t, d.WriteBuffer(id, 14, []byte{1, 2, 3}))
	require.ErrorIs(t, d.WriteBuffer(999, 0, nil), ErrUnknownResource)

	_, err = d.CreateBuffer(0, gpu.BufferUsageIndex)
	require.ErrorIs(t, err, gpu.ErrInvalidSize)

	assert.Equal(t, 1, d.Stats().LiveBuffers())
	assert.Equal(t, int64(16), d.Stats().BufferBytes)

	d.DestroyBuffer(id)
	d.DestroyBuffer(id)
	st := d.Stats()
	assert.Zero(t, st.LiveBuffers())
	assert.Equal(t, 1, st.BufferFrees)
	assert.Zero(t, st.BufferBytes)
}

func TestDevice_FailNext(t *testing.T) {
	d := New()
	boom := errors.New("out of memory")
	d.FailNext(OpCreateTexture, boom)

	_, err := d.CreateTexture(2, 2, gpu.FormatRGBA8)
	require.ErrorIs(t, err, boom)

	// Only the next call fails.
	_, err = d.CreateTexture(2, 2, gpu.FormatRGBA8)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Stats().LiveTextures())
}

func TestDevice_FramebufferStatus(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, d *Device, fb gpu.FramebufferID)
		want  gpu.FramebufferStatus
	}{
		{
			name:  "no attachments",
			setup: func(*testing.T, *Device, gpu.FramebufferID) {},
			want:  gpu.StatusMissingAttachment,
		},
		{
			name: "color only",
			setup: func(t *testing.T, d *Device, fb gpu.FramebufferID) {
				attachTexture(t, d, fb, gpu.ColorAttachment(0), 4, 4, gpu.FormatRGBA8)
			},
			want: gpu.StatusComplete,
		},
		{
			name: "depth format in color slot",
			setup: func(t *testing.T, d *Device, fb gpu.FramebufferID) {
				attachTexture(t, d, fb, gpu.ColorAttachment(0), 4, 4, gpu.FormatDepth16)
			},
			want: gpu.StatusIncompleteAttachment,
		},
		{
			name: "size mismatch",
			setup: func(t *testing.T, d *Device, fb gpu.FramebufferID) {
				attachTexture(t, d, fb, gpu.ColorAttachment(0), 4, 4, gpu.FormatRGBA8)
				rb, err := d.CreateRenderbuffer(8, 4, gpu.FormatDepth16)
				require.NoError(t, err)
				require.NoError(t, d.Attach(fb, gpu.AttachmentDepth, gpu.Attachment{Renderbuffer: rb}))
			},
			want: gpu.StatusIncompleteDimensions,
		},
		{
			name: "destroyed attachment",
			setup: func(t *testing.T, d *Device, fb gpu.FramebufferID) {
				id := attachTexture(t, d, fb, gpu.ColorAttachment(0), 4, 4, gpu.FormatRGBA8)
				d.DestroyTexture(id)
			},
			want: gpu.StatusIncompleteAttachment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			fb, err := d.CreateFramebuffer()
			require.NoError(t, err)
			tt.setup(t, d, fb)
			assert.Equal(t, tt.want, d.CheckFramebufferStatus(fb))
		})
	}
}

func TestDevice_DrawAndReadPixel(t *testing.T) {
	d := New()
	fb, err := d.CreateFramebuffer()
	require.NoError(t, err)
	attachTexture(t, d, fb, gpu.ColorAttachment(0), 4, 4, gpu.FormatRGBA8)
	attachTexture(t, d, fb, gpu.ColorAttachment(1), 4, 4, gpu.FormatRGBA8)
	require.NoError(t, d.BindFramebuffer(fb))
	require.NoError(t, d.Clear([4]float32{0, 0, 0, 1}))

	vb := vertexBuffer(t, d, 1, 2, 0, 3, 3, 0)
	ib := indexBuffer(t, d, 0, 1)
	require.NoError(t, d.Draw(gpu.DrawCall{
		Primitive: gpu.PrimitiveLines,
		Vertices:  vb,
		Indices:   ib,
		Count:     2,
		Color:     [4]float32{1, 0, 0, 1},
		PickID:    0xdeadbeef,
	}))

	px, err := d.ReadPixel(gpu.ColorAttachment(0), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, px)

	px, err = d.ReadPixel(gpu.ColorAttachment(1), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(px[:]))

	px, err = d.ReadPixel(gpu.ColorAttachment(0), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0, 0, 0, 255}, px)

	_, err = d.ReadPixel(gpu.ColorAttachment(0), 4, 0)
	require.Error(t, err)

	require.Len(t, d.Draws(), 1)
	d.ResetDraws()
	assert.Empty(t, d.Draws())
	assert.Equal(t, 1, d.Stats().Draws)
}

func TestDevice_DrawRejectsBadIndices(t *testing.T) {
	d := New()
	vb := vertexBuffer(t, d, 0, 0, 0)
	ib := indexBuffer(t, d, 5)

	err := d.Draw(gpu.DrawCall{Vertices: vb, Indices: ib, Count: 1})
	require.ErrorContains(t, err, "out of range")

	err = d.Draw(gpu.DrawCall{Vertices: vb, Indices: ib, Count: 2})
	require.ErrorContains(t, err, "exceeds index buffer")

	err = d.Draw(gpu.DrawCall{Vertices: 999, Indices: ib, Count: 1})
	require.ErrorIs(t, err, ErrUnknownResource)
}

func attachTexture(t *testing.T, d *Device, fb gpu.FramebufferID, point gpu.AttachmentPoint, w, h int, f gpu.Format) gpu.TextureID {
	t.Helper()
	id, err := d.CreateTexture(w, h, f)
	require.NoError(t, err)
	require.NoError(t, d.Attach(fb, point, gpu.Attachment{Texture: id}))
	return id
}

func vertexBuffer(t *testing.T, d *Device, xyz ...float32) gpu.BufferID {
	t.Helper()
	data := make([]byte, 4*len(xyz))
	for i, v := range xyz {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	id, err := d.CreateBuffer(len(data), gpu.BufferUsageVertex)
	require.NoError(t, err)
	require.NoError(t, d.WriteBuffer(id, 0, data))
	return id
}

func indexBuffer(t *testing.T, d *Device, indices ...uint32) gpu.BufferID {
	t.Helper()
	data := make([]byte, 4*len(indices))
	for i, v := range indices {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	id, err := d.CreateBuffer(len(data), gpu.BufferUsageIndex)
	require.NoError(t, err)
	require.NoError(t, d.WriteBuffer(id, 0, data))
	return id
}

func TestDevice_DestroyBoundFramebuffer(t *testing.T) {
	d := New()
	fb, err := d.CreateFramebuffer()
	require.NoError(t, err)
	attachTexture(t, d, fb, gpu.ColorAttachment(0), 2, 2, gpu.FormatRGBA8)
	require.NoError(t, d.BindFramebuffer(fb))

	d.DestroyFramebuffer(fb)
	_, err = d.ReadPixel(gpu.ColorAttachment(0), 0, 0)
	require.ErrorIs(t, err, ErrUnknownResource)
	require.ErrorIs(t, d.BindFramebuffer(fb), ErrUnknownResource)
	assert.Equal(t, gpu.StatusUnsupported, d.CheckFramebufferStatus(fb))
}

func TestDevice_ReadPixelRequiresRGBA8(t *testing.T) {
	d := New()
	fb, err := d.CreateFramebuffer()
	require.NoError(t, err)
	attachTexture(t, d, fb, gpu.ColorAttachment(0), 2, 2, gpu.FormatR32F)
	require.NoError(t, d.BindFramebuffer(fb))

	_, err = d.ReadPixel(gpu.ColorAttachment(0), 0, 0)
	require.ErrorIs(t, err, gpu.ErrUnsupportedFormat)
}
