package geometry

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame body is stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("geometry: unknown compression %q", s)
	}
}

// maxLZ4Ratio bounds the expansion of an LZ4 block: a run of 255 bytes
// costs at least one byte of input.
const maxLZ4Ratio = 255

// zstdPreallocRatio bounds the output buffer allocated up front for a zstd
// body. Larger outputs grow as they decode.
const zstdPreallocRatio = 16

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize))
	return dec
}

func compress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible input: lz4 reports 0, store it raw instead.
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("geometry: unknown compression %d", uint8(c))
	}
}

func decompress(data []byte, c Compression, size uint32) ([]byte, error) {
	switch c {
	case CompressionNone:
		if uint32(len(data)) != size {
			return nil, fmt.Errorf("%w: raw body is %d bytes, header says %d", ErrCorrupt, len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		if uint64(size) > maxLZ4Ratio*uint64(len(data)) {
			return nil, fmt.Errorf("%w: lz4 body of %d bytes cannot expand to %d", ErrCorrupt, len(data), size)
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: lz4 body is %d bytes, header says %d", ErrCorrupt, n, size)
		}
		return dst, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, min(uint64(size), zstdPreallocRatio*uint64(len(data)))))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != size {
			return nil, fmt.Errorf("%w: zstd body is %d bytes, header says %d", ErrCorrupt, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, uint8(c))
	}
}
