package object

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a payload is compressed. Codec values are stored in
// pack tables of contents; changing them breaks pack compatibility.
type Codec uint8

const (
	// CodecNone stores the payload as-is. Used when compression does not
	// shrink it.
	CodecNone Codec = 0
	// CodecZstd is the default general-purpose codec.
	CodecZstd Codec = 1
	// CodecLZ4 trades ratio for decode speed. Block mode; the caller must
	// know the uncompressed size.
	CodecLZ4 Codec = 2
)

// String returns the config name of c.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec from its config name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

var errIncompressible = errors.New("incompressible")

// MaxObjectSize is the largest object content the store writes or
// decodes. Sizes read from disk are checked against it before allocating.
const MaxObjectSize = 4 << 30

// maxDecodeHint caps the buffer preallocated from an untrusted size; larger
// outputs grow as the decoder produces bytes.
const maxDecodeHint = 1 << 20

// envelopeSlack covers the "type len\0" header of a loose object.
const envelopeSlack = 32

// zstd encoders are safe for concurrent EncodeAll; keep one per level.
var (
	zstdEncodersMu sync.Mutex
	zstdEncoders   = map[zstd.EncoderLevel]*zstd.Encoder{}

	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
)

func zstdEncoderFor(level int) *zstd.Encoder {
	lvl := zstd.EncoderLevelFromZstd(level)
	zstdEncodersMu.Lock()
	defer zstdEncodersMu.Unlock()
	enc, ok := zstdEncoders[lvl]
	if ok {
		return enc
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderCRC(true))
	if err != nil {
		panic("object: zstd encoder initialization failed: " + err.Error())
	}
	zstdEncoders[lvl] = enc
	return enc
}

func sharedZstdDecoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxObjectSize+envelopeSlack),
		)
		if err != nil {
			panic("object: zstd decoder initialization failed: " + err.Error())
		}
		zstdDecoder = dec
	})
	return zstdDecoder
}

// compressZstd compresses data with the zstd frame format. dst is reused
// when it has enough capacity.
func compressZstd(dst, data []byte, level int) []byte {
	return zstdEncoderFor(level).EncodeAll(data, dst[:0])
}

func decompressZstd(compressed []byte, sizeHint int) ([]byte, error) {
	out, err := sharedZstdDecoder().DecodeAll(compressed, make([]byte, 0, min(max(sizeHint, 0), maxDecodeHint)))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

func compressLZ4(dst, data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	dst = dst[:bound]
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when the input is incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	if size < 0 || int64(size) > MaxObjectSize || size > (len(compressed)+1)*lz4MaxRatio {
		return nil, fmt.Errorf("lz4 decompress: size %d unreachable from %d bytes", size, len(compressed))
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return out, nil
}

// CompressPayload compresses data with the requested codec. When the
// codec cannot shrink the data, the payload is returned unchanged with
// CodecNone. dst is an optional scratch buffer the result may alias.
func CompressPayload(dst, data []byte, codec Codec, level int) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecZstd:
		out := compressZstd(dst, data, level)
		if len(out) >= len(data) {
			return data, CodecNone, nil
		}
		return out, CodecZstd, nil
	case CodecLZ4:
		out, err := compressLZ4(dst, data)
		if errors.Is(err, errIncompressible) {
			return data, CodecNone, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return out, CodecLZ4, nil
	default:
		return nil, 0, fmt.Errorf("compress: %w: unsupported codec %d", ErrFormat, codec)
	}
}

// DecompressPayload reverses CompressPayload. The result always has
// length size; any other length is reported as corruption.
func DecompressPayload(compressed []byte, codec Codec, size int) ([]byte, error) {
	if size < 0 || int64(size) > MaxObjectSize {
		return nil, fmt.Errorf("decompress: %w: size %d out of range", ErrFormat, size)
	}
	var out []byte
	var err error
	switch codec {
	case CodecNone:
		out = make([]byte, len(compressed))
		copy(out, compressed)
	case CodecZstd:
		out, err = decompressZstd(compressed, size)
	case CodecLZ4:
		out, err = decompressLZ4(compressed, size)
	default:
		return nil, fmt.Errorf("decompress: %w: unsupported codec %d", ErrFormat, codec)
	}
	if err != nil {
		return nil, fmt.Errorf("decompress: %w: %w", ErrCorruption, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("decompress: %w: size %d, expected %d", ErrCorruption, len(out), size)
	}
	return out, nil
}
