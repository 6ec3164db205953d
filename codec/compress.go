package codec

import (
	"errors"
	"strings"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression is the algorithm tag stored in the first byte of an encoded batch.
type Compression byte

const (
	None   Compression = 0
	LZ4    Compression = 1
	Zstd   Compression = 2
	Snappy Compression = 3
)

// MaxBatchBytes bounds the uncompressed size of an encoded batch.
const MaxBatchBytes = 1 << 30

// lz4MaxRatio is the largest expansion an LZ4 block can encode.
const lz4MaxRatio = 255

// ZstdLevel is the level used for Zstd compression.
var ZstdLevel = zstd.DefaultCompression

var (
	ErrUnknownCompression = errors.New("unknown compression algorithm")
	ErrCorrupted          = errors.New("corrupted")
	ErrSizeDataMismatch   = errors.New("size != len(data)")
	ErrBatchTooLarge      = errors.New("batch too large")
)

var (
	lz4Pool = &sync.Pool{New: func() interface{} {
		return &lz4Helper{}
	}}
)

type lz4Helper struct {
	ht [65536]int
}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	default:
		return None, ErrUnknownCompression
	}
}

// Compress compresses b with the supplied algorithm. The returned algorithm
// is None when compressing did not make the payload smaller.
func Compress(c Compression, b []byte) ([]byte, Compression, error) {
	switch c {
	case None:
		return b, None, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(b)))
		helper := lz4Pool.Get().(*lz4Helper)
		n, err := lz4.CompressBlock(b, dst, helper.ht[:])
		lz4Pool.Put(helper)
		if err != nil {
			return nil, None, err
		}
		// Incompressible
		if n == 0 || n >= len(b) {
			return b, None, nil
		}
		return dst[:n], LZ4, nil
	case Zstd:
		out, err := zstd.CompressLevel(nil, b, ZstdLevel)
		if err != nil {
			return nil, None, err
		}
		if len(out) >= len(b) {
			return b, None, nil
		}
		return out, Zstd, nil
	case Snappy:
		out := snappy.Encode(nil, b)
		if len(out) >= len(b) {
			return b, None, nil
		}
		return out, Snappy, nil
	default:
		return nil, None, ErrUnknownCompression
	}
}

// Decompress reverses Compress. size is the uncompressed length and is checked
// against the payload before anything is allocated.
func Decompress(c Compression, b []byte, size int) ([]byte, error) {
	if size < 0 || size > MaxBatchBytes {
		return nil, ErrCorrupted
	}
	switch c {
	case None:
		if len(b) != size {
			return nil, ErrSizeDataMismatch
		}
		return b, nil
	case LZ4:
		if size > len(b)*lz4MaxRatio {
			return nil, ErrCorrupted
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(b, out)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, ErrSizeDataMismatch
		}
		return out, nil
	case Zstd:
		out, err := zstd.Decompress(nil, b)
		if err != nil {
			return nil, err
		}
		if len(out) != size {
			return nil, ErrSizeDataMismatch
		}
		return out, nil
	case Snappy:
		n, err := snappy.DecodedLen(b)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, ErrSizeDataMismatch
		}
		out, err := snappy.Decode(nil, b)
		if err != nil {
			return nil, err
		}
		if len(out) != size {
			return nil, ErrSizeDataMismatch
		}
		return out, nil
	default:
		return nil, ErrUnknownCompression
	}
}
