package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moontrade/flushd/codec"
	"github.com/moontrade/flushd/model"
)

const (
	Kilobyte = 1024
	Megabyte = 1024 * 1024
	Gigabyte = Megabyte * 1024

	DefaultBatchSize = 4 * Megabyte
)

var (
	ErrUnknownSink = errors.New("unknown sink")
	ErrClosed      = errors.New("sink closed")
)

// Sink is the destination of flushed batches.
type Sink interface {
	// OptimalBatchSizeBytes is the preferred amount of data per Write.
	OptimalBatchSizeBytes() int64
	Write(ctx context.Context, batch model.Batch) error
	Close() error
}

type Kind string

const (
	KindMemory Kind = "memory"
	KindMDBX   Kind = "mdbx"
	KindRedis  Kind = "redis"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindMemory, KindMDBX, KindRedis:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSink, s)
}

type Config struct {
	Kind        Kind
	BatchSize   int64
	Compression codec.Compression
	// Path is the MDBX environment directory.
	Path string
	// Addr is the Redis server address.
	Addr   string
	Auth   string
	Prefix string
}

func (c *Config) def() {
	if c.Kind == "" {
		c.Kind = KindMemory
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Prefix == "" {
		c.Prefix = DefaultRedisPrefix
	}
}

// Open creates the sink described by cfg.
func Open(cfg Config) (Sink, error) {
	cfg.def()
	switch cfg.Kind {
	case KindMemory:
		return NewMemory(cfg.BatchSize), nil
	case KindMDBX:
		return OpenMDBX(cfg.Path, cfg.BatchSize, cfg.Compression)
	case KindRedis:
		return DialRedis(cfg.Addr, cfg.Auth, cfg.Prefix, cfg.BatchSize, cfg.Compression), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Kind)
}
