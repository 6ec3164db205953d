package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/moontrade/flushd/codec"
	"github.com/moontrade/flushd/model"
)

const DefaultRedisPrefix = "flushd"

// RedisDial connects to a Redis compatible server, optionally over TLS, and
// authenticates when auth is not empty.
func RedisDial(addr, auth string, tlscfg *tls.Config) (redis.Conn, error) {
	var conn redis.Conn
	var err error
	if tlscfg != nil {
		conn, err = redis.Dial("tcp", addr,
			redis.DialUseTLS(true), redis.DialTLSConfig(tlscfg))
	} else {
		conn, err = redis.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if auth != "" {
		res, err := redis.String(conn.Do("AUTH", auth))
		if err != nil {
			conn.Close()
			return nil, err
		}
		if res != "OK" {
			conn.Close()
			return nil, fmt.Errorf("'OK', got '%s'", res)
		}
	}
	return conn, nil
}

// Redis appends each encoded batch to a list named <prefix>:<stream> and
// records the last written sequence in the <prefix>:seq hash.
type Redis struct {
	pool        *redis.Pool
	prefix      string
	batchSize   int64
	compression codec.Compression
}

func DialRedis(addr, auth, prefix string, batchSize int64, compression codec.Compression) *Redis {
	return NewRedis(&redis.Pool{
		MaxIdle:     8,
		IdleTimeout: time.Minute,
		Dial: func() (redis.Conn, error) {
			return RedisDial(addr, auth, nil)
		},
	}, prefix, batchSize, compression)
}

func NewRedis(pool *redis.Pool, prefix string, batchSize int64, compression codec.Compression) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Redis{pool: pool, prefix: prefix, batchSize: batchSize, compression: compression}
}

func (r *Redis) OptimalBatchSizeBytes() int64 {
	return r.batchSize
}

func (r *Redis) listKey(id model.StreamID) string {
	return r.prefix + ":" + id.String()
}

func (r *Redis) Write(ctx context.Context, batch model.Batch) error {
	data, err := codec.EncodeBatch(batch, r.compression)
	if err != nil {
		return err
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err = conn.Send("RPUSH", r.listKey(batch.Stream), data); err != nil {
		return err
	}
	if err = conn.Send("HSET", r.prefix+":seq", batch.Stream.String(), batch.Seq); err != nil {
		return err
	}
	if err = conn.Flush(); err != nil {
		return err
	}
	if _, err = conn.Receive(); err != nil {
		return fmt.Errorf("rpush %s: %w", r.listKey(batch.Stream), err)
	}
	if _, err = conn.Receive(); err != nil {
		return fmt.Errorf("hset %s: %w", r.prefix+":seq", err)
	}
	return nil
}

// Batches reads back and decodes every batch stored for a stream.
func (r *Redis) Batches(ctx context.Context, id model.StreamID) ([]model.Batch, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	items, err := redis.ByteSlices(conn.Do("LRANGE", r.listKey(id), 0, -1))
	if err != nil {
		return nil, err
	}
	out := make([]model.Batch, 0, len(items))
	for _, item := range items {
		batch, err := codec.DecodeBatch(item)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// LastSeq returns the sequence of the last batch written for a stream.
func (r *Redis) LastSeq(ctx context.Context, id model.StreamID) (uint64, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return 0, false, err
	}
	defer conn.Close()
	seq, err := redis.Uint64(conn.Do("HGET", r.prefix+":seq", id.String()))
	if err == redis.ErrNil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func (r *Redis) Close() error {
	return r.pool.Close()
}
