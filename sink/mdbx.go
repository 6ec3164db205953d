package sink

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/moontrade/flushd/codec"
	"github.com/moontrade/flushd/model"
	"github.com/moontrade/mdbx-go"
)

var ErrPathNotDir = errors.New("path is not a directory")

const (
	DefaultMDBXFlags = mdbx.EnvSyncDurable |
		mdbx.EnvNoTLS |
		mdbx.EnvWriteMap |
		mdbx.EnvLIFOReclaim |
		mdbx.EnvNoMemInit |
		mdbx.EnvCoalesce

	batchesDBI = "batches"
)

var DefaultMDBXGeometry = mdbx.Geometry{
	SizeLower:       1 * Megabyte,
	SizeNow:         1 * Megabyte,
	SizeUpper:       4 * Gigabyte,
	GrowthStep:      16 * Megabyte,
	ShrinkThreshold: 8 * Megabyte,
	PageSize:        8 * Kilobyte,
}

// MDBX writes every batch as one encoded frame keyed by stream and sequence.
type MDBX struct {
	store       *mdbx.Store
	dbi         mdbx.DBI
	batchSize   int64
	compression codec.Compression
	closed      int32
}

func OpenMDBX(path string, batchSize int64, compression codec.Compression) (*MDBX, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err = os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
	} else if !stat.IsDir() {
		return nil, ErrPathNotDir
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s := &MDBX{batchSize: batchSize, compression: compression}
	if s.store, err = mdbx.Open(path, DefaultMDBXFlags, 0644,
		func(env *mdbx.Env, create bool) error {
			if e := env.SetMaxDBS(1); e != mdbx.ErrSuccess {
				return e
			}
			if e := env.SetGeometry(DefaultMDBXGeometry); e != mdbx.ErrSuccess {
				return e
			}
			return nil
		}, func(store *mdbx.Store, create bool) error {
			return store.Update(func(tx *mdbx.Tx) error {
				var e mdbx.Error
				if s.dbi, e = tx.OpenDBI(batchesDBI, mdbx.DBCreate); e != mdbx.ErrSuccess {
					return e
				}
				return nil
			})
		}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MDBX) OptimalBatchSizeBytes() int64 {
	return s.batchSize
}

// batchKey orders batches by stream then by sequence.
func batchKey(id model.StreamID, seq uint64) []byte {
	key := make([]byte, 0, len(id.Namespace)+len(id.Name)+10)
	key = append(key, id.Key()...)
	key = append(key, 0)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(key, b[:]...)
}

func (s *MDBX) Write(ctx context.Context, batch model.Batch) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.EncodeBatch(batch, s.compression)
	if err != nil {
		return err
	}
	key := batchKey(batch.Stream, batch.Seq)
	if err := s.store.Update(func(tx *mdbx.Tx) error {
		var (
			k = mdbx.Bytes(&key)
			v = mdbx.Bytes(&data)
		)
		return tx.Put(s.dbi, &k, &v, 0)
	}); err != nil && err != mdbx.ErrSuccess {
		return err
	}
	return nil
}

// Batches decodes every stored batch of a stream in sequence order.
func (s *MDBX) Batches(id model.StreamID) ([]model.Batch, error) {
	prefix := id.Key() + "\x00"
	var out []model.Batch
	if err := s.store.View(func(tx *mdbx.Tx) error {
		cursor, e := tx.OpenCursor(s.dbi)
		if e != mdbx.ErrSuccess {
			return e
		}
		defer cursor.Close()

		op := mdbx.CursorFirst
		for {
			var k, v mdbx.Val
			if e = cursor.Get(&k, &v, op); e != mdbx.ErrSuccess {
				if e == mdbx.ErrNotFound {
					return nil
				}
				return e
			}
			op = mdbx.CursorNextNoDup
			if !strings.HasPrefix(string(k.UnsafeBytes()), prefix) {
				continue
			}
			// decoded records copy out of the mapped page
			batch, err := codec.DecodeBatch(v.UnsafeBytes())
			if err != nil {
				return err
			}
			out = append(out, batch)
		}
	}); err != nil && err != mdbx.ErrSuccess {
		return nil, err
	}
	return out, nil
}

func (s *MDBX) Sync() error {
	if e := s.store.Env().Sync(true, false); e != mdbx.ErrSuccess {
		return e
	}
	return nil
}

func (s *MDBX) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.store.Close()
}
