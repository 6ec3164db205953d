package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moontrade/flushd/model"
	"github.com/tidwall/tinybtree"
)

var (
	ErrBufferFull   = errors.New("buffer full")
	ErrClosed       = errors.New("buffer closed")
	ErrRecordTooBig = errors.New("record too big")
	ErrEmptyRecord  = errors.New("empty record")
)

type queue struct {
	id      model.StreamID
	records []model.Record
	bytes   int64
	seq     uint64
	// lower bound of the append time of the oldest queued record
	oldest time.Time
}

// Store holds records per stream until a flush worker takes them. The total
// number of queued bytes never exceeds the configured maximum.
type Store struct {
	mu     sync.Mutex
	tree   tinybtree.BTree // id.Key() -> *queue
	total  int64
	max    int64
	closed bool
	space  chan struct{}
	now    func() time.Time
}

func New(maxBytes int64) *Store {
	return &Store{
		max:   maxBytes,
		space: make(chan struct{}),
		now:   time.Now,
	}
}

func (s *Store) queue(id model.StreamID, create bool) *queue {
	v, ok := s.tree.Get(id.Key())
	if ok {
		return v.(*queue)
	}
	if !create {
		return nil
	}
	q := &queue{id: id}
	s.tree.Set(id.Key(), q)
	return q
}

// Append queues a record. It fails with ErrBufferFull instead of blocking.
func (s *Store) Append(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(rec)
}

func (s *Store) append(rec model.Record) error {
	if s.closed {
		return ErrClosed
	}
	size := rec.Size()
	if size == 0 {
		return ErrEmptyRecord
	}
	if s.max > 0 && size > s.max {
		return ErrRecordTooBig
	}
	if s.max > 0 && s.total+size > s.max {
		return ErrBufferFull
	}
	q := s.queue(rec.Stream, true)
	if len(q.records) == 0 {
		q.oldest = s.now()
	}
	q.records = append(q.records, rec)
	q.bytes += size
	s.total += size
	return nil
}

// AppendWait queues a record, waiting for a flush to release memory when the
// buffer is full.
func (s *Store) AppendWait(ctx context.Context, rec model.Record) error {
	for {
		s.mu.Lock()
		err := s.append(rec)
		space := s.space
		s.mu.Unlock()
		if err != ErrBufferFull {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-space:
		}
	}
}

// Take removes whole records from the head of a stream's queue until the next
// one would push the batch past maxBytes. At least one record is taken so an
// oversized record cannot wedge its stream.
func (s *Store) Take(id model.StreamID, maxBytes int64) (model.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(id, false)
	if q == nil || len(q.records) == 0 {
		return model.Batch{}, false
	}

	batch := model.Batch{Stream: id}
	n := 0
	for n < len(q.records) {
		size := q.records[n].Size()
		if n > 0 && maxBytes > 0 && batch.SizeBytes+size > maxBytes {
			break
		}
		batch.Append(q.records[n])
		n++
	}

	q.seq++
	batch.Seq = q.seq
	q.records = append(q.records[:0:0], q.records[n:]...)
	q.bytes -= batch.SizeBytes
	s.total -= batch.SizeBytes
	// wake up any AppendWait callers
	close(s.space)
	s.space = make(chan struct{})
	return batch, true
}

// BufferedStreams returns the streams holding at least one record in
// namespace, name order.
func (s *Store) BufferedStreams() ([]model.StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]model.StreamID, 0, s.tree.Len())
	s.tree.Scan(func(key string, value interface{}) bool {
		q := value.(*queue)
		if len(q.records) > 0 {
			ids = append(ids, q.id)
		}
		return true
	})
	return ids, nil
}

// QueuedBytes reports false for a stream the store has never seen.
func (s *Store) QueuedBytes(id model.StreamID) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(id, false)
	if q == nil {
		return 0, false, nil
	}
	return q.bytes, true, nil
}

func (s *Store) TotalQueuedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) MaxQueuedBytes() int64 {
	return s.max
}

// Empty reports whether no stream holds records.
func (s *Store) Empty() bool {
	return s.TotalQueuedBytes() == 0
}

// Close rejects further appends. Queued records can still be taken.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.space)
	s.space = make(chan struct{})
}

type StreamStats struct {
	Stream  model.StreamID
	Records int
	Bytes   int64
	Seq     uint64
	Oldest  time.Time
}

type Stats struct {
	TotalBytes int64
	MaxBytes   int64
	Streams    []StreamStats
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalBytes: s.total, MaxBytes: s.max}
	s.tree.Scan(func(key string, value interface{}) bool {
		q := value.(*queue)
		ss := StreamStats{
			Stream:  q.id,
			Records: len(q.records),
			Bytes:   q.bytes,
			Seq:     q.seq,
		}
		if len(q.records) > 0 {
			ss.Oldest = q.oldest
		}
		st.Streams = append(st.Streams, ss)
		return true
	})
	return st
}
