package workers

import (
	"sync"
	"sync/atomic"

	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/model"
	"github.com/tidwall/rhh"
)

// Worker is a handle for one in-flight flush.
type Worker struct {
	ID     uint64
	Stream model.StreamID
	size   flush.BatchSize
}

type streamWorkers struct {
	workers []*Worker
}

// Registry tracks which streams are being flushed and how big each in-flight
// batch is. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	streams *rhh.Map // id.Key() -> *streamWorkers
	nextID  uint64
	running int
}

func NewRegistry() *Registry {
	return &Registry{streams: rhh.New(64)}
}

// Register records a worker on a stream before its batch size is known.
func (r *Registry) Register(id model.StreamID) *Worker {
	w := &Worker{
		ID:     atomic.AddUint64(&r.nextID, 1),
		Stream: id,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var sw *streamWorkers
	if v, ok := r.streams.Get(id.Key()); ok {
		sw = v.(*streamWorkers)
	} else {
		sw = &streamWorkers{}
		r.streams.Set(id.Key(), sw)
	}
	sw.workers = append(sw.workers, w)
	r.running++
	return w
}

// SetBatchSize records the size of the batch a worker took.
func (r *Registry) SetBatchSize(w *Worker, bytes int64) {
	r.mu.Lock()
	w.size = flush.KnownSize(bytes)
	r.mu.Unlock()
}

func (r *Registry) Deregister(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.streams.Get(w.Stream.Key())
	if !ok {
		return
	}
	sw := v.(*streamWorkers)
	for i, other := range sw.workers {
		if other == w {
			sw.workers = append(sw.workers[:i], sw.workers[i+1:]...)
			r.running--
			break
		}
	}
	if len(sw.workers) == 0 {
		r.streams.Delete(w.Stream.Key())
	}
}

// RunningBatchSizes returns one entry per worker on the stream in
// registration order.
func (r *Registry) RunningBatchSizes(id model.StreamID) ([]flush.BatchSize, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.streams.Get(id.Key())
	if !ok {
		return nil, nil
	}
	sw := v.(*streamWorkers)
	sizes := make([]flush.BatchSize, len(sw.workers))
	for i, w := range sw.workers {
		sizes[i] = w.size
	}
	return sizes, nil
}

// Running is the number of registered workers across all streams.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Streams returns the streams with at least one registered worker.
func (r *Registry) Streams() []model.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]model.StreamID, 0, r.streams.Len())
	r.streams.Range(func(key string, value interface{}) bool {
		ids = append(ids, model.StreamIDFromKey(key))
		return true
	})
	return ids
}
