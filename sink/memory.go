package sink

import (
	"context"
	"sync"

	"github.com/moontrade/flushd/model"
)

// Memory keeps every written batch. It backs tests and dry runs.
type Memory struct {
	batchSize int64

	mu      sync.Mutex
	batches []model.Batch
	closed  bool
}

func NewMemory(batchSize int64) *Memory {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Memory{batchSize: batchSize}
}

func (m *Memory) OptimalBatchSizeBytes() int64 {
	return m.batchSize
}

func (m *Memory) Write(ctx context.Context, batch model.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.batches = append(m.batches, batch)
	return nil
}

// Batches returns the batches written so far, optionally limited to a stream.
func (m *Memory) Batches(id model.StreamID) []model.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if id.IsZero() || b.Stream == id {
			out = append(out, b)
		}
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
