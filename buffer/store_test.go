package buffer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	users  = model.NewStreamID("public", "users")
	orders = model.NewStreamID("public", "orders")
	audit  = model.NewStreamID("", "audit")
)

var (
	_ flush.BufferStore    = (*Store)(nil)
	_ flush.MemoryReporter = (*Store)(nil)
)

func record(id model.StreamID, size int) model.Record {
	return model.Record{Stream: id, Data: []byte(strings.Repeat("x", size))}
}

func TestAppendAndQueuedBytes(t *testing.T) {
	s := New(1024)
	require.NoError(t, s.Append(record(users, 10)))
	require.NoError(t, s.Append(record(users, 5)))
	require.NoError(t, s.Append(record(orders, 7)))

	q, ok, err := s.QueuedBytes(users)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(15), q)

	_, ok, err = s.QueuedBytes(audit)
	require.NoError(t, err)
	assert.False(t, ok, "unknown stream has no accounting")

	assert.Equal(t, int64(22), s.TotalQueuedBytes())
	assert.Equal(t, int64(1024), s.MaxQueuedBytes())
}

func TestBufferedStreamsOrdered(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Append(record(users, 1)))
	require.NoError(t, s.Append(record(orders, 1)))
	require.NoError(t, s.Append(record(audit, 1)))

	ids, err := s.BufferedStreams()
	require.NoError(t, err)
	assert.Equal(t, []model.StreamID{audit, orders, users}, ids)

	_, ok := s.Take(orders, 0)
	require.True(t, ok)
	ids, err = s.BufferedStreams()
	require.NoError(t, err)
	assert.Equal(t, []model.StreamID{audit, users}, ids)

	// a drained stream keeps its accounting at zero
	q, ok, err := s.QueuedBytes(orders)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, q)
}

func TestAppendRejects(t *testing.T) {
	s := New(10)
	assert.ErrorIs(t, s.Append(record(users, 0)), ErrEmptyRecord)
	assert.ErrorIs(t, s.Append(record(users, 11)), ErrRecordTooBig)
	require.NoError(t, s.Append(record(users, 8)))
	assert.ErrorIs(t, s.Append(record(users, 3)), ErrBufferFull)
	s.Close()
	assert.ErrorIs(t, s.Append(record(users, 1)), ErrClosed)
}

func TestTakeRespectsMaxBytes(t *testing.T) {
	s := New(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(record(users, 10)))
	}

	batch, ok := s.Take(users, 25)
	require.True(t, ok)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, int64(20), batch.SizeBytes)
	assert.Equal(t, uint64(1), batch.Seq)

	batch, ok = s.Take(users, 0)
	require.True(t, ok)
	assert.Equal(t, 3, batch.Len())
	assert.Equal(t, uint64(2), batch.Seq)

	_, ok = s.Take(users, 100)
	assert.False(t, ok)
	assert.True(t, s.Empty())
}

func TestTakeOversizedRecord(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Append(record(users, 100)))
	require.NoError(t, s.Append(record(users, 1)))

	batch, ok := s.Take(users, 10)
	require.True(t, ok)
	assert.Equal(t, 1, batch.Len())
	assert.Equal(t, int64(100), batch.SizeBytes)
}

func TestAppendWaitUnblocksOnTake(t *testing.T) {
	s := New(10)
	require.NoError(t, s.Append(record(users, 10)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = s.AppendWait(ctx, record(orders, 5))
	}()

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Take(users, 0)
	require.True(t, ok)
	wg.Wait()
	require.NoError(t, err)

	q, _, _ := s.QueuedBytes(orders)
	assert.Equal(t, int64(5), q)
}

func TestAppendWaitContextCancelled(t *testing.T) {
	s := New(10)
	require.NoError(t, s.Append(record(users, 10)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.AppendWait(ctx, record(users, 1)), context.DeadlineExceeded)
}

func TestStats(t *testing.T) {
	s := New(100)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	require.NoError(t, s.Append(record(users, 4)))
	require.NoError(t, s.Append(record(orders, 6)))
	_, _ = s.Take(orders, 0)

	st := s.Stats()
	assert.Equal(t, int64(4), st.TotalBytes)
	assert.Equal(t, int64(100), st.MaxBytes)
	require.Len(t, st.Streams, 2)
	assert.Equal(t, orders, st.Streams[0].Stream)
	assert.Equal(t, uint64(1), st.Streams[0].Seq)
	assert.True(t, st.Streams[0].Oldest.IsZero())
	assert.Equal(t, users, st.Streams[1].Stream)
	assert.Equal(t, 1, st.Streams[1].Records)
	assert.True(t, st.Streams[1].Oldest.Equal(at))
}
