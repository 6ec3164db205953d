package workers

import (
	"sync"
	"testing"

	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ flush.RunningWorkers = (*Registry)(nil)

var (
	users  = model.NewStreamID("public", "users")
	orders = model.NewStreamID("public", "orders")
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	sizes, err := r.RunningBatchSizes(users)
	require.NoError(t, err)
	assert.Empty(t, sizes)

	w1 := r.Register(users)
	w2 := r.Register(users)
	w3 := r.Register(orders)
	assert.NotEqual(t, w1.ID, w2.ID)
	assert.Equal(t, 3, r.Running())

	sizes, err = r.RunningBatchSizes(users)
	require.NoError(t, err)
	assert.Equal(t, []flush.BatchSize{{}, {}}, sizes, "sizes unknown until a batch is taken")

	r.SetBatchSize(w2, 1024)
	sizes, _ = r.RunningBatchSizes(users)
	assert.Equal(t, []flush.BatchSize{{}, flush.KnownSize(1024)}, sizes)

	r.Deregister(w1)
	sizes, _ = r.RunningBatchSizes(users)
	assert.Equal(t, []flush.BatchSize{flush.KnownSize(1024)}, sizes)

	r.Deregister(w2)
	r.Deregister(w2)
	sizes, _ = r.RunningBatchSizes(users)
	assert.Empty(t, sizes)
	assert.Equal(t, []model.StreamID{orders}, r.Streams())

	r.Deregister(w3)
	assert.Equal(t, 0, r.Running())
	assert.Empty(t, r.Streams())
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := users
			if i%2 == 0 {
				id = orders
			}
			for j := 0; j < 100; j++ {
				w := r.Register(id)
				r.SetBatchSize(w, int64(j))
				_, _ = r.RunningBatchSizes(id)
				r.Deregister(w)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Running())
}
