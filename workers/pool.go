package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/logger"
	"github.com/moontrade/flushd/metrics"
	"github.com/moontrade/flushd/model"
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = 100 * time.Millisecond
)

// Scheduler picks the next stream to flush.
type Scheduler interface {
	Next(rank int) (model.StreamID, bool, error)
	SetClosing(closing bool)
}

// Source hands out buffered records.
type Source interface {
	Take(id model.StreamID, maxBytes int64) (model.Batch, bool)
	Empty() bool
}

// Sink durably writes a batch.
type Sink interface {
	flush.BatchSizer
	Write(ctx context.Context, batch model.Batch) error
}

type Options struct {
	Workers      int
	PollInterval time.Duration
}

func (o *Options) def() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// Stats are cumulative counters since the pool was created.
type Stats struct {
	Workers  int
	Busy     int
	Batches  uint64
	Records  uint64
	Bytes    uint64
	Failures uint64
}

// Pool polls the scheduler and runs flushes on a fixed number of workers.
type Pool struct {
	sched    Scheduler
	source   Source
	registry *Registry
	sink     Sink
	opts     Options
	monitor  *Monitor
	wake     chan struct{}

	busy     int32
	batches  uint64
	records  uint64
	bytes    uint64
	failures uint64
}

func NewPool(sched Scheduler, source Source, registry *Registry, sink Sink, opts Options) *Pool {
	opts.def()
	return &Pool{
		sched:    sched,
		source:   source,
		registry: registry,
		sink:     sink,
		opts:     opts,
		monitor:  NewMonitor(),
		wake:     make(chan struct{}, 1),
	}
}

func (p *Pool) Monitor() *Monitor {
	return p.monitor
}

// Wake triggers a scheduling pass without waiting for the next poll.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drives the pool until ctx is done. In-flight flushes are finished
// before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	work := make(chan *Worker, p.opts.Workers)
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range work {
				p.flush(ctx, w)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		p.dispatch(work)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// dispatch runs one scheduling pass, asking for one candidate per idle worker.
// Each selected stream is registered before the next rank is evaluated so the
// scheduler sees it as busy. A stream due on both triggers can be returned
// twice in one pass, first by size and then by its timer; the second worker
// takes whatever arrived in between or returns without writing.
func (p *Pool) dispatch(work chan<- *Worker) {
	idle := p.opts.Workers - int(atomic.LoadInt32(&p.busy))
	for rank := 0; rank < idle; rank++ {
		id, ok, err := p.sched.Next(rank)
		if err != nil {
			logger.WarnErr(err, "rank", rank, "scheduling pass failed")
			return
		}
		if !ok {
			return
		}
		atomic.AddInt32(&p.busy, 1)
		work <- p.registry.Register(id)
	}
}

func (p *Pool) flush(ctx context.Context, w *Worker) {
	defer func() {
		p.registry.Deregister(w)
		atomic.AddInt32(&p.busy, -1)
		p.Wake()
	}()

	start := time.Now()
	batch, ok := p.source.Take(w.Stream, p.sink.OptimalBatchSizeBytes())
	if !ok {
		return
	}
	p.registry.SetBatchSize(w, batch.SizeBytes)

	err := p.sink.Write(ctx, batch)
	elapsed := time.Since(start)
	metrics.RecordFlush(batch.Len(), batch.SizeBytes, elapsed, err)
	if err != nil {
		atomic.AddUint64(&p.failures, 1)
		logger.Error(err,
			"stream", w.Stream.String(),
			"seq", batch.Seq,
			"records", batch.Len(),
			"bytes", batch.SizeBytes,
			"flush failed",
		)
	} else {
		atomic.AddUint64(&p.batches, 1)
		atomic.AddUint64(&p.records, uint64(batch.Len()))
		atomic.AddUint64(&p.bytes, uint64(batch.SizeBytes))
		logger.Debug(
			"stream", w.Stream.String(),
			"seq", batch.Seq,
			"records", batch.Len(),
			"bytes", batch.SizeBytes,
			"elapsed", elapsed,
			"flushed",
		)
	}
	p.monitor.Send(FlushEvent{
		Stream:  w.Stream,
		Seq:     batch.Seq,
		Records: batch.Len(),
		Bytes:   batch.SizeBytes,
		Elapsed: elapsed,
		Err:     err,
	})
}

// Drain switches the scheduler to closing mode and waits until every buffered
// record has been flushed. Run must be active.
func (p *Pool) Drain(ctx context.Context) error {
	p.sched.SetClosing(true)
	p.Wake()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		if p.source.Empty() && p.registry.Running() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.opts.Workers,
		Busy:     int(atomic.LoadInt32(&p.busy)),
		Batches:  atomic.LoadUint64(&p.batches),
		Records:  atomic.LoadUint64(&p.records),
		Bytes:    atomic.LoadUint64(&p.bytes),
		Failures: atomic.LoadUint64(&p.failures),
	}
}
