package flush

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moontrade/flushd/logger"
	"github.com/moontrade/flushd/model"
)

const (
	// DefaultInterval bounds how long a non-empty stream waits between flushes.
	DefaultInterval = 5 * time.Minute
	// DefaultEagerFlushRatio is the buffer fill ratio at which every non-empty
	// stream qualifies for a size-triggered flush.
	DefaultEagerFlushRatio = 0.90
)

// BufferStore reports which streams hold buffered data and how much.
type BufferStore interface {
	BufferedStreams() ([]model.StreamID, error)
	// QueuedBytes returns false when the store has no accounting for the
	// stream.
	QueuedBytes(id model.StreamID) (int64, bool, error)
}

// MemoryReporter is optionally implemented by a BufferStore that enforces a
// memory limit.
type MemoryReporter interface {
	TotalQueuedBytes() int64
	MaxQueuedBytes() int64
}

// BatchSize is the size of one in-flight flush. Known is false until the
// worker has taken its batch from the buffer.
type BatchSize struct {
	Bytes int64
	Known bool
}

func KnownSize(n int64) BatchSize {
	return BatchSize{Bytes: n, Known: true}
}

// RunningWorkers reports one BatchSize per worker currently flushing a stream.
type RunningWorkers interface {
	RunningBatchSizes(id model.StreamID) ([]BatchSize, error)
}

// BatchSizer is implemented by sinks to report their preferred write size.
type BatchSizer interface {
	OptimalBatchSizeBytes() int64
}

// Trigger is the reason a stream was selected.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerSize
	TriggerTime
)

func (t Trigger) String() string {
	switch t {
	case TriggerSize:
		return "size"
	case TriggerTime:
		return "time"
	default:
		return "none"
	}
}

type Option func(s *Scheduler)

func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

func WithPolicy(policy ThresholdPolicy) Option {
	return func(s *Scheduler) {
		s.policy = policy
	}
}

// WithEagerFlushRatio sets the fill ratio of a MemoryReporter store at which
// thresholds drop to zero. A ratio <= 0 disables eager flushing.
func WithEagerFlushRatio(ratio float64) Option {
	return func(s *Scheduler) {
		s.eagerRatio = ratio
	}
}

// Scheduler picks the next stream to flush. It is safe for concurrent use.
// The only state it owns is the last time-triggered flush of each stream. A
// stream that stays empty for a whole interval loses its timer and is seeded
// again when data returns.
type Scheduler struct {
	store      BufferStore
	workers    RunningWorkers
	sizer      BatchSizer
	clock      Clock
	policy     ThresholdPolicy
	interval   time.Duration
	eagerRatio float64
	closing    int32

	mu        sync.Mutex
	lastFlush map[model.StreamID]time.Time
	idle      map[model.StreamID]time.Time // first seen empty
}

func New(store BufferStore, workers RunningWorkers, sizer BatchSizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		workers:    workers,
		sizer:      sizer,
		clock:      LocalClock,
		policy:     ProportionalThreshold,
		interval:   DefaultInterval,
		eagerRatio: DefaultEagerFlushRatio,
		lastFlush:  make(map[model.StreamID]time.Time),
		idle:       make(map[model.StreamID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = LocalClock
	}
	if s.policy == nil {
		s.policy = ProportionalThreshold
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	return s
}

type candidate struct {
	id     model.StreamID
	queued int64
}

// Next returns the stream that should be flushed next, if any. rank is the
// ordinal of the candidate within the current scheduling pass; higher ranks
// face a stricter size threshold. Errors from collaborators are returned as is
// and leave no partial timer update behind.
func (s *Scheduler) Next(rank int) (model.StreamID, bool, error) {
	if rank < 0 {
		rank = 0
	}
	candidates, err := s.candidates()
	if err != nil {
		return model.StreamID{}, false, err
	}
	s.observe(candidates)
	if len(candidates) == 0 {
		return model.StreamID{}, false, nil
	}

	optimal := s.sizer.OptimalBatchSizeBytes()
	threshold := s.threshold(rank, optimal)

	for _, c := range candidates {
		sizes, err := s.workers.RunningBatchSizes(c.id)
		if err != nil {
			return model.StreamID{}, false, err
		}

		trigger := TriggerNone
		// At most one active flush per stream for size-triggered work.
		if len(sizes) == 0 && c.queued > threshold {
			trigger = TriggerSize
		} else if s.fire(c.id) {
			trigger = TriggerTime
		}
		if trigger == TriggerNone {
			continue
		}

		logger.Debug(
			"stream", c.id.String(),
			"trigger", trigger.String(),
			"rank", rank,
			"queued", c.queued,
			"running", len(sizes),
			"inflight", estimateInFlight(sizes, optimal, c.queued),
			"threshold", threshold,
			"flush scheduled",
		)
		return c.id, true, nil
	}
	return model.StreamID{}, false, nil
}

// SetClosing drops size thresholds to zero so remaining data drains.
func (s *Scheduler) SetClosing(closing bool) {
	var v int32
	if closing {
		v = 1
	}
	atomic.StoreInt32(&s.closing, v)
}

func (s *Scheduler) IsClosing() bool {
	return atomic.LoadInt32(&s.closing) == 1
}

// LastFlush returns the time the stream's timer was last seeded or reset.
func (s *Scheduler) LastFlush(id model.StreamID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastFlush[id]
	return t, ok
}

// Tracked is the number of streams with a timer.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastFlush)
}

// candidates returns the non-empty streams ordered by queued bytes, largest
// first, then by stream id.
func (s *Scheduler) candidates() ([]candidate, error) {
	ids, err := s.store.BufferedStreams()
	if err != nil {
		return nil, err
	}
	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		queued, ok, err := s.store.QueuedBytes(id)
		if err != nil {
			return nil, err
		}
		if !ok || queued <= 0 {
			continue
		}
		candidates = append(candidates, candidate{id: id, queued: queued})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].queued != candidates[j].queued {
			return candidates[i].queued > candidates[j].queued
		}
		return candidates[i].id.Less(candidates[j].id)
	})
	return candidates, nil
}

// observe seeds the timer of every stream seen for the first time and expires
// the timers of streams that have been empty for a full interval.
func (s *Scheduler) observe(candidates []candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(candidates) == 0 && len(s.lastFlush) == 0 {
		return
	}
	now := s.clock.Now()
	present := make(map[model.StreamID]struct{}, len(candidates))
	for _, c := range candidates {
		present[c.id] = struct{}{}
		delete(s.idle, c.id)
		if _, ok := s.lastFlush[c.id]; !ok {
			s.lastFlush[c.id] = now
		}
	}
	for id := range s.lastFlush {
		if _, ok := present[id]; ok {
			continue
		}
		since, ok := s.idle[id]
		if !ok {
			s.idle[id] = now
			continue
		}
		if now.Sub(since) >= s.interval {
			s.forget(id)
		}
	}
}

func (s *Scheduler) forget(id model.StreamID) {
	delete(s.lastFlush, id)
	delete(s.idle, id)
	logger.Trace("stream", id.String(), "flush timer expired")
}

// fire reports whether the time trigger is due and resets the timer if so.
func (s *Scheduler) fire(id model.StreamID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	last, ok := s.lastFlush[id]
	if !ok {
		s.lastFlush[id] = now
		return false
	}
	if now.Sub(last) < s.interval {
		return false
	}
	s.lastFlush[id] = now
	return true
}

func (s *Scheduler) threshold(rank int, optimal int64) int64 {
	if s.IsClosing() || s.underPressure() {
		return 0
	}
	t := s.policy(rank, optimal)
	if t < 0 {
		return 0
	}
	return t
}

func (s *Scheduler) underPressure() bool {
	if s.eagerRatio <= 0 {
		return false
	}
	mr, ok := s.store.(MemoryReporter)
	if !ok {
		return false
	}
	max := mr.MaxQueuedBytes()
	if max <= 0 {
		return false
	}
	return float64(mr.TotalQueuedBytes())/float64(max) >= s.eagerRatio
}

// estimateInFlight sums the known in-flight sizes and assumes a worker with an
// unknown size is draining min(optimal, queued) bytes.
func estimateInFlight(sizes []BatchSize, optimal, queued int64) int64 {
	var total int64
	unknown := optimal
	if queued < unknown {
		unknown = queued
	}
	for _, size := range sizes {
		if size.Known {
			total += size.Bytes
		} else {
			total += unknown
		}
	}
	return total
}
