package workers

import (
	"sync"
	"time"

	"github.com/moontrade/flushd/model"
)

// FlushEvent describes one finished flush.
type FlushEvent struct {
	Stream  model.StreamID
	Seq     uint64
	Records int
	Bytes   int64
	Elapsed time.Duration
	Err     error
}

// An Observer holds a channel that delivers an event for every finished flush.
type Observer interface {
	Stop()
	C() <-chan FlushEvent
}

type observer struct {
	mon *Monitor
	c   chan FlushEvent
}

func (o *observer) C() <-chan FlushEvent {
	return o.c
}

func (o *observer) Stop() {
	o.mon.mu.Lock()
	defer o.mon.mu.Unlock()
	if _, ok := o.mon.obs[o]; ok {
		delete(o.mon.obs, o)
		close(o.c)
	}
}

// Monitor fans flush events out to observers. Events for an observer whose
// channel is full are dropped.
type Monitor struct {
	mu  sync.Mutex
	obs map[*observer]struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{obs: make(map[*observer]struct{})}
}

func (m *Monitor) Send(ev FlushEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for o := range m.obs {
		select {
		case o.c <- ev:
		default:
		}
	}
}

func (m *Monitor) NewObserver() Observer {
	o := &observer{mon: m, c: make(chan FlushEvent, 64)}
	m.mu.Lock()
	m.obs[o] = struct{}{}
	m.mu.Unlock()
	return o
}
