package app

import (
	"context"
	"sync"
	"time"

	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/logger"
	"github.com/tidwall/rtime"
)

const remoteTimeRefresh = time.Minute

// remoteTime tracks the offset between the public internet time and the local
// clock, so flush timers survive local clock jumps.
type remoteTime struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time // remote source, zero on failure
}

func (rt *remoteTime) Now() time.Time {
	rt.mu.RLock()
	offset := rt.offset
	rt.mu.RUnlock()
	return time.Now().Add(offset)
}

// sync refreshes the offset. It reports false when the remote source is
// unavailable, leaving the previous offset in place.
func (rt *remoteTime) sync() bool {
	tm := rt.now()
	if tm.IsZero() {
		return false
	}
	rt.mu.Lock()
	rt.offset = time.Until(tm)
	rt.mu.Unlock()
	return true
}

func (rt *remoteTime) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !rt.sync() {
				logger.Warn("remote time unavailable, keeping last offset")
			}
		}
	}
}

// remoteTimeInit returns the clock used for flush timers. With --localtime or
// when the remote time cannot be reached it is the local clock.
func remoteTimeInit(ctx context.Context, conf Config) flush.Clock {
	if conf.LocalTime {
		return flush.LocalClock
	}
	logger.Info("synchronizing remote time")
	rt := &remoteTime{now: rtime.Now}
	if !rt.sync() {
		logger.Warn("remote time unavailable, using local time")
		return flush.LocalClock
	}
	go rt.run(ctx, remoteTimeRefresh)
	return rt
}
