package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/moontrade/flushd/logger"
	"github.com/moontrade/flushd/metrics"
)

// metricsInit registers the live gauges and serves /metrics on ln.
func (a *App) metricsInit(ln net.Listener) *http.Server {
	metrics.Register(
		metrics.GaugeFunc("buffer_queued_bytes", "Bytes currently buffered across all streams.",
			func() float64 { return float64(a.store.TotalQueuedBytes()) }),
		metrics.GaugeFunc("buffer_max_bytes", "Buffer capacity in bytes, 0 for no limit.",
			func() float64 { return float64(a.store.MaxQueuedBytes()) }),
		metrics.GaugeFunc("workers_running", "Flush workers currently writing a batch.",
			func() float64 { return float64(a.registry.Running()) }),
		metrics.GaugeFunc("scheduler_tracked_streams", "Streams with a flush timer.",
			func() float64 { return float64(a.sched.Tracked()) }),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "addr", ln.Addr().String(), "metrics server")
		}
	}()
	logger.Info("addr", ln.Addr().String(), "metrics listening")
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
