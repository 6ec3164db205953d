package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/moontrade/flushd/buffer"
	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/logger"
	"github.com/moontrade/flushd/sink"
	"github.com/moontrade/flushd/workers"
)

// DrainTimeout bounds how long shutdown waits for buffered data to flush.
var DrainTimeout = 30 * time.Second

// Main entrypoint for the daemon. It parses flags, serves clients until
// SIGINT or SIGTERM, then drains the buffer into the sink.
func Main(conf Config) error {
	confInit(&conf)
	logInit(conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tlscfg, err := tlsInit(conf)
	if err != nil {
		logger.Fatal(err, "tls")
	}
	a, err := New(ctx, conf)
	if err != nil {
		logger.Fatal(err, "sink", string(conf.Sink), "startup failed")
	}
	ln, err := serverInit(conf, tlscfg)
	if err != nil {
		a.Close()
		logger.Fatal(err, "addr", conf.Addr, "listen failed")
	}
	return a.Serve(ctx, ln)
}

// App wires the buffer, scheduler, worker pool and sink behind the client
// service.
type App struct {
	conf     Config
	store    *buffer.Store
	registry *workers.Registry
	sched    *flush.Scheduler
	pool     *workers.Pool
	sink     sink.Sink
	svc      *service
	metrics  *http.Server
	maddr    string

	cancel  context.CancelFunc
	done    chan error
	closeMu sync.Once
}

// New opens the sink and starts the flush pool. Defaults are applied to conf
// but flags are not parsed.
func New(ctx context.Context, conf Config) (*App, error) {
	conf.def()
	snk, err := sink.Open(sink.Config{
		Kind:        conf.Sink,
		BatchSize:   conf.BatchSize,
		Compression: conf.Compression,
		Path:        conf.DataDir,
		Addr:        conf.RedisAddr,
		Auth:        conf.RedisAuth,
		Prefix:      conf.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}

	a := &App{conf: conf, sink: snk, done: make(chan error, 1)}
	clock := remoteTimeInit(ctx, conf)
	maxBytes := conf.BufferSize
	if maxBytes < 0 {
		maxBytes = 0
	}
	a.store = buffer.New(maxBytes)
	a.registry = workers.NewRegistry()
	opts := []flush.Option{
		flush.WithClock(clock),
		flush.WithInterval(conf.Interval),
		flush.WithEagerFlushRatio(conf.EagerRatio),
	}
	if conf.Policy != nil {
		opts = append(opts, flush.WithPolicy(conf.Policy))
	}
	a.sched = flush.New(a.store, a.registry, snk, opts...)
	a.pool = workers.NewPool(a.sched, a.store, a.registry, snk, workers.Options{
		Workers:      conf.Workers,
		PollInterval: conf.PollInterval,
	})
	a.svc = &service{
		auth:      conf.Auth,
		namespace: conf.Namespace,
		clock:     clock,
		store:     a.store,
		registry:  a.registry,
		sched:     a.sched,
		pool:      a.pool,
		sink:      snk,
		started:   time.Now(),
		cmds:      commands,
	}

	if conf.MetricsAddr != "" {
		ln, err := net.Listen("tcp", conf.MetricsAddr)
		if err != nil {
			_ = snk.Close()
			return nil, err
		}
		a.maddr = ln.Addr().String()
		a.metrics = a.metricsInit(ln)
	}

	var poolCtx context.Context
	poolCtx, a.cancel = context.WithCancel(context.Background())
	go func() {
		a.done <- a.pool.Run(poolCtx)
	}()
	logger.Info(
		"sink", string(conf.Sink),
		"workers", conf.Workers,
		"batch_size", conf.BatchSize,
		"buffer", maxBytes,
		"interval", conf.Interval.String(),
		"flush pool started",
	)
	return a, nil
}

// Serve handles clients on ln until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		errc <- redisServiceHandler(a.svc, ln)
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		<-errc
		return a.Close()
	case err := <-errc:
		cerr := a.Close()
		if err != nil {
			return err
		}
		return cerr
	}
}

// Close rejects new records, drains the buffer into the sink and stops the
// pool.
func (a *App) Close() error {
	var err error
	a.closeMu.Do(func() {
		a.store.Close()
		ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
		defer cancel()
		if derr := a.pool.Drain(ctx); derr != nil {
			logger.WarnErr(derr, "queued", a.store.TotalQueuedBytes(), "drain incomplete")
			err = derr
		}
		a.cancel()
		if rerr := <-a.done; rerr != nil && !errors.Is(rerr, context.Canceled) {
			logger.Error(rerr, "flush pool")
		}
		shutdownMetrics(a.metrics)
		if serr := a.sink.Close(); serr != nil && err == nil {
			err = serr
		}
		st := a.pool.Stats()
		logger.Info(
			"batches", st.Batches,
			"records", st.Records,
			"bytes", st.Bytes,
			"failures", st.Failures,
			"stopped",
		)
	})
	return err
}

func (a *App) Sink() sink.Sink {
	return a.sink
}
