package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/model"
	"github.com/moontrade/flushd/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type testServer struct {
	app     *App
	addr    string
	cancel  context.CancelFunc
	done    chan error
	stopped bool
}

func startServer(t *testing.T, conf Config) *testServer {
	t.Helper()
	conf.Sink = sink.KindMemory
	conf.LocalTime = true
	if conf.PollInterval == 0 {
		conf.PollInterval = 2 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, conf)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts := &testServer{app: a, addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() {
		ts.done <- a.Serve(ctx, ln)
	}()
	t.Cleanup(func() { ts.stop(t) })
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	if ts.stopped {
		return
	}
	ts.stopped = true
	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func (ts *testServer) dial(t *testing.T) redis.Conn {
	t.Helper()
	conn, err := redis.Dial("tcp", ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func assertErrContains(t *testing.T, err error, s string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), s)
	}
}

func (ts *testServer) memory() *sink.Memory {
	return ts.app.Sink().(*sink.Memory)
}

func TestServerBasics(t *testing.T) {
	ts := startServer(t, Config{})
	conn := ts.dial(t)

	pong, err := redis.String(conn.Do("PING"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	echo, err := redis.String(conn.Do("ECHO", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", echo)

	_, err = conn.Do("ECHO")
	assertErrContains(t, err, "wrong number of arguments for 'echo' command")

	_, err = conn.Do("BOGUS")
	assertErrContains(t, err, "unknown command 'bogus'")

	ok, err := redis.String(conn.Do("QUIT"))
	require.NoError(t, err)
	assert.Equal(t, "OK", ok)
}

func TestServerAuth(t *testing.T) {
	ts := startServer(t, Config{Auth: "secret"})
	conn := ts.dial(t)

	_, err := conn.Do("PING")
	assertErrContains(t, err, "unauthorized")

	_, err = conn.Do("AUTH", "wrong")
	assertErrContains(t, err, "unauthorized")

	ok, err := redis.String(conn.Do("AUTH", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "OK", ok)

	pong, err := redis.String(conn.Do("PING"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)
}

func TestServerAppendAndFlush(t *testing.T) {
	// keep everything buffered until DRAIN
	ts := startServer(t, Config{Policy: flush.FixedThreshold(1 << 30), BatchSize: 1024})
	conn := ts.dial(t)

	n, err := redis.Int64(conn.Do("APPEND", "public", "users", `{"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	n, err = redis.Int64(conn.Do("APPEND", "public", "users", `{"id":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	n, err = redis.Int64(conn.Do("INGEST",
		`{"type":"RECORD","record":{"namespace":"public","stream":"orders","emitted_at":1700000000000,"data":{"total":3}}}`,
		`{"type":"STATE","state":{}}`,
		`{"type":"RECORD","record":{"stream":"events","data":{"kind":"click"}}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = conn.Do("INGEST", `{"type":"RECORD"`)
	assert.Error(t, err)

	streams, err := redis.Strings(conn.Do("STREAMS"))
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "public.orders", "public.users"}, streams)

	streams, err = redis.Strings(conn.Do("STREAMS", "public.*"))
	require.NoError(t, err)
	assert.Equal(t, []string{"public.orders", "public.users"}, streams)

	n, err = redis.Int64(conn.Do("QUEUED", "public", "users"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	_, err = redis.Int64(conn.Do("QUEUED", "public", "missing"))
	assert.Equal(t, redis.ErrNil, err)

	stats, err := redis.Bytes(conn.Do("STATS"))
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(stats), string(stats))
	assert.Equal(t, int64(16+11+16), gjson.GetBytes(stats, "buffer.total_bytes").Int())
	assert.Equal(t, int64(3), gjson.GetBytes(stats, "streams.#").Int())
	assert.Equal(t, "events", gjson.GetBytes(stats, "streams.0.stream").String())
	assert.False(t, gjson.GetBytes(stats, "closing").Bool())

	ok, err := redis.String(conn.Do("DRAIN"))
	require.NoError(t, err)
	assert.Equal(t, "OK", ok)

	require.Eventually(t, func() bool {
		return ts.app.store.Empty() && ts.app.registry.Running() == 0
	}, 5*time.Second, 5*time.Millisecond)

	users := ts.memory().Batches(model.NewStreamID("public", "users"))
	require.Len(t, users, 1)
	assert.Equal(t, 2, users[0].Len())
	assert.Equal(t, `{"id":2}`, string(users[0].Records[1].Data))

	orders := ts.memory().Batches(model.NewStreamID("public", "orders"))
	require.Len(t, orders, 1)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), orders[0].Records[0].EmittedAt)

	_, err = conn.Do("APPEND", "public", "users", "late")
	assertErrContains(t, err, "draining")

	stats, err = redis.Bytes(conn.Do("STATS"))
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(stats, "closing").Bool())
	assert.Equal(t, int64(4), gjson.GetBytes(stats, "flushed.records").Int())
}

func TestServerRejectsRecords(t *testing.T) {
	ts := startServer(t, Config{BatchSize: 8, BufferSize: 8})
	conn := ts.dial(t)

	_, err := conn.Do("APPEND", "", "s", "123456789")
	assertErrContains(t, err, "record too big")
	_, err = conn.Do("APPEND", "", "s", "")
	assertErrContains(t, err, "empty record")
}

func TestServerShutdownDrains(t *testing.T) {
	ts := startServer(t, Config{Policy: flush.FixedThreshold(1 << 30)})
	conn := ts.dial(t)
	for i := 0; i < 10; i++ {
		_, err := conn.Do("APPEND", "ns", "s", "record")
		require.NoError(t, err)
	}
	ts.stop(t)

	batches := ts.memory().Batches(model.StreamID{})
	total := 0
	for _, b := range batches {
		total += b.Len()
	}
	assert.Equal(t, 10, total)
}

func TestServerMetrics(t *testing.T) {
	ts := startServer(t, Config{MetricsAddr: "127.0.0.1:0", Policy: flush.FixedThreshold(1 << 30)})
	conn := ts.dial(t)
	_, err := conn.Do("APPEND", "ns", "s", "record")
	require.NoError(t, err)

	resp, err := http.Get("http://" + ts.app.maddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "flushd_buffer_queued_bytes 6")
	assert.Contains(t, string(body), "flushd_workers_running 0")
}
