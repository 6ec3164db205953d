package sink

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moontrade/flushd/codec"
	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"
)

var (
	_ flush.BatchSizer = (Sink)(nil)
	_ Sink             = (*Memory)(nil)
	_ Sink             = (*MDBX)(nil)
	_ Sink             = (*Redis)(nil)

	users  = model.NewStreamID("public", "users")
	orders = model.NewStreamID("public", "orders")
)

func makeBatch(id model.StreamID, seq uint64, count int) model.Batch {
	b := model.Batch{Stream: id, Seq: seq}
	for i := 0; i < count; i++ {
		b.Append(model.Record{
			Stream:    id,
			EmittedAt: time.Unix(1700000000, int64(i)).UTC(),
			Data:      []byte(fmt.Sprintf(`{"id":%d,"name":"%s"}`, i, strings.Repeat("x", i%7))),
		})
	}
	return b
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("MDBX")
	require.NoError(t, err)
	assert.Equal(t, KindMDBX, k)
	_, err = ParseKind("kafka")
	assert.ErrorIs(t, err, ErrUnknownSink)

	_, err = Open(Config{Kind: "kafka"})
	assert.ErrorIs(t, err, ErrUnknownSink)
}

func TestMemory(t *testing.T) {
	s, err := Open(Config{BatchSize: 512})
	require.NoError(t, err)
	m := s.(*Memory)
	assert.Equal(t, int64(512), m.OptimalBatchSizeBytes())

	ctx := context.Background()
	require.NoError(t, m.Write(ctx, makeBatch(users, 1, 2)))
	require.NoError(t, m.Write(ctx, makeBatch(orders, 1, 3)))
	assert.Len(t, m.Batches(model.StreamID{}), 2)
	assert.Len(t, m.Batches(orders), 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, m.Write(cancelled, makeBatch(users, 2, 1)), context.Canceled)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Write(ctx, makeBatch(users, 2, 1)), ErrClosed)
}

func TestMDBX(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenMDBX(dir, 0, codec.LZ4)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultBatchSize), s.OptimalBatchSizeBytes())

	ctx := context.Background()
	// out of order on purpose, keys sort by sequence
	require.NoError(t, s.Write(ctx, makeBatch(users, 2, 5)))
	require.NoError(t, s.Write(ctx, makeBatch(users, 1, 3)))
	require.NoError(t, s.Write(ctx, makeBatch(orders, 1, 4)))
	require.NoError(t, s.Sync())

	batches, err := s.Batches(users)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, uint64(1), batches[0].Seq)
	assert.Equal(t, makeBatch(users, 1, 3).Records, batches[0].Records)
	assert.Equal(t, uint64(2), batches[1].Seq)
	assert.Equal(t, 5, batches[1].Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write(ctx, makeBatch(users, 3, 1)), ErrClosed)

	// reopen and read back
	s, err = OpenMDBX(dir, 0, codec.None)
	require.NoError(t, err)
	defer s.Close()
	batches, err = s.Batches(orders)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 4, batches[0].Len())
}

// fakeRedis is a tiny in-process server for the commands the Redis sink uses.
type fakeRedis struct {
	mu     sync.Mutex
	auth   string
	lists  map[string][][]byte
	hashes map[string]map[string]string
}

func startFakeRedis(t *testing.T, auth string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeRedis{
		auth:   auth,
		lists:  make(map[string][][]byte),
		hashes: make(map[string]map[string]string),
	}
	go func() {
		_ = redcon.Serve(ln, f.handle,
			func(conn redcon.Conn) bool { return true },
			func(conn redcon.Conn, err error) {})
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func (f *fakeRedis) handle(conn redcon.Conn, cmd redcon.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := cmd.Args
	switch strings.ToUpper(string(args[0])) {
	case "AUTH":
		if string(args[1]) != f.auth {
			conn.WriteError("ERR invalid password")
			return
		}
		conn.WriteString("OK")
	case "RPUSH":
		key := string(args[1])
		f.lists[key] = append(f.lists[key], append([]byte(nil), args[2]...))
		conn.WriteInt(len(f.lists[key]))
	case "LRANGE":
		items := f.lists[string(args[1])]
		conn.WriteArray(len(items))
		for _, item := range items {
			conn.WriteBulk(item)
		}
	case "HSET":
		h := f.hashes[string(args[1])]
		if h == nil {
			h = make(map[string]string)
			f.hashes[string(args[1])] = h
		}
		h[string(args[2])] = string(args[3])
		conn.WriteInt(1)
	case "HGET":
		v, ok := f.hashes[string(args[1])][string(args[2])]
		if !ok {
			conn.WriteNull()
			return
		}
		conn.WriteBulkString(v)
	default:
		conn.WriteError("ERR unknown command '" + string(args[0]) + "'")
	}
}

func TestRedis(t *testing.T) {
	addr := startFakeRedis(t, "secret")
	s, err := Open(Config{Kind: KindRedis, Addr: addr, Auth: "secret", Compression: codec.Snappy, BatchSize: 1024})
	require.NoError(t, err)
	r := s.(*Redis)
	defer r.Close()

	ctx := context.Background()
	_, ok, err := r.LastSeq(ctx, users)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Write(ctx, makeBatch(users, 1, 10)))
	require.NoError(t, r.Write(ctx, makeBatch(users, 2, 1)))

	batches, err := r.Batches(ctx, users)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, makeBatch(users, 1, 10).Records, batches[0].Records)
	assert.Equal(t, uint64(2), batches[1].Seq)

	seq, ok, err := r.LastSeq(ctx, users)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), seq)
}

func TestRedisBadAuth(t *testing.T) {
	addr := startFakeRedis(t, "secret")
	r := DialRedis(addr, "wrong", "", 0, codec.None)
	defer r.Close()
	assert.Error(t, r.Write(context.Background(), makeBatch(users, 1, 1)))
}
