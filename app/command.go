package app

import (
	"errors"
	"time"

	"github.com/mailru/easyjson/jwriter"
	"github.com/moontrade/flushd/buffer"
	"github.com/moontrade/flushd/model"
	"github.com/tidwall/match"
	"github.com/tidwall/redcon"
)

var commands = map[string]command{
	"append":  cmdAPPEND,
	"ingest":  cmdINGEST,
	"streams": cmdSTREAMS,
	"queued":  cmdQUEUED,
	"stats":   cmdSTATS,
	"drain":   cmdDRAIN,
}

// APPEND namespace stream data
func cmdAPPEND(s *service, args []string) (interface{}, error) {
	if len(args) != 4 {
		return nil, errWrongNumArgsFor(args[0])
	}
	if args[2] == "" {
		return nil, buffer.ErrMissingStream
	}
	rec := model.Record{
		Stream:    model.NewStreamID(args[1], args[2]),
		EmittedAt: s.clock.Now(),
		Data:      []byte(args[3]),
	}
	if err := s.append(rec); err != nil {
		return nil, err
	}
	queued, _, err := s.store.QueuedBytes(rec.Stream)
	if err != nil {
		return nil, err
	}
	return queued, nil
}

// INGEST json [json ...]
//
// Each argument is a message envelope. Non record messages are skipped. The
// reply is the number of records buffered.
func cmdINGEST(s *service, args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, errWrongNumArgsFor(args[0])
	}
	var n int64
	for _, line := range args[1:] {
		rec, err := buffer.ParseRecord(s.namespace, []byte(line))
		if err != nil {
			if errors.Is(err, buffer.ErrNotRecord) {
				continue
			}
			return nil, err
		}
		if rec.EmittedAt.IsZero() {
			rec.EmittedAt = s.clock.Now()
		}
		if err = s.append(rec); err != nil {
			return nil, err
		}
		n++
	}
	return n, nil
}

func (s *service) append(rec model.Record) error {
	if s.sched.IsClosing() {
		return ErrDraining
	}
	if err := s.store.Append(rec); err != nil {
		return err
	}
	s.pool.Wake()
	return nil
}

// STREAMS [pattern]
func cmdSTREAMS(s *service, args []string) (interface{}, error) {
	pattern := "*"
	switch len(args) {
	case 1:
	case 2:
		pattern = args[1]
	default:
		return nil, errWrongNumArgsFor(args[0])
	}
	ids, err := s.store.BufferedStreams()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if match.Match(id.String(), pattern) {
			out = append(out, id.String())
		}
	}
	return out, nil
}

// QUEUED namespace stream
func cmdQUEUED(s *service, args []string) (interface{}, error) {
	if len(args) != 3 {
		return nil, errWrongNumArgsFor(args[0])
	}
	queued, ok, err := s.store.QueuedBytes(model.NewStreamID(args[1], args[2]))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return queued, nil
}

// STATS
func cmdSTATS(s *service, args []string) (interface{}, error) {
	if len(args) != 1 {
		return nil, errWrongNumArgsFor(args[0])
	}
	return s.statsJSON()
}

// DRAIN
//
// Switches the scheduler to closing mode. Buffered data is flushed regardless
// of size and new records are rejected.
func cmdDRAIN(s *service, args []string) (interface{}, error) {
	if len(args) != 1 {
		return nil, errWrongNumArgsFor(args[0])
	}
	s.sched.SetClosing(true)
	s.pool.Wake()
	return redcon.SimpleString("OK"), nil
}

func (s *service) statsJSON() ([]byte, error) {
	var (
		st    = s.store.Stats()
		ps    = s.pool.Stats()
		w     jwriter.Writer
		comma bool
	)
	w.RawString(`{"uptime":`)
	w.Float64(time.Since(s.started).Seconds())
	w.RawString(`,"closing":`)
	w.Bool(s.sched.IsClosing())
	w.RawString(`,"buffer":{"total_bytes":`)
	w.Int64(st.TotalBytes)
	w.RawString(`,"max_bytes":`)
	w.Int64(st.MaxBytes)
	w.RawString(`},"workers":{"size":`)
	w.Int(ps.Workers)
	w.RawString(`,"busy":`)
	w.Int(ps.Busy)
	w.RawString(`,"running":`)
	w.Int(s.registry.Running())
	w.RawString(`},"flushed":{"batches":`)
	w.Uint64(ps.Batches)
	w.RawString(`,"records":`)
	w.Uint64(ps.Records)
	w.RawString(`,"bytes":`)
	w.Uint64(ps.Bytes)
	w.RawString(`,"failures":`)
	w.Uint64(ps.Failures)
	w.RawString(`},"streams":[`)
	for _, ss := range st.Streams {
		if comma {
			w.RawByte(',')
		}
		comma = true
		w.RawString(`{"stream":`)
		w.String(ss.Stream.String())
		w.RawString(`,"records":`)
		w.Int(ss.Records)
		w.RawString(`,"bytes":`)
		w.Int64(ss.Bytes)
		w.RawString(`,"seq":`)
		w.Uint64(ss.Seq)
		if !ss.Oldest.IsZero() {
			w.RawString(`,"oldest":`)
			w.String(ss.Oldest.UTC().Format(time.RFC3339Nano))
		}
		if last, ok := s.sched.LastFlush(ss.Stream); ok {
			w.RawString(`,"last_flush":`)
			w.String(last.UTC().Format(time.RFC3339Nano))
		}
		w.RawByte('}')
	}
	w.RawString(`]}`)
	return w.BuildBytes()
}
