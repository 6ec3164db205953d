package buffer

import (
	"errors"
	"time"

	"github.com/moontrade/flushd/model"
	"github.com/tidwall/gjson"
)

var (
	ErrNotRecord     = errors.New("not a record message")
	ErrInvalidJSON   = errors.New("invalid json")
	ErrMissingStream = errors.New("missing stream")
)

// ParseRecord reads a JSON message envelope:
//
//	{"type":"RECORD","record":{"namespace":"public","stream":"users","emitted_at":1700000000000,"data":{...}}}
//
// emitted_at is in epoch milliseconds. The raw "data" document becomes the
// record payload. Messages of any other type return ErrNotRecord.
func ParseRecord(defaultNamespace string, line []byte) (model.Record, error) {
	if !gjson.ValidBytes(line) {
		return model.Record{}, ErrInvalidJSON
	}
	msg := gjson.ParseBytes(line)
	if msg.Get("type").String() != "RECORD" {
		return model.Record{}, ErrNotRecord
	}
	rec := msg.Get("record")
	name := rec.Get("stream").String()
	if name == "" {
		return model.Record{}, ErrMissingStream
	}
	namespace := defaultNamespace
	if ns := rec.Get("namespace"); ns.Exists() && ns.String() != "" {
		namespace = ns.String()
	}
	data := rec.Get("data")
	if !data.Exists() || data.Raw == "" {
		return model.Record{}, ErrEmptyRecord
	}

	r := model.Record{
		Stream: model.NewStreamID(namespace, name),
		Data:   []byte(data.Raw),
	}
	if ts := rec.Get("emitted_at"); ts.Exists() {
		r.EmittedAt = time.Unix(0, ts.Int()*int64(time.Millisecond)).UTC()
	}
	return r, nil
}
