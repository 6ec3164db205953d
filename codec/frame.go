package codec

import (
	"encoding/binary"
	"time"

	"github.com/moontrade/flushd/model"
)

// EncodeBatch serializes a batch using the following binary format:
//   (tag, size, body)
//   - tag: compression byte
//   - size: uvarint, uncompressed body length
//   - body: (namespace, name, seq, count, record...)
//     - namespace, name: (count, byte...)
//     - seq, count: uvarint
//     - record: (emitted_at varint unix nanos, count, byte...)
func EncodeBatch(batch model.Batch, c Compression) ([]byte, error) {
	var body []byte
	body = appendBytes(body, []byte(batch.Stream.Namespace))
	body = appendBytes(body, []byte(batch.Stream.Name))
	body = appendUvarint(body, batch.Seq)
	body = appendUvarint(body, uint64(len(batch.Records)))
	for _, r := range batch.Records {
		var ts int64
		if !r.EmittedAt.IsZero() {
			ts = r.EmittedAt.UnixNano()
		}
		body = appendVarint(body, ts)
		body = appendBytes(body, r.Data)
	}

	if len(body) > MaxBatchBytes {
		return nil, ErrBatchTooLarge
	}
	out, used, err := Compress(c, body)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, 0, len(out)+11)
	dst = append(dst, byte(used))
	dst = appendUvarint(dst, uint64(len(body)))
	return append(dst, out...), nil
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(data []byte) (model.Batch, error) {
	var batch model.Batch
	if len(data) < 2 {
		return batch, ErrCorrupted
	}
	c := Compression(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 || size > MaxBatchBytes {
		return batch, ErrCorrupted
	}
	body, err := Decompress(c, data[1+n:], int(size))
	if err != nil {
		return batch, err
	}

	rd := reader{b: body}
	ns := rd.bytes()
	name := rd.bytes()
	batch.Stream = model.NewStreamID(string(ns), string(name))
	batch.Seq = rd.uvarint()
	count := rd.uvarint()
	if rd.err != nil {
		return batch, rd.err
	}
	if count > uint64(len(body)) {
		return batch, ErrCorrupted
	}
	batch.Records = make([]model.Record, 0, int(count))
	for i := uint64(0); i < count; i++ {
		ts := rd.varint()
		data := rd.bytes()
		if rd.err != nil {
			return batch, rd.err
		}
		r := model.Record{Stream: batch.Stream, Data: append([]byte(nil), data...)}
		if ts != 0 {
			r.EmittedAt = time.Unix(0, ts).UTC()
		}
		batch.Append(r)
	}
	if len(rd.b) != 0 {
		return batch, ErrCorrupted
	}
	return batch, nil
}

func appendUvarint(dst []byte, x uint64) []byte {
	var buf [10]byte
	n := binary.PutUvarint(buf[:], x)
	return append(dst, buf[:n]...)
}

func appendVarint(dst []byte, x int64) []byte {
	var buf [10]byte
	n := binary.PutVarint(buf[:], x)
	return append(dst, buf[:n]...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = appendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

type reader struct {
	b   []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.err = ErrCorrupted
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.b)
	if n <= 0 {
		r.err = ErrCorrupted
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) bytes() []byte {
	l := r.uvarint()
	if r.err != nil {
		return nil
	}
	if l > uint64(len(r.b)) {
		r.err = ErrCorrupted
		return nil
	}
	v := r.b[:l]
	r.b = r.b[l:]
	return v
}
