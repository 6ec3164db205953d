package model

import "time"

// Record is a single buffered message for a stream.
type Record struct {
	Stream    StreamID
	EmittedAt time.Time
	Data      []byte
}

// Size is the number of bytes accounted against buffer memory.
func (r Record) Size() int64 {
	return int64(len(r.Data))
}

// Batch is a group of records for one stream that is written to a sink in a
// single flush.
type Batch struct {
	Stream    StreamID
	Seq       uint64
	Records   []Record
	SizeBytes int64
}

func (b *Batch) Len() int {
	return len(b.Records)
}

func (b *Batch) Append(r Record) {
	b.Records = append(b.Records, r)
	b.SizeBytes += r.Size()
}
