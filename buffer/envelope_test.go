package buffer

import (
	"testing"
	"time"

	"github.com/moontrade/flushd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	line := `{"type":"RECORD","record":{"namespace":"public","stream":"users","emitted_at":1700000000000,"data":{"id":1,"name":"ada"}}}`
	rec, err := ParseRecord("", []byte(line))
	require.NoError(t, err)
	assert.Equal(t, model.NewStreamID("public", "users"), rec.Stream)
	assert.Equal(t, `{"id":1,"name":"ada"}`, string(rec.Data))
	assert.True(t, rec.EmittedAt.Equal(time.UnixMilli(1700000000000)))
}

func TestParseRecordDefaultNamespace(t *testing.T) {
	rec, err := ParseRecord("staging", []byte(`{"type":"RECORD","record":{"stream":"users","data":{"id":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, model.NewStreamID("staging", "users"), rec.Stream)
	assert.True(t, rec.EmittedAt.IsZero())
}

func TestParseRecordErrors(t *testing.T) {
	for line, want := range map[string]error{
		`{"type":"STATE","state":{}}`:                   ErrNotRecord,
		`{"type":"RECORD","record":{"data":{}}}`:        ErrMissingStream,
		`{"type":"RECORD","record":{"stream":"users"}}`: ErrEmptyRecord,
		`{"type":"RECORD",`:                             ErrInvalidJSON,
	} {
		_, err := ParseRecord("", []byte(line))
		assert.ErrorIs(t, err, want, line)
	}
}
