package sclone

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkivell/mozcarve/pkg/carve"
)

func pair(tag, data uint32) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(tag)<<32|uint64(data))
}

func padded(b []byte) []byte {
	for len(b)%8 != 0 {
		b = append(b, 0)
	}
	return b
}

func latin1String(s string) []byte {
	out := pair(TagString, uint32(len(s))|latin1Flag)
	return append(out, padded([]byte(s))...)
}

func TestScan_PrimitiveValues(t *testing.T) {
	var stream []byte
	stream = append(stream, pair(TagHeader, 1)...)
	stream = append(stream, pair(TagInt32, 0xFFFFFFD6)...) // -42
	stream = append(stream, pair(TagBoolean, 1)...)
	stream = append(stream, latin1String("hello")...)

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, TagHeader, items[0].Pair.Tag)
	assert.Equal(t, int32(-42), items[1].Int32())
	assert.True(t, items[2].Bool())

	s, err := items[3].String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 24, items[3].Offset)
}

func TestScan_UTF16String(t *testing.T) {
	payload := []byte{'h', 0, 'i', 0, 0x3a, 0x26} // "hi☺" in UTF-16LE
	stream := pair(TagString, 3)
	stream = append(stream, padded(payload)...)

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 1)
	s, err := items[0].String()
	require.NoError(t, err)
	assert.Equal(t, "hi☺", s)
}

func TestScan_DateObject(t *testing.T) {
	ms := float64(1700000000000) // 2023-11-14T22:13:20Z
	stream := pair(TagDateObject, 0)
	stream = append(stream, binary.LittleEndian.AppendUint64(nil, math.Float64bits(ms))...)

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 1)

	when, err := items[0].Date()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), when)
}

func TestScan_NumberObject(t *testing.T) {
	// A wrapped number carries its double inline, so the stream is one
	// item, not a pair followed by a free-standing raw double.
	stream := pair(TagNumberObject, 0)
	stream = append(stream, binary.LittleEndian.AppendUint64(nil, math.Float64bits(2.5))...)

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].Payload, 8)

	v, err := items[0].Number()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestScan_ArrayBufferObjectUnsized(t *testing.T) {
	// The current array buffer tag stores its length as a trailing
	// uint64, not in the data word, so the walker cannot size it and
	// must stop rather than guess at alignment.
	stream := pair(TagArrayBufferObject, 4)
	stream = append(stream, []byte{1, 2, 3, 4, 0, 0, 0, 0}...)

	items, err := Scan(stream)
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestScan_ArrayBufferObjectV2(t *testing.T) {
	stream := pair(TagArrayBufferObjectV2, 3)
	stream = append(stream, padded([]byte{0xAA, 0xBB, 0xCC})...)

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, items[0].Payload)
}

func TestScan_RawDouble(t *testing.T) {
	stream := binary.LittleEndian.AppendUint64(nil, math.Float64bits(3.5))

	items, err := Scan(stream)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Pair.IsDouble())
	assert.Equal(t, 3.5, items[0].Pair.Float64())
}

func TestScan_UnknownTagStops(t *testing.T) {
	stream := pair(TagInt32, 7)
	stream = append(stream, pair(0xFFFA1234, 0)...)

	items, err := Scan(stream)
	assert.Error(t, err)
	assert.Len(t, items, 1)
}

func TestFormat_CarveObjectRecord(t *testing.T) {
	var rec []byte
	rec = append(rec, pair(TagHeader, 2)...)
	rec = append(rec, pair(TagObjectObject, 0)...)
	rec = append(rec, latin1String("key")...)
	rec = append(rec, pair(TagInt32, 99)...)
	rec = append(rec, pair(TagEndOfKeys, 0)...)

	noise := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03}
	stream := append(append(append([]byte{}, noise...), rec...), noise...)

	records := carve.New(Format{}, carve.Options{}).Carve(stream)
	require.Len(t, records, 3)

	assert.Equal(t, carve.Skipped, records[0].Validity)
	got := records[1]
	assert.Equal(t, carve.Valid, got.Validity)
	assert.Equal(t, uint32(2), got.Kind, "scope word from the header")
	assert.Equal(t, len(noise), got.Offset)
	assert.Equal(t, rec, got.Payload)
	assert.Equal(t, carve.Skipped, records[2].Validity)
}

func TestFormat_TruncatedRecord(t *testing.T) {
	var rec []byte
	rec = append(rec, pair(TagHeader, 1)...)
	rec = append(rec, pair(TagObjectObject, 0)...)
	rec = append(rec, latin1String("orphaned key")...)
	// No value, no end-of-keys: the file was cut mid-write.

	records := carve.New(Format{}, carve.Options{}).Carve(rec)
	require.Len(t, records, 1)
	assert.Equal(t, carve.Truncated, records[0].Validity)
	assert.Equal(t, len(rec), records[0].Length)
}

func TestFormat_BackToBackRecords(t *testing.T) {
	one := append(pair(TagHeader, 1), pair(TagInt32, 1)...)
	two := append(pair(TagHeader, 1), latin1String("second")...)
	stream := append(append([]byte{}, one...), two...)

	records := carve.New(Format{}, carve.Options{}).Carve(stream)
	require.Len(t, records, 2)
	assert.Equal(t, carve.Valid, records[0].Validity)
	assert.Equal(t, carve.Valid, records[1].Validity)
	assert.Equal(t, len(one), records[1].Offset)
}

func TestFormat_EmptyStream(t *testing.T) {
	assert.Empty(t, carve.New(Format{}, carve.Options{}).Carve(nil))
}
