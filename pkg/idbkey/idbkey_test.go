package idbkey

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encFloat applies the forward order-preserving encoding: flip the sign
// bit, big-endian, trim trailing zero bytes.
func encFloat(f float64) []byte {
	bits := math.Float64bits(f)
	var b [8]byte
	if f >= 0 {
		binary.BigEndian.PutUint64(b[:], bits|0x8000000000000000)
	} else {
		binary.BigEndian.PutUint64(b[:], math.Float64bits(-f))
	}
	out := b[:]
	for len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	return out
}

// encFloatFull is the untrimmed form: floats that are not the last
// bytes of the key keep all eight bytes.
func encFloatFull(f float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f)|0x8000000000000000)
	return b[:]
}

func TestDecode_Float(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want float64
	}{
		{"positive", append([]byte{TokenFloat}, encFloat(3.5)...), 3.5},
		{"negative", append([]byte{TokenFloat}, encFloat(-3.5)...), -3.5},
		{"zero", append([]byte{TokenFloat}, encFloat(0)...), 0},
		{"all trailing bytes trimmed", []byte{TokenFloat}, 0},
		{"integer", append([]byte{TokenFloat}, encFloat(42)...), 42},
		{"fractional", append([]byte{TokenFloat}, encFloat(0.125)...), 0.125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Decode(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, KindFloat, key.Kind)
			assert.Equal(t, tt.want, key.Float)
		})
	}
}

func TestDecode_FloatEncodingBytes(t *testing.T) {
	// 3.5 is 0x400C000000000000; with the sign bit set and trailing
	// zeros trimmed the stored form is exactly two bytes.
	assert.Equal(t, []byte{0xC0, 0x0C}, encFloat(3.5))
	key, err := Decode([]byte{TokenFloat, 0xC0, 0x0C})
	require.NoError(t, err)
	assert.Equal(t, 3.5, key.Float)
}

func TestDecode_Date(t *testing.T) {
	blob := append([]byte{TokenDate}, encFloat(1700000000000)...)
	key, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, KindDate, key.Kind)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), key.Time)
}

func TestDecode_DateFractionalMillis(t *testing.T) {
	blob := append([]byte{TokenDate}, encFloat(1000.25)...)
	key, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1000).Add(250*time.Microsecond).UTC(), key.Time)
}

func TestDecode_String(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want string
	}{
		{"ascii", []byte{TokenString, 'H' + 1, 'i' + 1, 0x00}, "Hi"},
		{"ascii no terminator", []byte{TokenString, 'H' + 1, 'i' + 1}, "Hi"},
		{"empty", []byte{TokenString, 0x00}, ""},
		// U+20AC stored as two bytes with a 0x7f offset.
		{"two-byte unit", []byte{TokenString, 0xA1, 0x2B, 0x00}, "€"},
		// U+4E2D stored as three bytes, value shifted left six bits.
		{"three-byte unit", []byte{TokenString, 0xD3, 0x8B, 0x40, 0x00}, "中"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Decode(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, KindString, key.Kind)
			assert.Equal(t, tt.want, key.Str)
		})
	}
}

func TestDecode_Binary(t *testing.T) {
	key, err := Decode([]byte{TokenBinary, 0x02, 0x03, 0x00})
	require.NoError(t, err)
	assert.Equal(t, KindBinary, key.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, key.Bytes)
}

func TestDecode_Array(t *testing.T) {
	// The opening token folds in the first element's type, so an array
	// starting with a string opens with TokenArray+TokenString.
	blob := []byte{TokenArray + TokenString, 'a' + 1, 'b' + 1, 0x00}
	blob = append(blob, TokenFloat)
	blob = append(blob, encFloat(3.5)...)

	key, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, KindArray, key.Kind)
	require.Len(t, key.Elems, 2)
	assert.Equal(t, "ab", key.Elems[0].Str)
	assert.Equal(t, 3.5, key.Elems[1].Float)
}

func TestDecode_ArrayTerminated(t *testing.T) {
	blob := []byte{TokenArray + TokenString, 'x' + 1, 0x00, 0x00}
	key, err := Decode(blob)
	require.NoError(t, err)
	require.Len(t, key.Elems, 1)
	assert.Equal(t, "x", key.Elems[0].Str)
}

func TestDecode_NestedArray(t *testing.T) {
	// [[1.0], "z"]
	blob := []byte{TokenArray + TokenArray, TokenFloat}
	blob = append(blob, encFloatFull(1)...)
	blob = append(blob, 0x00) // close inner array
	blob = append(blob, TokenString, 'z'+1, 0x00)
	blob = append(blob, 0x00) // close outer array

	key, err := Decode(blob)
	require.NoError(t, err)
	require.Len(t, key.Elems, 2)
	assert.Equal(t, KindArray, key.Elems[0].Kind)
	require.Len(t, key.Elems[0].Elems, 1)
	assert.Equal(t, 1.0, key.Elems[0].Elems[0].Float)
	assert.Equal(t, "z", key.Elems[1].Str)
}

func TestDecode_EmptyArray(t *testing.T) {
	key, err := Decode([]byte{TokenArray})
	require.NoError(t, err)
	assert.Equal(t, KindArray, key.Kind)
	assert.Empty(t, key.Elems)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = Decode([]byte{0x00})
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = Decode([]byte{0x33})
	var tokenErr *UnknownTokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, byte(0x33), tokenErr.Token)
}

func TestKeyString(t *testing.T) {
	key, err := Decode([]byte{TokenArray + TokenString, 'a' + 1, 0x00, TokenFloat, 0xC0, 0x0C})
	require.NoError(t, err)
	assert.Equal(t, `["a", 3.5]`, key.String())
}
