// Package idbkey decodes IndexedDB key blobs. Keys are serialized as a
// self-describing token stream designed so the raw bytes memcmp-sort in
// key order: floats carry a flipped sign bit, strings pack each code
// point shifted by one so NUL can terminate them, and trailing zero
// bytes are trimmed from the encoding.
package idbkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nkivell/mozcarve/pkg/cursor"
)

// Token values marking each key type in the stream. An array token also
// encodes its first element's type: TokenArray+TokenString opens an
// array whose first element is a string.
const (
	tokenTerminator byte = 0x00
	TokenFloat      byte = 0x10
	TokenDate       byte = 0x20
	TokenString     byte = 0x30
	TokenBinary     byte = 0x40
	TokenArray      byte = 0x50
)

// Kind is the decoded type of a key.
type Kind uint8

const (
	KindFloat Kind = iota
	KindDate
	KindString
	KindBinary
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ErrEmptyKey is returned when the blob holds no tokens at all.
var ErrEmptyKey = errors.New("empty key blob")

// UnknownTokenError reports a token byte outside the defined ranges.
type UnknownTokenError struct {
	Token  byte
	Offset int
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown key token 0x%02x at offset %d", e.Token, e.Offset)
}

// Key is one decoded IndexedDB key. Kind selects which value field is
// meaningful.
type Key struct {
	Kind  Kind
	Float float64
	Time  time.Time
	Str   string
	Bytes []byte
	Elems []Key
}

// String renders the key for display, nesting arrays in brackets.
func (k Key) String() string {
	switch k.Kind {
	case KindFloat:
		return fmt.Sprintf("%g", k.Float)
	case KindDate:
		return k.Time.Format(time.RFC3339Nano)
	case KindString:
		return fmt.Sprintf("%q", k.Str)
	case KindBinary:
		return fmt.Sprintf("%x", k.Bytes)
	case KindArray:
		parts := make([]string, len(k.Elems))
		for i, e := range k.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid key>"
	}
}

// Decode reads the single key at the start of raw. Trailing bytes after
// the key's tokens are ignored: database indexes store exactly one key
// per blob, but carved blobs may carry slack.
func Decode(raw []byte) (Key, error) {
	c := cursor.New(raw)
	tok, err := c.ReadByte()
	if err != nil {
		return Key{}, ErrEmptyKey
	}
	if tok == tokenTerminator {
		return Key{}, ErrEmptyKey
	}
	return decodeToken(c, tok)
}

func decodeToken(c *cursor.Cursor, tok byte) (Key, error) {
	switch {
	case tok == TokenFloat:
		return Key{Kind: KindFloat, Float: readFloat(c)}, nil
	case tok == TokenDate:
		// Multiply before converting so fractional milliseconds survive.
		ms := readFloat(c)
		return Key{
			Kind: KindDate,
			Time: time.UnixMilli(0).Add(time.Duration(ms * float64(time.Millisecond))).UTC(),
		}, nil
	case tok == TokenString:
		return Key{Kind: KindString, Str: string(readPacked(c, false))}, nil
	case tok == TokenBinary:
		return Key{Kind: KindBinary, Bytes: readPacked(c, true)}, nil
	case tok >= TokenArray:
		return decodeArray(c, tok)
	default:
		return Key{}, &UnknownTokenError{Token: tok, Offset: c.Position() - 1}
	}
}

// decodeArray reads elements until a terminator token or the end of the
// blob. The opening token folds in the first element's type.
func decodeArray(c *cursor.Cursor, tok byte) (Key, error) {
	key := Key{Kind: KindArray, Elems: []Key{}}

	if first := tok - TokenArray; first != tokenTerminator {
		elem, err := decodeToken(c, first)
		if err != nil {
			return key, err
		}
		key.Elems = append(key.Elems, elem)
	}
	for {
		next, err := c.ReadByte()
		if err != nil || next == tokenTerminator {
			return key, nil
		}
		elem, err := decodeToken(c, next)
		if err != nil {
			return key, err
		}
		key.Elems = append(key.Elems, elem)
	}
}

// readFloat reads the order-preserving double encoding: big-endian with
// the sign bit flipped, trailing zero bytes trimmed. A set top bit means
// a positive number; a clear one means the magnitude of a negative.
func readFloat(c *cursor.Cursor) float64 {
	var b [8]byte
	raw, err := c.Read(8)
	if err != nil {
		// Trailing zeros were trimmed from the encoding; restore them.
		raw = c.Rest()
	}
	copy(b[:], raw)

	if b[0]&0x80 != 0 {
		b[0] &= 0x7f
		return math.Float64frombits(binary.BigEndian.Uint64(b[:]))
	}
	return -math.Float64frombits(binary.BigEndian.Uint64(b[:]))
}

// readPacked reads a NUL-terminated packed code point sequence. Each
// unit is stored offset so zero never appears in the body: one byte for
// code points below 0x7f (value+1), two bytes tagged 10xxxxxx for the
// range reachable with a 0x7f offset, three bytes tagged 11xxxxxx with
// the value shifted left six bits. Binary blobs use the same packing
// with each decoded unit emitted as a byte.
func readPacked(c *cursor.Cursor, isBinary bool) []byte {
	data, _ := c.ReadUntil(0)

	var runes []rune
	var raw []byte
	for i := 0; i < len(data); {
		b1 := data[i]
		i++

		var v uint32
		switch {
		case b1&0x80 == 0:
			v = uint32(b1) - 1
		case b1&0xc0 == 0x80:
			if i >= len(data) {
				v = (uint32(b1&0x3f) << 8) - 0x7f
				i = len(data)
				break
			}
			v = (uint32(b1&0x3f)<<8 | uint32(data[i])) - 0x7f
			i++
		default:
			var b2, b3 byte
			if i < len(data) {
				b2 = data[i]
				i++
			}
			if i < len(data) {
				b3 = data[i]
				i++
			}
			v = (uint32(b1&0x3f)<<16 | uint32(b2)<<8 | uint32(b3&0xc0)) >> 6
		}

		if isBinary {
			raw = append(raw, byte(v))
		} else {
			runes = append(runes, rune(v))
		}
	}
	if isBinary {
		return raw
	}
	return []byte(string(runes))
}
