// Package sclone reads Gecko structured clone streams, the serialization
// IndexedDB uses to persist JavaScript values. The reader is built for
// carving: it decodes pair by pair, sizes inline payloads so it can keep
// its alignment, and stops the moment it can no longer prove where the
// next pair begins.
package sclone

import (
	"fmt"
	"math"
	"time"
	"unicode/utf16"

	"github.com/nkivell/mozcarve/pkg/carve"
	"github.com/nkivell/mozcarve/pkg/cursor"
)

// Pair is the 8-byte unit of the stream: data word low, tag word high.
type Pair struct {
	Tag  uint32
	Data uint32
}

// IsDouble reports whether the pair is a raw IEEE-754 double rather than a
// tagged value.
func (p Pair) IsDouble() bool {
	return p.Tag <= TagFloatMax
}

// Float64 reinterprets the pair's 64 bits as a double.
func (p Pair) Float64() float64 {
	return math.Float64frombits(uint64(p.Tag)<<32 | uint64(p.Data))
}

// Item is one decoded pair together with any inline payload that followed
// it. Payload holds the meaningful bytes; alignment padding is consumed
// but not included.
type Item struct {
	Offset  int
	Pair    Pair
	Payload []byte
}

// ReadPair decodes the pair at the cursor position.
func ReadPair(c *cursor.Cursor) (Pair, error) {
	v, err := c.ReadUint64LE()
	if err != nil {
		return Pair{}, err
	}
	return Pair{Tag: uint32(v >> 32), Data: uint32(v)}, nil
}

// String decodes a string-bearing item (TagString, TagStringObject). The
// data word packs the character count with the Latin-1 flag.
func (it Item) String() (string, error) {
	length := int(it.Pair.Data &^ latin1Flag)
	if it.Pair.Data&latin1Flag != 0 {
		if len(it.Payload) < length {
			length = len(it.Payload)
		}
		b := it.Payload[:length]
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes), nil
	}
	if len(it.Payload) < 2*length {
		length = len(it.Payload) / 2
	}
	units := make([]uint16, length)
	for i := range units {
		units[i] = uint16(it.Payload[2*i]) | uint16(it.Payload[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}

// Number decodes an item whose payload is one raw little-endian double
// (TagNumberObject, TagDateObject).
func (it Item) Number() (float64, error) {
	if len(it.Payload) < 8 {
		return 0, fmt.Errorf("sclone: double payload is %d bytes", len(it.Payload))
	}
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(it.Payload[i])
	}
	return math.Float64frombits(bits), nil
}

// Date decodes a TagDateObject item: the milliseconds-since-epoch double
// that follows the pair.
func (it Item) Date() (time.Time, error) {
	ms, err := it.Number()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(0).UTC().Add(time.Duration(ms * float64(time.Millisecond))), nil
}

// Int32 decodes a TagInt32 item's value.
func (it Item) Int32() int32 {
	return int32(it.Pair.Data)
}

// Bool decodes a TagBoolean item's value.
func (it Item) Bool() bool {
	return it.Pair.Data != 0
}

// payloadSize returns the number of inline payload bytes following a pair,
// before padding. The second result is false for tags whose payload size
// cannot be established without interpreting the whole stream; a carver
// must stop at those to keep its alignment honest.
func payloadSize(p Pair) (int, bool) {
	switch p.Tag {
	case TagString, TagStringObject:
		length := int(p.Data &^ latin1Flag)
		if p.Data&latin1Flag != 0 {
			return length, true
		}
		return 2 * length, true
	case TagArrayBufferObjectV2:
		// Only the V2 tag carries the byte length in the data word. The
		// current TagArrayBufferObject stores it as a trailing uint64, so
		// it falls through to the opaque group below.
		return int(p.Data), true
	case TagDateObject, TagNumberObject:
		// Both are followed by one raw double.
		return 8, true
	case TagBigInt, TagBigIntObject:
		// Data packs the uint64 digit count with a sign flag in the top bit.
		return 8 * int(p.Data&^latin1Flag), true
	case TagHeader, TagNull, TagUndefined, TagBoolean, TagInt32,
		TagBackReference, TagEndOfKeys,
		TagArrayObject, TagObjectObject, TagMapObject, TagSetObject,
		TagBooleanObject:
		return 0, true
	}
	if p.IsDouble() {
		return 0, true
	}
	if p.Tag >= TagTypedArrayV1Min && p.Tag <= TagTypedArrayV1Max {
		// V1 typed arrays store the element count in the data word; the
		// element width is the tag offset's scalar type.
		width := scalarWidth(p.Tag - TagTypedArrayV1Min)
		return width * int(p.Data), true
	}
	return 0, false
}

// scalarWidth maps a scalar type index to its element size in bytes.
func scalarWidth(scalar uint32) int {
	switch scalar {
	case 0, 1, 8: // Int8, Uint8, Uint8Clamped
		return 1
	case 2, 3: // Int16, Uint16
		return 2
	case 4, 5, 6: // Int32, Uint32, Float32
		return 4
	default: // Float64 and the wide types
		return 8
	}
}

// pad8 returns n rounded up to the next 8-byte boundary.
func pad8(n int) int {
	return (n + 7) &^ 7
}

// Format carves structured clone records: a HEADER pair followed by one
// complete serialized value. Implements carve.Format.
type Format struct{}

func (Format) Name() string {
	return "structured-clone"
}

// Probe matches the HEADER pair.
func (Format) Probe(c *cursor.Cursor) bool {
	b, err := c.Peek(8)
	if err != nil {
		return false
	}
	tag := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	return tag == TagHeader
}

// Parse walks pairs from a HEADER until one complete top-level value has
// been consumed, the stream ends, or alignment can no longer be proven.
// The record's Kind carries the header's scope word; its payload is the
// raw pair stream including the header.
func (Format) Parse(c *cursor.Cursor) (carve.RawRecord, error) {
	start := c.Position()

	header, err := ReadPair(c)
	if err != nil || header.Tag != TagHeader {
		return carve.RawRecord{}, fmt.Errorf("sclone: no header at %d", start)
	}

	validity := carve.Valid
	depth := 0
	sawValue := false

walk:
	for {
		if c.Remaining() < 8 {
			if c.Remaining() > 0 {
				// A ragged tail of a pair: truncation, not noise.
				_ = c.Skip(c.Remaining())
				validity = carve.Truncated
			} else if !sawValue || depth > 0 {
				validity = carve.Truncated
			}
			break
		}

		b, _ := c.Peek(8)
		tag := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
		pair := Pair{Tag: tag, Data: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24}

		if !pair.IsDouble() && !KnownTag(tag) {
			// Unrecognized tag: the record ends here, the carver will
			// resynchronize on whatever follows.
			if !sawValue || depth > 0 {
				validity = carve.Truncated
			}
			break
		}
		if pair.IsDouble() && depth == 0 && sawValue {
			// A bare double after the value belongs to the next blob.
			break
		}
		if tag == TagHeader && sawValue {
			// The next record's header.
			break
		}

		size, sizable := payloadSize(pair)
		if !sizable {
			// Pair is plausible but its payload length is opaque; consume
			// the pair, then stop before alignment is lost.
			_ = c.Skip(8)
			validity = carve.Truncated
			break
		}

		_ = c.Skip(8)
		if size > 0 {
			padded := pad8(size)
			if padded > c.Remaining() {
				_ = c.Skip(c.Remaining())
				validity = carve.Truncated
				break
			}
			_ = c.Skip(padded)
		}

		switch tag {
		case TagHeader:
			// Leading header already consumed above; nested ones do not
			// occur, but treat defensively as plain pairs.
		case TagArrayObject, TagObjectObject, TagMapObject, TagSetObject:
			depth++
			sawValue = true
		case TagEndOfKeys:
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				break walk
			}
		default:
			sawValue = true
			if depth == 0 {
				// A single primitive is a complete top-level value.
				break walk
			}
		}
	}

	payload, _ := c.Span(start, c.Position())
	return carve.RawRecord{
		Kind:     header.Data,
		Payload:  payload,
		Validity: validity,
	}, nil
}

// Scan decodes buf as a pair stream starting at its first byte, yielding
// items until the stream ends or a pair cannot be sized. It is the
// low-level walker behind Format for callers that want the pairs
// themselves.
func Scan(buf []byte) ([]Item, error) {
	var items []Item
	c := cursor.New(buf)
	for c.Remaining() >= 8 {
		offset := c.Position()
		pair, _ := ReadPair(c)
		if !pair.IsDouble() && !KnownTag(pair.Tag) {
			return items, fmt.Errorf("sclone: unknown tag 0x%08x at %d", pair.Tag, offset)
		}
		size, sizable := payloadSize(pair)
		if !sizable {
			return items, fmt.Errorf("sclone: unsized tag 0x%08x at %d", pair.Tag, offset)
		}
		item := Item{Offset: offset, Pair: pair}
		if size > 0 {
			if size > c.Remaining() {
				item.Payload, _ = c.Read(c.Remaining())
				items = append(items, item)
				return items, fmt.Errorf("sclone: payload truncated at %d", offset)
			}
			item.Payload, _ = c.Read(size)
			_ = c.Skip(min(pad8(size)-size, c.Remaining()))
		}
		items = append(items, item)
	}
	return items, nil
}
