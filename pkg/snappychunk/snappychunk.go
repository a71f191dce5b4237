// Package snappychunk decodes the chunked snappy container Mozilla's
// storage code wraps around serialized values: a repeated sequence of
// [type byte][3-byte little-endian length][optional masked CRC32-C][body].
// Chunk framing survives damage better than the payloads it carries, so the
// decoder validates each chunk independently and keeps going wherever byte
// alignment remains provable.
package snappychunk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/nkivell/mozcarve/pkg/cursor"
)

// ChunkType is the leading tag byte of a chunk.
type ChunkType uint8

// Chunk types. Values other than these are surfaced as unsupported rather
// than silently dropped.
const (
	TypeCompressed   ChunkType = 0x00
	TypeUncompressed ChunkType = 0x01
	TypePadding      ChunkType = 0xFE
	TypeStreamID     ChunkType = 0xFF
)

func (t ChunkType) String() string {
	switch t {
	case TypeCompressed:
		return "compressed"
	case TypeUncompressed:
		return "uncompressed"
	case TypePadding:
		return "padding"
	case TypeStreamID:
		return "stream-id"
	default:
		return fmt.Sprintf("unsupported(0x%02x)", uint8(t))
	}
}

// KnownType reports whether b is a tag this dialect produces. Used by
// container detection.
func KnownType(b byte) bool {
	switch ChunkType(b) {
	case TypeCompressed, TypeUncompressed, TypePadding, TypeStreamID:
		return true
	}
	return false
}

// Validity describes how much of a chunk could be trusted.
type Validity uint8

const (
	// Valid means the chunk parsed fully and any checksum matched.
	Valid Validity = iota

	// Truncated means the declared length ran past the end of the buffer;
	// the chunk carries whatever bytes remained and ends the stream.
	Truncated

	// ChecksumMismatch means the payload decoded but its CRC disagrees.
	// The bytes are still returned: availability beats strict rejection
	// when the input is evidence.
	ChecksumMismatch

	// Corrupt means a compressed body could not be decoded at all; the
	// raw compressed bytes are returned for visibility.
	Corrupt

	// Unsupported means the type tag is not one this dialect defines.
	Unsupported
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Truncated:
		return "truncated"
	case ChecksumMismatch:
		return "checksum-mismatch"
	case Corrupt:
		return "corrupt"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// Chunk is one decoded unit of the stream.
type Chunk struct {
	Type     ChunkType
	Offset   int    // offset of the chunk header in the source buffer
	End      int    // offset just past the chunk in the source buffer
	Declared int    // declared body length (-1 if the length field was cut off)
	Checksum uint32 // masked CRC32-C, when present
	HasCRC   bool
	Payload  []byte // decoded payload; nil for padding and stream markers
	Validity Validity
}

// IsData reports whether the chunk contributes bytes to the effective
// decompressed stream.
func (c Chunk) IsData() bool {
	return c.Type == TypeCompressed || c.Type == TypeUncompressed
}

// Decoder walks a chunk stream lazily. It holds no state beyond a position,
// so decoding is restartable by constructing a new Decoder over the same
// buffer.
type Decoder struct {
	buf  []byte
	pos  int
	done bool
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next returns the next chunk. The second result is false once the stream
// is exhausted or terminated by an unrecoverable alignment loss.
func (d *Decoder) Next() (Chunk, bool) {
	if d.done || d.pos >= len(d.buf) {
		return Chunk{}, false
	}

	c := cursor.New(d.buf)
	_ = c.Seek(d.pos)

	tag, _ := c.ReadByte()
	ck := Chunk{Type: ChunkType(tag), Offset: d.pos, Declared: -1}

	length, err := c.ReadUint24LE()
	if err != nil {
		// The header itself is cut off. Surface the remnant and stop.
		ck.Payload = c.Rest()
		ck.Validity = Truncated
		ck.End = len(d.buf)
		d.terminate()
		return ck, true
	}
	ck.Declared = int(length)

	if ck.Declared > c.Remaining() {
		// An oversized declared length means byte alignment past this
		// point is unrecoverable: keep the remnant, end the stream.
		ck.Payload = c.Rest()
		ck.Validity = Truncated
		ck.End = len(d.buf)
		d.terminate()
		return ck, true
	}

	body, _ := c.Read(ck.Declared)
	ck.End = c.Position()
	d.pos = c.Position()

	switch ck.Type {
	case TypePadding, TypeStreamID:
		// Skip markers: no payload, nothing to verify.

	case TypeUncompressed:
		data := splitChecksum(&ck, body)
		ck.Payload = data
		if ck.HasCRC && maskedCRC(data) != ck.Checksum {
			ck.Validity = ChecksumMismatch
		}

	case TypeCompressed:
		data := splitChecksum(&ck, body)
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			ck.Payload = data
			ck.Validity = Corrupt
			break
		}
		ck.Payload = decoded
		if ck.HasCRC && maskedCRC(decoded) != ck.Checksum {
			ck.Validity = ChecksumMismatch
		}

	default:
		ck.Payload = body
		ck.Validity = Unsupported
	}
	return ck, true
}

func (d *Decoder) terminate() {
	d.pos = len(d.buf)
	d.done = true
}

// splitChecksum peels the leading masked CRC off a data chunk body. A
// four-byte body is a checksum over an empty payload, which is what the
// framing emits for a zero-length block; only shorter bodies are treated
// as checksum-less raw data.
func splitChecksum(ck *Chunk, body []byte) []byte {
	if len(body) < 4 {
		return body
	}
	ck.Checksum = binary.LittleEndian.Uint32(body[:4])
	ck.HasCRC = true
	return body[4:]
}

// Decode materializes every chunk in buf.
func Decode(buf []byte) []Chunk {
	var chunks []Chunk
	d := NewDecoder(buf)
	for {
		ck, ok := d.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, ck)
	}
}

// Stream decodes buf and concatenates data-chunk payloads in encounter
// order, forming the effective decompressed stream. The chunks are
// returned alongside so a consumer can tell verified regions from suspect
// ones.
func Stream(buf []byte) ([]byte, []Chunk) {
	chunks := Decode(buf)
	var n int
	for _, ck := range chunks {
		if ck.IsData() {
			n += len(ck.Payload)
		}
	}
	out := make([]byte, 0, n)
	for _, ck := range chunks {
		if ck.IsData() {
			out = append(out, ck.Payload...)
		}
	}
	return out, chunks
}

// encodeBlockSize caps the data carried by one encoded chunk.
const encodeBlockSize = 65536

// Encode wraps data in a chunk stream that round-trips through Stream.
// Each block is compressed when that saves space and stored raw otherwise,
// always with a checksum.
func Encode(data []byte) []byte {
	out := []byte{byte(TypeStreamID), 6, 0, 0, 's', 'N', 'a', 'P', 'p', 'Y'}
	for len(data) > 0 {
		block := data
		if len(block) > encodeBlockSize {
			block = block[:encodeBlockSize]
		}
		data = data[len(block):]

		crc := maskedCRC(block)
		compressed := snappy.Encode(nil, block)
		if len(compressed) < len(block) {
			out = appendChunk(out, TypeCompressed, crc, compressed)
		} else {
			out = appendChunk(out, TypeUncompressed, crc, block)
		}
	}
	return out
}

func appendChunk(out []byte, t ChunkType, crc uint32, body []byte) []byte {
	n := len(body) + 4
	out = append(out, byte(t), byte(n), byte(n>>8), byte(n>>16))
	out = binary.LittleEndian.AppendUint32(out, crc)
	return append(out, body...)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the framing checksum: CRC32-C of the uncompressed payload,
// rotated and offset so that CRCs of data containing embedded CRCs do not
// collide with themselves.
func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}
