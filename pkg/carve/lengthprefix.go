package carve

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/nkivell/mozcarve/pkg/cursor"
)

// LengthPrefix carves records laid out as marker, little-endian uint32
// payload length, optional CRC32-C of the payload, then the payload. Several
// Mozilla side files use this shape for their write-ahead journals; it is
// also the format of choice for exercising the carver in tests.
type LengthPrefix struct {
	// Marker is the record-start byte sequence. Must be non-empty.
	Marker []byte

	// Checksum, when set, expects a CRC32-C of the payload between the
	// length field and the payload.
	Checksum bool

	// MaxLen caps plausible declared lengths. A candidate whose length
	// field exceeds it is rejected as noise rather than parsed as a huge
	// truncated record. Zero means no cap.
	MaxLen int
}

func (f LengthPrefix) Name() string {
	return "length-prefix"
}

func (f LengthPrefix) headerSize() int {
	n := len(f.Marker) + 4
	if f.Checksum {
		n += 4
	}
	return n
}

// Probe matches the marker and sanity-checks the declared length.
func (f LengthPrefix) Probe(c *cursor.Cursor) bool {
	head, err := c.Peek(len(f.Marker) + 4)
	if err != nil {
		return false
	}
	if !bytes.Equal(head[:len(f.Marker)], f.Marker) {
		return false
	}
	declared := int(binary.LittleEndian.Uint32(head[len(f.Marker):]))
	return f.MaxLen <= 0 || declared <= f.MaxLen
}

// Parse decodes one record. A declared length that is plausible but runs
// past the end of the stream yields a Truncated record holding the bytes
// that remain; an implausible length rejects the candidate.
func (f LengthPrefix) Parse(c *cursor.Cursor) (RawRecord, error) {
	marker, err := c.Read(len(f.Marker))
	if err != nil || !bytes.Equal(marker, f.Marker) {
		return RawRecord{}, fmt.Errorf("length-prefix: no marker")
	}
	declared64, err := c.ReadUint32LE()
	if err != nil {
		return RawRecord{}, fmt.Errorf("length-prefix: length field cut off")
	}
	declared := int(declared64)
	if f.MaxLen > 0 && declared > f.MaxLen {
		return RawRecord{}, fmt.Errorf("length-prefix: implausible length %d", declared)
	}

	var sum uint32
	if f.Checksum {
		sum, err = c.ReadUint32LE()
		if err != nil {
			return RawRecord{Payload: c.Rest(), Validity: Truncated}, nil
		}
	}

	if declared > c.Remaining() {
		return RawRecord{Payload: c.Rest(), Validity: Truncated}, nil
	}
	payload, _ := c.Read(declared)

	rec := RawRecord{Payload: payload, Validity: Valid}
	if f.Checksum && crc32.Checksum(payload, castagnoli) != sum {
		rec.Validity = ChecksumMismatch
	}
	return rec, nil
}

// Append serializes payload as one record in f's layout. It is the inverse
// of Parse for intact input.
func (f LengthPrefix) Append(dst, payload []byte) []byte {
	dst = append(dst, f.Marker...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	if f.Checksum {
		dst = binary.LittleEndian.AppendUint32(dst, crc32.Checksum(payload, castagnoli))
	}
	return append(dst, payload...)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)
