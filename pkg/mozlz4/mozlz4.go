// Package mozlz4 decodes and encodes Mozilla's mozLz4 container: the magic
// "mozLz40\x00", a little-endian uint32 declared uncompressed size, then a
// single raw LZ4 block. Firefox uses it for sessionstore.jsonlz4, bookmark
// backups and similar profile artifacts.
//
// Decompression is forensic-grade: the declared size is treated as a
// pre-allocation hint only, and a truncated or damaged payload yields every
// byte that can be proven correct together with a validity flag instead of
// an outright failure.
package mozlz4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Magic is the 8-byte signature that opens every mozLz4 file.
var Magic = []byte("mozLz40\x00")

// HeaderSize is the length of the magic plus the declared-size field.
const HeaderSize = len("mozLz40\x00") + 4

// ErrBadMagic reports that a buffer does not begin with the mozLz4
// signature. The caller may still carve the raw bytes directly.
var ErrBadMagic = errors.New("mozLz4 magic mismatch")

// Flag describes how much of a frame's payload could be trusted.
type Flag uint8

const (
	// Complete means the payload decoded cleanly and the output length
	// matches the declared uncompressed size.
	Complete Flag = iota

	// Truncated means a valid prefix was recovered but the input ended
	// early, or the output length disagrees with the declared size.
	Truncated

	// Corrupt means a decode step produced an impossible offset or length;
	// output up to that point is returned, nothing after it can be trusted.
	Corrupt
)

func (f Flag) String() string {
	switch f {
	case Complete:
		return "complete"
	case Truncated:
		return "truncated"
	case Corrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// HasMagic reports whether buf begins with the mozLz4 signature.
func HasMagic(buf []byte) bool {
	return len(buf) >= len(Magic) && bytes.Equal(buf[:len(Magic)], Magic)
}

// DeclaredSize returns the uncompressed size recorded in the frame header.
// It is advisory only.
func DeclaredSize(buf []byte) (uint32, error) {
	if !HasMagic(buf) {
		return 0, ErrBadMagic
	}
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("mozLz4 header truncated: %d bytes", len(buf))
	}
	return binary.LittleEndian.Uint32(buf[len(Magic):HeaderSize]), nil
}

// Decompress decodes a mozLz4 frame. The only hard failure is a missing
// magic; every other anomaly is absorbed into the returned Flag so that
// partial evidence survives. The returned bytes are always safe to use up
// to their length, whatever the flag says about the remainder.
func Decompress(buf []byte) ([]byte, Flag, error) {
	if !HasMagic(buf) {
		return nil, Corrupt, ErrBadMagic
	}
	if len(buf) < HeaderSize {
		// Magic present but the size field itself is cut off. There is
		// nothing to decode, but that is truncation, not failure.
		return []byte{}, Truncated, nil
	}

	declared := int(binary.LittleEndian.Uint32(buf[len(Magic):HeaderSize]))
	payload := buf[HeaderSize:]

	if len(payload) == 0 {
		if declared == 0 {
			return []byte{}, Complete, nil
		}
		return []byte{}, Truncated, nil
	}

	// Fast path: an intact frame decodes in one shot. UncompressBlock
	// needs the destination sized up front, which is exactly what the
	// declared size gives us.
	if declared > 0 && declared <= maxDeclaredSize {
		dst := make([]byte, declared)
		if n, err := lz4.UncompressBlock(payload, dst); err == nil {
			if n == declared {
				return dst[:n], Complete, nil
			}
			return dst[:n], Truncated, nil
		}
	}

	// Tolerant path: walk the block sequence by sequence and keep
	// whatever proves out. Reached for truncated frames, lying size
	// fields and payloads the strict decoder rejects.
	out, flag := decodeBlock(payload, declared)
	if flag == Complete && len(out) != declared {
		flag = Truncated
	}
	return out, flag, nil
}

// Compress wraps data in a mozLz4 frame. The output round-trips through
// Decompress with a Complete flag.
func Compress(data []byte) ([]byte, error) {
	header := make([]byte, HeaderSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint32(header[len(Magic):], uint32(len(data)))

	if len(data) == 0 {
		return header, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input. The container still requires a valid LZ4
		// block, so emit the data as a single literal-only sequence.
		return append(header, literalBlock(data)...), nil
	}
	return append(header, dst[:n]...), nil
}

// maxDeclaredSize caps the pre-allocation the declared size can demand.
// Firefox artifacts are tens of megabytes at most; a multi-gigabyte claim
// is a damaged header, and the tolerant decoder sizes from actual output
// instead.
const maxDeclaredSize = 1 << 30

// literalBlock encodes data as one LZ4 sequence containing only literals.
func literalBlock(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/255+2)
	if n := len(data); n < 15 {
		out = append(out, byte(n)<<4)
	} else {
		out = append(out, 0xF0)
		n -= 15
		for n >= 255 {
			out = append(out, 255)
			n -= 255
		}
		out = append(out, byte(n))
	}
	return append(out, data...)
}
