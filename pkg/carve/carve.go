package carve

import (
	"fmt"

	"github.com/nkivell/mozcarve/pkg/cursor"
)

// Validity describes how much of a carved record could be trusted.
type Validity uint8

const (
	// Valid means the record parsed fully and any integrity check passed.
	Valid Validity = iota

	// Truncated means the record ran past the end of the stream; the
	// bytes that were present are carried in the payload.
	Truncated

	// ChecksumMismatch means the record parsed but its checksum
	// disagrees. The payload is still returned.
	ChecksumMismatch

	// Skipped marks a span where no record could be parsed. Skipped
	// records make gaps explainable: valid and skipped spans together
	// cover the whole stream.
	Skipped
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Truncated:
		return "truncated"
	case ChecksumMismatch:
		return "checksum-mismatch"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// RawRecord is one unit recovered from a byte stream.
type RawRecord struct {
	Offset   int    // where the record (or skipped span) starts in the stream
	Length   int    // bytes covered, including any header
	Kind     uint32 // format-specific discriminator, zero when not meaningful
	Payload  []byte // record body; for Skipped, the raw unexplained bytes
	Validity Validity
}

// Format describes one record syntax the carver can recover. A Format must
// be stateless: the same instance is reused across positions and buffers.
type Format interface {
	// Name identifies the format in provenance output.
	Name() string

	// Probe reports whether a record plausibly starts at the cursor
	// position. It must be cheap, must not consume input, and may err on
	// the side of true: Parse re-validates.
	Probe(c *cursor.Cursor) bool

	// Parse decodes one record starting at the cursor position, leaving
	// the cursor just past the bytes it consumed. A nil error with a
	// degraded Validity is the normal way to report a damaged but usable
	// record; a non-nil error rejects the candidate position entirely.
	Parse(c *cursor.Cursor) (RawRecord, error)
}

// DefaultMaxResync bounds how many bytes a damaged region may consume
// before it is emitted as a single Skipped record and scanning restarts
// fresh. The cap keeps rescanning linear on pathological input.
const DefaultMaxResync = 64 * 1024

// Options tunes a Carver.
type Options struct {
	// MaxResync is the skip-distance bound per damaged region, in bytes.
	// Zero selects DefaultMaxResync; negative means unbounded.
	MaxResync int
}

func (o Options) maxResync() int {
	if o.MaxResync == 0 {
		return DefaultMaxResync
	}
	if o.MaxResync < 0 {
		return 0
	}
	return o.MaxResync
}

// Carver recovers records of one Format from byte streams. It is a
// tolerant linear scan, not a grammar parse: damaged spans are skipped
// byte by byte until the next plausible record marker, and every byte of
// the stream ends up attributed to exactly one record.
type Carver struct {
	format Format
	opts   Options
}

// New returns a Carver for the given format.
func New(format Format, opts Options) *Carver {
	return &Carver{format: format, opts: opts}
}

// Carve materializes every record in buf. See Iter for the lazy form.
func (cv *Carver) Carve(buf []byte) []RawRecord {
	var records []RawRecord
	it := cv.Iter(buf)
	for it.Next() {
		records = append(records, it.Record())
	}
	return records
}

// Iter returns an iterator over the records in buf. The iterator is
// restartable only by calling Iter again; the Carver itself holds no
// per-scan state and one Carver may serve many buffers.
func (cv *Carver) Iter(buf []byte) *Iterator {
	return &Iterator{
		buf:       buf,
		format:    cv.format,
		maxResync: cv.opts.maxResync(),
		skipStart: -1,
	}
}

// Iterator walks a stream one record at a time.
//
// Internally it is a three-state machine: seeking (probing for a marker),
// parsing (decoding a candidate record), and resyncing (advancing one byte
// after a failed candidate). Every pass through the loop consumes at least
// one byte, so termination is guaranteed.
type Iterator struct {
	buf       []byte
	format    Format
	maxResync int

	pos       int        // scan position
	skipStart int        // start of the current unexplained region, -1 if none
	pending   *RawRecord // parsed record held back while its preceding gap is emitted
	cur       RawRecord
}

// Record returns the record produced by the last successful Next call.
func (it *Iterator) Record() RawRecord {
	return it.cur
}

// Next advances to the next record. It returns false when the stream is
// exhausted.
func (it *Iterator) Next() bool {
	if it.pending != nil {
		it.cur = *it.pending
		it.pending = nil
		return true
	}

	c := cursor.New(it.buf)
	for it.pos < len(it.buf) {
		// Seeking: probe for a record marker at the current position.
		_ = c.Seek(it.pos)
		if it.format.Probe(c) {
			// Parsing: attempt a full decode at the candidate position.
			rec, err := it.format.Parse(c)
			if err == nil && c.Position() > it.pos {
				rec.Offset = it.pos
				rec.Length = c.Position() - it.pos
				next := c.Position()
				if it.skipStart >= 0 {
					// Emit the gap first so output covers the stream in
					// order; the parsed record follows on the next call.
					it.pending = &rec
					it.cur = it.skipRecord(it.pos)
					it.pos = next
					return true
				}
				it.pos = next
				it.cur = rec
				return true
			}
			// Parse rejected the candidate; fall through to resync.
		}

		// Resyncing: attribute this byte to the current damaged region
		// and move on.
		if it.skipStart < 0 {
			it.skipStart = it.pos
		}
		it.pos++
		if it.maxResync > 0 && it.pos-it.skipStart >= it.maxResync {
			// Give up on the region as a unit; scanning resumes fresh.
			it.cur = it.skipRecord(it.pos)
			return true
		}
	}

	if it.skipStart >= 0 {
		it.cur = it.skipRecord(len(it.buf))
		return true
	}
	return false
}

// skipRecord closes the open damaged region, ending just before end.
func (it *Iterator) skipRecord(end int) RawRecord {
	rec := RawRecord{
		Offset:   it.skipStart,
		Length:   end - it.skipStart,
		Payload:  it.buf[it.skipStart:end],
		Validity: Skipped,
	}
	it.skipStart = -1
	return rec
}
