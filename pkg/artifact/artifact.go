// Package artifact ties container decoding and record carving together:
// hand it the raw bytes of a recovered file and it identifies the
// container, decompresses the effective stream, carves records out of
// it, and tracks where in the source file each record's bytes came
// from. Every run gets a sortable unique ID so output from different
// inputs stays attributable.
package artifact

import (
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"

	"github.com/nkivell/mozcarve/pkg/carve"
	"github.com/nkivell/mozcarve/pkg/mozlz4"
	"github.com/nkivell/mozcarve/pkg/snappychunk"
)

// ContainerKind identifies the outer framing of an input buffer.
type ContainerKind uint8

const (
	// Unknown means detection had nothing to go on (an empty buffer).
	Unknown ContainerKind = iota

	// MozLz4 is the mozLz4 block container (jsonlz4, baklz4, mozlz4
	// extensions).
	MozLz4

	// ChunkedSnappy is the framed snappy dialect IndexedDB and cache
	// storage use.
	ChunkedSnappy

	// Raw means no container: the buffer is already the stream.
	Raw
)

func (k ContainerKind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case MozLz4:
		return "mozlz4"
	case ChunkedSnappy:
		return "chunked-snappy"
	case Raw:
		return "raw"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(k))
	}
}

// Integrity summarizes how intact the container itself was.
type Integrity uint8

const (
	Intact Integrity = iota
	Truncated
	Damaged
)

func (i Integrity) String() string {
	switch i {
	case Intact:
		return "intact"
	case Truncated:
		return "truncated"
	case Damaged:
		return "damaged"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(i))
	}
}

// Detect identifies the container framing of buf. The mozLz4 magic is
// checked first since it is unambiguous; the chunked-snappy check is a
// heuristic (a known chunk type whose declared length fits the buffer),
// so callers with outside knowledge should pass a hint to Recover
// instead. A buffer matching neither dialect is Unknown; Recover treats
// Unknown as a raw stream.
func Detect(buf []byte) ContainerKind {
	if mozlz4.HasMagic(buf) {
		return MozLz4
	}
	if len(buf) >= 4 && snappychunk.KnownType(buf[0]) {
		declared := int(buf[1]) | int(buf[2])<<8 | int(buf[3])<<16
		if declared <= len(buf)-4 {
			return ChunkedSnappy
		}
	}
	return Unknown
}

// ErrNoFormat is returned by Recover when no record format was supplied.
var ErrNoFormat = errors.New("no record format configured")

// Options configures a recovery run.
type Options struct {
	// Hint forces the container kind instead of detecting it. With a
	// MozLz4 hint a missing magic is an error rather than a fallback.
	Hint ContainerKind

	// Format is the record syntax to carve from the effective stream.
	Format carve.Format

	// Carve tunes the carver.
	Carve carve.Options
}

// span maps a run of decompressed stream bytes back to source bytes.
// exact means the bytes correspond one to one, so positions inside the
// span can be mapped precisely instead of to the span as a whole.
type span struct {
	dstStart, dstEnd int
	srcStart, srcEnd int
	exact            bool
}

// Recovery is the result of container decoding for one input. Records
// are carved lazily through Envelopes.
type Recovery struct {
	// ID is a unique, time-sortable identifier for this run.
	ID ksuid.KSUID

	Container ContainerKind
	Integrity Integrity

	// Source is the input buffer; Stream is the effective decompressed
	// stream records are carved from. For a Raw container they alias.
	Source []byte
	Stream []byte

	// Chunks holds the container framing detail for ChunkedSnappy.
	Chunks []snappychunk.Chunk

	format carve.Format
	opts   carve.Options
	spans  []span
}

// Recover decodes the container around buf and prepares record carving.
// Container-level damage is not an error: a truncated or corrupt
// container yields a Recovery with degraded Integrity and whatever
// stream bytes survived. The only errors are a missing format and a
// MozLz4 hint over a buffer without the magic.
func Recover(buf []byte, opts Options) (*Recovery, error) {
	if opts.Format == nil {
		return nil, ErrNoFormat
	}

	kind := opts.Hint
	if kind == Unknown {
		kind = Detect(buf)
	}

	r := &Recovery{
		ID:        ksuid.New(),
		Container: kind,
		Source:    buf,
		format:    opts.Format,
		opts:      opts.Carve,
	}

	switch kind {
	case MozLz4:
		data, flag, err := mozlz4.Decompress(buf)
		if err != nil {
			return nil, err
		}
		r.Stream = data
		switch flag {
		case mozlz4.Complete:
			r.Integrity = Intact
		case mozlz4.Truncated:
			r.Integrity = Truncated
		default:
			r.Integrity = Damaged
		}
		r.spans = []span{{dstStart: 0, dstEnd: len(data), srcStart: mozlz4.HeaderSize, srcEnd: len(buf)}}

	case ChunkedSnappy:
		stream, chunks := snappychunk.Stream(buf)
		r.Stream = stream
		r.Chunks = chunks
		r.Integrity = chunkIntegrity(chunks)
		r.spans = chunkSpans(chunks)

	default:
		// Unknown or Raw: carve the bytes as they are.
		r.Container = Raw
		r.Stream = buf
		r.Integrity = Intact
		r.spans = []span{{0, len(buf), 0, len(buf), true}}
	}
	return r, nil
}

func chunkIntegrity(chunks []snappychunk.Chunk) Integrity {
	integrity := Intact
	for _, ck := range chunks {
		switch ck.Validity {
		case snappychunk.Corrupt, snappychunk.ChecksumMismatch, snappychunk.Unsupported:
			return Damaged
		case snappychunk.Truncated:
			integrity = Truncated
		}
	}
	return integrity
}

// chunkSpans builds the stream-to-source offset table from the data
// chunks, in stream order.
func chunkSpans(chunks []snappychunk.Chunk) []span {
	var spans []span
	pos := 0
	for _, ck := range chunks {
		if !ck.IsData() || len(ck.Payload) == 0 {
			continue
		}
		spans = append(spans, span{
			dstStart: pos,
			dstEnd:   pos + len(ck.Payload),
			srcStart: ck.Offset,
			srcEnd:   ck.End,
		})
		pos += len(ck.Payload)
	}
	return spans
}

// sourceRange maps a stream byte range back to the source byte range
// that produced it. The result covers whole chunks: compression does
// not preserve byte-level positions.
func (r *Recovery) sourceRange(start, end int) (int, int) {
	if len(r.spans) == 0 {
		return 0, 0
	}
	srcStart, srcEnd := -1, -1
	for _, s := range r.spans {
		if start < s.dstEnd && srcStart < 0 {
			srcStart = s.srcStart
			if s.exact && start > s.dstStart {
				srcStart += start - s.dstStart
			}
		}
		if end > s.dstStart {
			srcEnd = s.srcEnd
			if s.exact && end < s.dstEnd {
				srcEnd = s.srcStart + end - s.dstStart
			}
		}
	}
	if srcStart < 0 {
		srcStart = r.spans[len(r.spans)-1].srcEnd
	}
	if srcEnd < 0 {
		srcEnd = r.spans[0].srcStart
	}
	return srcStart, srcEnd
}

// Envelope is one carved record with its provenance: which container it
// came out of, where in the source file its bytes lived, and its
// position in the run's output sequence.
type Envelope struct {
	Seq         int
	Record      carve.RawRecord
	Container   ContainerKind
	SourceStart int
	SourceEnd   int
}

// Envelopes returns a fresh iterator over the carved records. Each call
// restarts from the top of the stream.
func (r *Recovery) Envelopes() *EnvelopeIterator {
	return &EnvelopeIterator{
		rec:   r,
		inner: carve.New(r.format, r.opts).Iter(r.Stream),
		seq:   -1,
	}
}

// EnvelopeIterator walks carved records lazily.
type EnvelopeIterator struct {
	rec   *Recovery
	inner *carve.Iterator
	seq   int
	cur   Envelope
}

// Next advances to the next envelope, returning false at end of stream.
func (it *EnvelopeIterator) Next() bool {
	if !it.inner.Next() {
		return false
	}
	record := it.inner.Record()
	it.seq++
	srcStart, srcEnd := it.rec.sourceRange(record.Offset, record.Offset+record.Length)
	it.cur = Envelope{
		Seq:         it.seq,
		Record:      record,
		Container:   it.rec.Container,
		SourceStart: srcStart,
		SourceEnd:   srcEnd,
	}
	return true
}

// Envelope returns the envelope produced by the last successful Next.
func (it *EnvelopeIterator) Envelope() Envelope {
	return it.cur
}

// Collect materializes every envelope in the stream.
func (r *Recovery) Collect() []Envelope {
	var envelopes []Envelope
	it := r.Envelopes()
	for it.Next() {
		envelopes = append(envelopes, it.Envelope())
	}
	return envelopes
}
