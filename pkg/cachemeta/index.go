// Package cachemeta parses the metadata side of Firefox's HTTP cache
// (cache2): the index file's fixed-width entry records, the metadata block
// at the tail of each cache entry file, and the .metadata-v2 origin files
// quota storage keeps next to its databases. All multi-byte fields are
// big-endian, following the network byte order the cache code uses.
package cachemeta

import (
	"fmt"
	"math"
	"time"

	"github.com/nkivell/mozcarve/pkg/carve"
	"github.com/nkivell/mozcarve/pkg/cursor"
)

// ContentType is the coarse content classification stored per index entry.
type ContentType uint8

const (
	ContentUnknown ContentType = iota
	ContentOther
	ContentJavaScript
	ContentImage
	ContentMedia
	ContentStylesheet
	ContentWASM

	contentTypeMax = ContentWASM
)

func (t ContentType) String() string {
	switch t {
	case ContentUnknown:
		return "unknown"
	case ContentOther:
		return "other"
	case ContentJavaScript:
		return "javascript"
	case ContentImage:
		return "image"
	case ContentMedia:
		return "media"
	case ContentStylesheet:
		return "stylesheet"
	case ContentWASM:
		return "wasm"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// IndexHeader opens the cache index file.
type IndexHeader struct {
	Version   uint32
	LastWrite time.Time
	IsDirty   uint32
	KBWritten uint32
}

// IndexRecordSize is the fixed width of one index entry on disk.
const IndexRecordSize = 41

// IndexRecord is one cache index entry: a SHA-1 of the cache key plus
// bookkeeping. The flags word packs the file size with the state bits.
type IndexRecord struct {
	Hash            [20]byte
	Frecency        float32
	OriginAttrsHash int64
	OnStartTime     uint16
	OnStopTime      uint16
	ContentType     ContentType
	Flags           uint32
}

// FileSizeKB extracts the 24-bit file size from the flags word.
func (r IndexRecord) FileSizeKB() uint32 { return r.Flags & 0x00ffffff }

func (r IndexRecord) IsInitialized() bool { return r.Flags&0x80000000 != 0 }
func (r IndexRecord) IsAnonymous() bool   { return r.Flags&0x40000000 != 0 }
func (r IndexRecord) IsRemoved() bool     { return r.Flags&0x20000000 != 0 }
func (r IndexRecord) IsDirty() bool       { return r.Flags&0x10000000 != 0 }
func (r IndexRecord) IsFresh() bool       { return r.Flags&0x08000000 != 0 }
func (r IndexRecord) IsPinned() bool      { return r.Flags&0x04000000 != 0 }
func (r IndexRecord) HasAltData() bool    { return r.Flags&0x02000000 != 0 }

// flagsReserved is the one unassigned bit between the state bits and the
// 24-bit size field. Set means the record is not really a record.
const flagsReserved = 0x01000000

func readIndexRecord(c *cursor.Cursor) (IndexRecord, error) {
	var r IndexRecord
	hash, err := c.Read(20)
	if err != nil {
		return r, err
	}
	copy(r.Hash[:], hash)

	frecency, err := c.ReadUint32BE()
	if err != nil {
		return r, err
	}
	r.Frecency = math.Float32frombits(frecency)

	origin, err := c.ReadUint64BE()
	if err != nil {
		return r, err
	}
	r.OriginAttrsHash = int64(origin)

	if r.OnStartTime, err = c.ReadUint16BE(); err != nil {
		return r, err
	}
	if r.OnStopTime, err = c.ReadUint16BE(); err != nil {
		return r, err
	}
	ct, err := c.ReadByte()
	if err != nil {
		return r, err
	}
	r.ContentType = ContentType(ct)
	if r.Flags, err = c.ReadUint32BE(); err != nil {
		return r, err
	}
	return r, nil
}

// ParseIndex reads an intact cache index file image: a header followed by
// as many whole records as fit.
func ParseIndex(buf []byte) (IndexHeader, []IndexRecord, error) {
	c := cursor.New(buf)

	var h IndexHeader
	var err error
	if h.Version, err = c.ReadUint32BE(); err != nil {
		return h, nil, fmt.Errorf("cache index header: %w", err)
	}
	lastWrite, err := c.ReadUint32BE()
	if err != nil {
		return h, nil, fmt.Errorf("cache index header: %w", err)
	}
	h.LastWrite = time.Unix(int64(lastWrite), 0).UTC()
	if h.IsDirty, err = c.ReadUint32BE(); err != nil {
		return h, nil, fmt.Errorf("cache index header: %w", err)
	}
	if h.KBWritten, err = c.ReadUint32BE(); err != nil {
		return h, nil, fmt.Errorf("cache index header: %w", err)
	}

	var records []IndexRecord
	for c.Remaining() >= IndexRecordSize {
		r, err := readIndexRecord(c)
		if err != nil {
			return h, records, err
		}
		records = append(records, r)
	}
	return h, records, nil
}

// IndexFormat carves 41-byte index records out of damaged index file
// fragments, without needing the header or record alignment to survive.
// Implements carve.Format.
type IndexFormat struct{}

func (IndexFormat) Name() string {
	return "cache-index-record"
}

// Probe applies the structural checks a record must pass: a defined
// content type and a clear reserved flag bit. Fixed-width records have no
// marker, so the checks do the discriminating.
func (IndexFormat) Probe(c *cursor.Cursor) bool {
	b, err := c.Peek(IndexRecordSize)
	if err != nil {
		return false
	}
	if ContentType(b[36]) > contentTypeMax {
		return false
	}
	flags := uint32(b[37])<<24 | uint32(b[38])<<16 | uint32(b[39])<<8 | uint32(b[40])
	if flags&flagsReserved != 0 {
		return false
	}
	// An uninitialized entry with a nonzero size is contradictory.
	if flags&0x80000000 == 0 && flags&0x00ffffff != 0 {
		return false
	}
	return true
}

// Parse decodes one record at the cursor position.
func (IndexFormat) Parse(c *cursor.Cursor) (carve.RawRecord, error) {
	start := c.Position()
	r, err := readIndexRecord(c)
	if err != nil {
		return carve.RawRecord{}, err
	}
	payload, _ := c.Span(start, c.Position())
	return carve.RawRecord{
		Kind:     uint32(r.ContentType),
		Payload:  payload,
		Validity: carve.Valid,
	}, nil
}
