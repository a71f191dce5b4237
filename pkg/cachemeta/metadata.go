package cachemeta

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nkivell/mozcarve/pkg/cursor"
)

// ChunkSize is the fixed cache entry chunk size. The chunk hash table in
// the metadata block has one entry per chunk of content data.
const ChunkSize = 256 * 1024

// ErrMetadataVersion is returned when the entry metadata block declares a
// layout version this package does not read.
var ErrMetadataVersion = errors.New("unsupported cache entry metadata version")

// EntryMetadata is the metadata block at the tail of a cache entry file.
// Elements holds the NUL-delimited key/value pairs following the cache
// key, which is where the response head and security info live.
type EntryMetadata struct {
	Hash         uint32
	ChunkHashes  []uint16
	Version      uint32
	FetchCount   uint32
	LastFetched  time.Time
	LastModified time.Time
	Frecency     float32
	Expiration   time.Time
	Flags        uint32
	Key          string
	Elements     map[string]string

	// DataSize is the length of the content data preceding the
	// metadata block, taken from the trailing offset word.
	DataSize int
}

// entryMetadataVersion is the only layout this package reads. Versions 1
// and 2 differ in field widths and have not shipped for years.
const entryMetadataVersion = 3

// IsPinned reports the one defined bit in the entry flags word.
func (m *EntryMetadata) IsPinned() bool { return m.Flags&0x1 != 0 }

// ParseEntryMetadata reads the metadata block out of a complete cache
// entry file image. The last four bytes of the file give the offset where
// the block starts; everything before it is content data.
func ParseEntryMetadata(buf []byte) (*EntryMetadata, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("cache entry file too short: %d bytes", len(buf))
	}
	offset := int(uint32(buf[len(buf)-4])<<24 | uint32(buf[len(buf)-3])<<16 |
		uint32(buf[len(buf)-2])<<8 | uint32(buf[len(buf)-1]))
	if offset > len(buf)-4 {
		return nil, fmt.Errorf("cache entry metadata offset %d beyond file end %d", offset, len(buf)-4)
	}

	chunkCount := (offset + ChunkSize - 1) / ChunkSize

	c := cursor.New(buf[offset : len(buf)-4])
	m := &EntryMetadata{DataSize: offset}

	var err error
	if m.Hash, err = c.ReadUint32BE(); err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	m.ChunkHashes = make([]uint16, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		h, err := c.ReadUint16BE()
		if err != nil {
			return nil, fmt.Errorf("cache entry chunk hash %d: %w", i, err)
		}
		m.ChunkHashes = append(m.ChunkHashes, h)
	}
	if m.Version, err = c.ReadUint32BE(); err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	if m.Version != entryMetadataVersion {
		return m, fmt.Errorf("%w: %d", ErrMetadataVersion, m.Version)
	}
	if m.FetchCount, err = c.ReadUint32BE(); err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	lastFetched, err := c.ReadUint32BE()
	if err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	m.LastFetched = time.Unix(int64(lastFetched), 0).UTC()
	lastModified, err := c.ReadUint32BE()
	if err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	m.LastModified = time.Unix(int64(lastModified), 0).UTC()
	frecency, err := c.ReadUint32BE()
	if err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	m.Frecency = math.Float32frombits(frecency)
	expiration, err := c.ReadUint32BE()
	if err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	m.Expiration = time.Unix(int64(expiration), 0).UTC()

	keySize, err := c.ReadUint32BE()
	if err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	if m.Flags, err = c.ReadUint32BE(); err != nil {
		return nil, fmt.Errorf("cache entry metadata: %w", err)
	}
	// keySize excludes the NUL terminator.
	key, err := c.Read(int(keySize) + 1)
	if err != nil {
		return nil, fmt.Errorf("cache entry key: %w", err)
	}
	if key[len(key)-1] != 0 {
		return m, fmt.Errorf("cache entry key not NUL-terminated")
	}
	m.Key = string(key[:len(key)-1])

	m.Elements, err = parseElements(c.Rest())
	if err != nil {
		return m, err
	}
	return m, nil
}

// parseElements decodes the alternating NUL-terminated key/value strings
// that fill the rest of the metadata block. Keys are lowercased: element
// names are case-insensitive and writers have not been consistent.
func parseElements(buf []byte) (map[string]string, error) {
	elements := map[string]string{}
	if len(buf) == 0 {
		return elements, nil
	}
	if buf[len(buf)-1] != 0 {
		return elements, fmt.Errorf("cache entry elements not NUL-terminated")
	}
	parts := bytes.Split(buf[:len(buf)-1], []byte{0})
	if len(parts)%2 != 0 {
		return elements, fmt.Errorf("cache entry elements: odd string count %d", len(parts))
	}
	for i := 0; i < len(parts); i += 2 {
		elements[strings.ToLower(string(parts[i]))] = string(parts[i+1])
	}
	return elements, nil
}

// MetadataV2 is a quota storage .metadata-v2 file: the origin directory
// sidecar recording who owns the directory and when it was created.
type MetadataV2 struct {
	Timestamp time.Time
	Persisted bool
	Suffix    string
	Group     string
	Origin    string
	IsApp     bool
}

// ParseMetadataV2 reads a .metadata-v2 file image.
func ParseMetadataV2(buf []byte) (*MetadataV2, error) {
	c := cursor.New(buf)
	m := &MetadataV2{}

	micros, err := c.ReadUint64BE()
	if err != nil {
		return nil, fmt.Errorf("metadata-v2 timestamp: %w", err)
	}
	m.Timestamp = time.UnixMicro(int64(micros)).UTC()

	persisted, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("metadata-v2 persisted flag: %w", err)
	}
	m.Persisted = persisted != 0

	// Reserved bytes.
	if err := c.Skip(8); err != nil {
		return nil, fmt.Errorf("metadata-v2 reserved bytes: %w", err)
	}

	if m.Suffix, err = readPrefixedString(c); err != nil {
		return nil, fmt.Errorf("metadata-v2 suffix: %w", err)
	}
	if m.Group, err = readPrefixedString(c); err != nil {
		return nil, fmt.Errorf("metadata-v2 group: %w", err)
	}
	if m.Origin, err = readPrefixedString(c); err != nil {
		return nil, fmt.Errorf("metadata-v2 origin: %w", err)
	}

	// Older writers end the file here.
	if c.Remaining() > 0 {
		isApp, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		m.IsApp = isApp != 0
	}
	return m, nil
}

func readPrefixedString(c *cursor.Cursor) (string, error) {
	n, err := c.ReadUint32BE()
	if err != nil {
		return "", err
	}
	b, err := c.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
