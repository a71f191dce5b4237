// Package carve reconstructs structured records from byte streams that may
// be partially deleted, truncated, or otherwise damaged. It is the core of
// this module's forensic recovery path: the surrounding file structure is
// never required to be intact, only individual records need to prove
// themselves.
//
// # Model
//
// A Format describes one record syntax: a cheap Probe that recognizes a
// plausible record start, and a Parse that decodes a full record and
// reports how trustworthy it is. The Carver drives a Format across a
// stream with a tolerant linear scan:
//
//   - Seeking: advance until Probe matches.
//   - Parsing: attempt a full Parse at the candidate position.
//   - Resyncing: on rejection, advance one byte and seek again.
//
// Bytes that never parse are not dropped; they are emitted as Skipped
// records so that every byte of the stream is attributed to exactly one
// record. Consumers can therefore account for the entire input: the sum of
// record lengths equals the stream length.
//
// # Validity
//
// Parsing never aborts the scan. Damage local to a record is absorbed into
// its Validity (Truncated, ChecksumMismatch), and damage between records
// becomes Skipped spans. The only way the scan ends is running out of
// input, and forward progress of at least one byte per step makes that a
// linear-time guarantee.
//
// # Resynchronization bound
//
// After a failed candidate the scanner retries at every following byte.
// Options.MaxResync caps how large a single damaged region may grow before
// it is emitted and scanning restarts fresh; the default is 64 KiB. The
// bound is a tuning parameter, not a format constant, and callers
// processing unusual artifacts may need to raise it.
//
// # Usage
//
//	format := carve.LengthPrefix{Marker: []byte("REC"), Checksum: true, MaxLen: 1 << 20}
//	carver := carve.New(format, carve.Options{})
//
//	it := carver.Iter(stream)
//	for it.Next() {
//	    rec := it.Record()
//	    // rec.Offset, rec.Validity, rec.Payload ...
//	}
//
// Formats for Mozilla-specific record syntaxes live in the sclone and
// cachemeta packages.
package carve
