package artifact

import "github.com/nkivell/mozcarve/pkg/carve"

// Report is the per-run recovery summary: what the container was, how
// intact it was, and how the carved bytes broke down by validity.
type Report struct {
	RunID     string
	Container ContainerKind
	Integrity Integrity
	Format    string

	SourceBytes int
	StreamBytes int

	Records          int // all records, skipped spans included
	Valid            int
	Truncated        int
	ChecksumMismatch int
	Skipped          int

	// RecoveredBytes counts stream bytes attributed to parseable
	// records; SkippedBytes counts the rest. Together they equal
	// StreamBytes.
	RecoveredBytes int
	SkippedBytes   int
}

// Report carves the whole stream and tallies the outcome.
func (r *Recovery) Report() Report {
	rep := Report{
		RunID:       r.ID.String(),
		Container:   r.Container,
		Integrity:   r.Integrity,
		Format:      r.format.Name(),
		SourceBytes: len(r.Source),
		StreamBytes: len(r.Stream),
	}
	it := r.Envelopes()
	for it.Next() {
		record := it.Envelope().Record
		rep.Records++
		switch record.Validity {
		case carve.Valid:
			rep.Valid++
		case carve.Truncated:
			rep.Truncated++
		case carve.ChecksumMismatch:
			rep.ChecksumMismatch++
		case carve.Skipped:
			rep.Skipped++
		}
		if record.Validity == carve.Skipped {
			rep.SkippedBytes += record.Length
		} else {
			rep.RecoveredBytes += record.Length
		}
	}
	return rep
}
