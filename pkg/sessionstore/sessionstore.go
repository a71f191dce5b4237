// Package sessionstore extracts per-site session storage entries from
// Firefox sessionstore files (sessionstore.jsonlz4 and the rotating
// copies under sessionstore-backups). The file is a mozLz4-compressed
// JSON document; storage entries hang off each tab, including tabs the
// user already closed.
package sessionstore

import (
	"encoding/json"
	"fmt"

	"github.com/nkivell/mozcarve/pkg/mozlz4"
)

// Record is one session storage entry with the tab state it came from.
type Record struct {
	Host      string
	Key       string
	Value     string
	ClosedTab bool
}

type tabState struct {
	Storage map[string]map[string]string `json:"storage"`
}

type sessionWindow struct {
	Tabs       []tabState `json:"tabs"`
	ClosedTabs []struct {
		State tabState `json:"state"`
	} `json:"_closedTabs"`
}

type sessionFile struct {
	Windows []sessionWindow `json:"windows"`
}

// ParseRecords walks a decompressed sessionstore JSON document and
// returns every session storage entry, open tabs before closed ones
// within each window.
func ParseRecords(data []byte) ([]Record, error) {
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing sessionstore document: %w", err)
	}

	var records []Record
	for _, window := range doc.Windows {
		for _, tab := range window.Tabs {
			records = append(records, tabRecords(tab, false)...)
		}
		for _, closed := range window.ClosedTabs {
			records = append(records, tabRecords(closed.State, true)...)
		}
	}
	return records, nil
}

func tabRecords(tab tabState, closed bool) []Record {
	var records []Record
	for host, entries := range tab.Storage {
		for key, value := range entries {
			records = append(records, Record{
				Host:      host,
				Key:       key,
				Value:     value,
				ClosedTab: closed,
			})
		}
	}
	return records
}

// ParseFile decompresses a raw sessionstore.jsonlz4 image and extracts
// its records. A truncated container is not fatal as long as the JSON
// that survived still parses.
func ParseFile(buf []byte) ([]Record, mozlz4.Flag, error) {
	data, flag, err := mozlz4.Decompress(buf)
	if err != nil {
		return nil, flag, err
	}
	records, err := ParseRecords(data)
	return records, flag, err
}
