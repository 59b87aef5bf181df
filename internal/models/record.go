package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PollutionMarker flags debug records injected by backend test runs.
// Matching is a case-insensitive substring check on the record label.
const PollutionMarker = "test_insert"

// Terminal labels emitted by the research executor when a task finishes.
const (
	LabelDone  = "research_done"
	LabelReady = "research_ready"
)

// Source is one cited reference attached to a progress record.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ProgressRecord is one unit of task progress reported by the research
// backend. Records are immutable once observed except for the locally
// derived Settled flag.
type ProgressRecord struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	OwnerID   string    `json:"owner_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []Source  `json:"sources"`
	// Settled is derived locally: true once superseded by a newer record
	// or once the label is terminal. Never sent by the server.
	Settled bool `json:"settled,omitempty"`
}

// IsPollution reports whether a label matches the debug test-pollution pattern.
func IsPollution(label string) bool {
	return strings.Contains(strings.ToLower(label), PollutionMarker)
}

// IsTerminal reports whether a label marks the end of a task.
func IsTerminal(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case LabelDone, LabelReady:
		return true
	}
	return false
}

// rawRecord is the wire shape before validation. Sources arrives as raw JSON
// because the backend has been observed to send null, a string, or an object
// where an array is expected.
type rawRecord struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	OwnerID   string          `json:"owner_id"`
	Label     string          `json:"label"`
	CreatedAt time.Time       `json:"created_at"`
	Sources   json.RawMessage `json:"sources"`
}

// DecodeRecord validates and normalizes one remote payload into a typed
// ProgressRecord. Malformed sources are coerced to an empty list; a missing
// id or task id is a hard error so partially-trusted shapes never travel
// deeper into the pipeline.
func DecodeRecord(raw json.RawMessage) (ProgressRecord, error) {
	var r rawRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return ProgressRecord{}, fmt.Errorf("malformed progress record: %w", err)
	}
	if r.ID == "" {
		return ProgressRecord{}, fmt.Errorf("malformed progress record: missing id")
	}
	if r.TaskID == "" {
		return ProgressRecord{}, fmt.Errorf("malformed progress record %s: missing task_id", r.ID)
	}

	return ProgressRecord{
		ID:        r.ID,
		TaskID:    r.TaskID,
		OwnerID:   r.OwnerID,
		Label:     r.Label,
		CreatedAt: r.CreatedAt,
		Sources:   decodeSources(r.Sources),
	}, nil
}

// decodeSources coerces the sources field to a well-formed list. Anything
// that is not an array of {url,title} objects becomes an empty list.
func decodeSources(raw json.RawMessage) []Source {
	if len(raw) == 0 {
		return []Source{}
	}
	var sources []Source
	if err := json.Unmarshal(raw, &sources); err != nil {
		return []Source{}
	}
	if sources == nil {
		return []Source{}
	}
	return sources
}
