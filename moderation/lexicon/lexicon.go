// Package lexicon defines versioned term lexicons and the boundary-safe
// matcher built from them. A lexicon snapshot is the guaranteed-correct
// matching path: every other matcher in the engine (hot triggers, vector
// retrieval, language packs) is an optimization or enrichment over it.
package lexicon

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

const (
	ActionBlock  = "BLOCK"
	ActionReview = "REVIEW"

	StatusActive     = "active"
	StatusDeprecated = "deprecated"
)

// Entries with malformed or missing timestamps normalize to this default.
const DefaultMetadataTimestamp = "1970-01-01T00:00:00+00:00"

var reasonCodePattern = regexp.MustCompile(`^R_[A-Z0-9_]+$`)

// Entry is one active term of a lexicon release. Immutable within a version.
type Entry struct {
	Term       string `json:"term"`
	Action     string `json:"action"`
	Label      string `json:"label"`
	ReasonCode string `json:"reason_code"`
	Severity   int    `json:"severity"`
	Lang       string `json:"lang"`
	FirstSeen  string `json:"first_seen,omitempty"`
	LastSeen   string `json:"last_seen,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Snapshot is the ordered set of active entries for one lexicon version.
type Snapshot struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Repository loads the currently-active lexicon release. Implementations
// must return an error if there is no active release, or if the active
// release has zero active entries.
type Repository interface {
	FetchActive(ctx context.Context) (*Snapshot, error)
}

// Validate checks a single entry for the fields matching requires. Malformed
// entries fail loading outright rather than being skipped into production.
func (e *Entry) Validate() error {
	if e.Term == "" {
		return fmt.Errorf("empty term")
	}
	if e.Action != ActionBlock && e.Action != ActionReview {
		return fmt.Errorf("invalid action: %q", e.Action)
	}
	if e.Label == "" {
		return fmt.Errorf("empty label")
	}
	if !reasonCodePattern.MatchString(e.ReasonCode) {
		return fmt.Errorf("invalid reason code: %q", e.ReasonCode)
	}
	if e.Severity < 1 || e.Severity > 3 {
		return fmt.Errorf("severity out of range: %d", e.Severity)
	}
	if e.Lang == "" {
		return fmt.Errorf("empty lang")
	}
	return nil
}

// NormalizeTimestamp returns a valid RFC 3339 timestamp, mapping empty or
// unparseable values to the metadata default (legacy seed rows carry none).
func NormalizeTimestamp(value string) string {
	if value == "" {
		return DefaultMetadataTimestamp
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return DefaultMetadataTimestamp
	}
	return value
}

// NormalizeStatus maps unknown statuses to active (legacy rows predate the
// status column).
func NormalizeStatus(value string) string {
	if value == StatusDeprecated {
		return StatusDeprecated
	}
	return StatusActive
}
