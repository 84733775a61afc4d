// Package dedupe builds and queries the fingerprint set used to keep the
// event ledger free of duplicate rows. A fingerprint is the event title plus
// its day-precision date; matching is exact string equality after date
// normalization. Two genuinely different events sharing a title and day
// collapse into one — a known precision limit, kept on purpose.
package dedupe

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/eventscout/internal/models"
)

const dayFormat = "2006-01-02"

// Layouts accepted when normalizing stored or extracted dates.
var dateLayouts = []string{
	dayFormat,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// NormalizeDate reduces a date string to day precision (YYYY-MM-DD).
// Timestamps keep only their date portion.
func NormalizeDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format(dayFormat), nil
		}
	}
	return "", errors.Errorf("unparseable date %q", raw)
}

// Fingerprint derives the dedup key for a title and an already-normalized
// day-precision date.
func Fingerprint(title, normalizedDate string) string {
	return title + "|" + normalizedDate
}

// Index is the set of fingerprints present in the ledger at the start of a
// run, extended in memory as the run appends rows. Not safe for concurrent
// use; a run is single-threaded.
type Index struct {
	seen map[string]struct{}
}

// Build creates an Index from existing rows. Rows whose dates do not
// normalize keep their raw date as the fingerprint key, matching the
// original ledger's string-compare behavior. Duplicate fingerprints already
// in the store are tolerated silently.
func Build(existing []models.Event) *Index {
	idx := &Index{seen: make(map[string]struct{}, len(existing))}
	for _, ev := range existing {
		day, err := NormalizeDate(ev.Date)
		if err != nil {
			day = strings.TrimSpace(ev.Date)
		}
		idx.seen[Fingerprint(ev.Title, day)] = struct{}{}
	}
	return idx
}

// Contains reports whether a fingerprint is already present.
func (i *Index) Contains(fingerprint string) bool {
	_, ok := i.seen[fingerprint]
	return ok
}

// Add registers a fingerprint appended earlier in the same run, so duplicate
// announcements arriving in one batch produce a single row.
func (i *Index) Add(fingerprint string) {
	i.seen[fingerprint] = struct{}{}
}

// Len returns the number of distinct fingerprints.
func (i *Index) Len() int {
	return len(i.seen)
}
