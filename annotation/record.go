// Package annotation keeps the annotations of the active document and
// persists them, one stored list per document, in a kv.Store.
package annotation

import (
	"regexp"
	"time"

	"github.com/hazyhaar/liseuse/anchor"
)

// Kind is the annotation flavour.
type Kind string

const (
	Highlight Kind = "highlight"
	Note      Kind = "note"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == Highlight || k == Note }

// DefaultColor is the marker colour used when a record does not carry one.
func DefaultColor(k Kind) string {
	if k == Note {
		return "lightblue"
	}
	return "yellow"
}

// Record is one stored annotation. Field names match the stored JSON of
// earlier releases.
type Record struct {
	ID           string          `json:"id"`
	DocumentKey  string          `json:"documentKey,omitempty"`
	Kind         Kind            `json:"type"`
	Color        string          `json:"color,omitempty"`
	SelectedText string          `json:"text"`
	Comment      string          `json:"comment,omitempty"`
	Locator      *anchor.Locator `json:"rangeData"`
	Timestamp    time.Time       `json:"timestamp"`
}

// KeyPrefix starts every per-document storage key.
const KeyPrefix = "liseuse_annotations_"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9\-_]`)

// StorageKey returns the kv key holding the list of document key.
func StorageKey(document string) string {
	return KeyPrefix + unsafeKeyChars.ReplaceAllString(document, "_")
}
