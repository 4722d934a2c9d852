// Package anchor turns a live selection into a serialisable locator and a
// locator back into a selection.
//
// Plain documents use character offsets over the flattened text of the
// content container. Markup documents use node paths from the document
// root plus the selected text, which resolution verifies.
package anchor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/liseuse/content"
)

// LocatorType discriminates the two locator variants.
type LocatorType string

const (
	TxtOffset LocatorType = "txt-offset"
	NodePath  LocatorType = "node-path"
)

var (
	ErrNoContainer      = errors.New("anchor: content container unavailable")
	ErrEmptySelection   = errors.New("anchor: empty selection")
	ErrOutsideContainer = errors.New("anchor: selection outside the content container")
	ErrInvalidLocator   = errors.New("anchor: invalid locator")

	// Resolution misses: the target is not (yet) in the rendered document.
	ErrOffsetOutOfRange = errors.New("anchor: offset beyond rendered text")
	ErrPathNotFound     = errors.New("anchor: node path not found")
	// Drift: the nodes exist but hold different text than when captured.
	ErrTextMismatch = errors.New("anchor: selected text mismatch")
)

// LocatorTypeFor returns the locator variant used for a content type.
func LocatorTypeFor(t content.Type) LocatorType {
	if t == content.Markdown {
		return NodePath
	}
	return TxtOffset
}

// Locator is the serialised form of a range.
type Locator struct {
	Type         LocatorType `json:"type"`
	StartOffset  int         `json:"startOffset"`
	EndOffset    int         `json:"endOffset"`
	StartPath    Path        `json:"startPath,omitempty"`
	EndPath      Path        `json:"endPath,omitempty"`
	SelectedText string      `json:"selectedText,omitempty"`
}

// Validate checks the locator is well formed for its variant.
func (l *Locator) Validate() error {
	if l == nil {
		return fmt.Errorf("%w: nil", ErrInvalidLocator)
	}
	if l.StartOffset < 0 || l.EndOffset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidLocator)
	}
	switch l.Type {
	case TxtOffset:
		if l.EndOffset < l.StartOffset {
			return fmt.Errorf("%w: end %d before start %d", ErrInvalidLocator, l.EndOffset, l.StartOffset)
		}
	case NodePath:
		if len(l.StartPath) == 0 || len(l.EndPath) == 0 {
			return fmt.Errorf("%w: missing node path", ErrInvalidLocator)
		}
		if l.SelectedText == "" {
			return fmt.Errorf("%w: missing selected text", ErrInvalidLocator)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidLocator, l.Type)
	}
	return nil
}

// UnmarshalJSON also reads the older stored shape, where the variants were
// named "txt-char-offset" / "md-html" and paths were kept under
// startNodePath / endNodePath.
func (l *Locator) UnmarshalJSON(data []byte) error {
	type plain Locator
	var aux struct {
		plain
		StartNodePath *Path `json:"startNodePath"`
		EndNodePath   *Path `json:"endNodePath"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = Locator(aux.plain)
	switch l.Type {
	case "txt-char-offset":
		l.Type = TxtOffset
	case "md-html":
		l.Type = NodePath
	}
	if len(l.StartPath) == 0 && aux.StartNodePath != nil {
		l.StartPath = *aux.StartNodePath
	}
	if len(l.EndPath) == 0 && aux.EndNodePath != nil {
		l.EndPath = *aux.EndNodePath
	}
	return nil
}
