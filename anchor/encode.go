package anchor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dom"
)

// Encode captures r as a locator of the variant matching t. container is
// the content container; plain locators count offsets from its start.
func Encode(r *dom.Range, t content.Type, container *html.Node) (*Locator, error) {
	if r == nil || r.Collapsed() {
		return nil, ErrEmptySelection
	}
	if LocatorTypeFor(t) == TxtOffset {
		return encodeOffsets(r, container)
	}
	return encodePaths(r)
}

func encodeOffsets(r *dom.Range, container *html.Node) (*Locator, error) {
	start, end, err := FlatOffsets(r, container)
	if err != nil {
		return nil, err
	}
	return &Locator{
		Type:         TxtOffset,
		StartOffset:  start,
		EndOffset:    end,
		SelectedText: r.String(),
	}, nil
}

// FlatOffsets returns the character offsets of r within the flattened text
// of container. ResolveOffsets is its inverse.
func FlatOffsets(r *dom.Range, container *html.Node) (start, end int, err error) {
	if container == nil {
		return 0, 0, ErrNoContainer
	}
	if !dom.Contains(container, r.StartContainer) || !dom.Contains(container, r.EndContainer) {
		return 0, 0, ErrOutsideContainer
	}
	prefix, err := dom.NewRange(container, 0, r.StartContainer, r.StartOffset)
	if err != nil {
		return 0, 0, fmt.Errorf("anchor: offsets: %w", err)
	}
	start = dom.RuneLen(prefix.String())
	return start, start + dom.RuneLen(r.String()), nil
}

func encodePaths(r *dom.Range) (*Locator, error) {
	selected := strings.TrimSpace(r.String())
	if selected == "" {
		return nil, ErrEmptySelection
	}
	return &Locator{
		Type:         NodePath,
		StartPath:    PathTo(r.StartContainer),
		StartOffset:  r.StartOffset,
		EndPath:      PathTo(r.EndContainer),
		EndOffset:    r.EndOffset,
		SelectedText: selected,
	}, nil
}
