// Package highlight wraps ranges of a page in marker elements and removes
// them again, leaving the page as it was before the markers were applied.
package highlight

import (
	"errors"
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liseuse/dom"
)

const (
	MarkerClass = "highlighted-text"
	NoteClass   = "annotated-text"
	IDAttr      = "data-note-id"
)

var (
	ErrCollapsed = errors.New("highlight: collapsed range")
	ErrWrap      = errors.New("highlight: cannot wrap range")
)

// Marker describes the element wrapped around an annotated range.
type Marker struct {
	ID      string
	Color   string
	Note    bool
	Comment string
}

// Element builds the marker span.
func (m Marker) Element() *html.Node {
	class := MarkerClass
	if m.Note {
		class += " " + NoteClass
	}
	attrs := []html.Attribute{
		{Key: "class", Val: class},
		{Key: IDAttr, Val: m.ID},
	}
	if m.Color != "" {
		attrs = append(attrs, html.Attribute{Key: "style", Val: "background-color: " + m.Color})
	}
	if m.Note && m.Comment != "" {
		attrs = append(attrs, html.Attribute{Key: "title", Val: m.Comment})
	}
	return dom.NewElement("span", attrs...)
}

// Apply wraps r in a marker built from m and returns it. A range inside a
// single text node is surrounded directly; anything wider is extracted,
// wrapped and put back, so elements it crosses are split (see dom.Rejoin).
func Apply(r *dom.Range, m Marker) (span *html.Node, err error) {
	if r == nil || r.Collapsed() || r.String() == "" {
		return nil, ErrCollapsed
	}
	defer func() {
		if p := recover(); p != nil {
			span, err = nil, fmt.Errorf("%w: %v", ErrWrap, p)
		}
	}()

	r.Tighten()
	span = m.Element()
	if r.StartContainer == r.EndContainer && r.StartContainer.Type == html.TextNode {
		if err := r.SurroundContents(span); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWrap, err)
		}
		return span, nil
	}

	frag, err := r.ExtractContents()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrap, err)
	}
	for frag.FirstChild != nil {
		c := frag.FirstChild
		frag.RemoveChild(c)
		span.AppendChild(c)
	}
	if err := r.InsertNode(span); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrap, err)
	}
	return span, nil
}

// IsMarker reports whether n is a marker element.
func IsMarker(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == "span" && dom.HasClass(n, MarkerClass)
}

// Find returns the markers below root carrying id, or every marker when id
// is empty, in document order.
func Find(root *html.Node, id string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if IsMarker(c) && (id == "" || dom.Attr(c, IDAttr) == id) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Count returns the number of markers below root.
func Count(root *html.Node) int { return len(Find(root, "")) }

// Clear removes every marker below root and restores the split elements and
// text nodes. It returns the number of markers removed.
func Clear(root *html.Node) int {
	return unwrapAll(root, Find(root, ""))
}

// Remove removes the markers of one annotation.
func Remove(root *html.Node, id string) int {
	if id == "" {
		return 0
	}
	return unwrapAll(root, Find(root, id))
}

func unwrapAll(root *html.Node, markers []*html.Node) int {
	if len(markers) == 0 {
		return 0
	}
	// Innermost first so nested markers unwrap into their parents.
	for i := len(markers) - 1; i >= 0; i-- {
		dom.Unwrap(markers[i])
	}
	dom.Normalize(root)
	dom.Rejoin(root)
	dom.Normalize(root)
	return len(markers)
}
