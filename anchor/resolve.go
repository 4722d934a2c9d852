package anchor

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liseuse/dom"
)

// Document is what resolution reads: the document root for node paths and
// the content container for offsets. *dom.Page satisfies it.
type Document interface {
	Root() *html.Node
	Content() *html.Node
}

// Resolve rebuilds the range loc describes in doc. It either returns a
// usable range or an error; it never returns a partial range.
func Resolve(loc *Locator, doc Document) (*dom.Range, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	switch loc.Type {
	case TxtOffset:
		return ResolveOffsets(doc.Content(), loc.StartOffset, loc.EndOffset)
	default:
		return resolvePaths(loc, doc.Root())
	}
}

// ResolveOffsets maps [start, end) over the flattened text of container to
// a range. Each offset lands in the first text node whose span contains it.
func ResolveOffsets(container *html.Node, start, end int) (*dom.Range, error) {
	if container == nil {
		return nil, ErrNoContainer
	}
	nodes := dom.TextNodes(container)
	sn, so, ok := locate(nodes, start)
	if !ok {
		return nil, fmt.Errorf("%w: start %d", ErrOffsetOutOfRange, start)
	}
	en, eo, ok := locate(nodes, end)
	if !ok {
		return nil, fmt.Errorf("%w: end %d", ErrOffsetOutOfRange, end)
	}
	r, err := dom.NewRange(sn, so, en, eo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffsetOutOfRange, err)
	}
	return r, nil
}

func locate(nodes []*html.Node, target int) (*html.Node, int, bool) {
	running := 0
	for _, n := range nodes {
		l := dom.RuneLen(n.Data)
		if target >= running && target <= running+l {
			return n, target - running, true
		}
		running += l
	}
	return nil, 0, false
}

func resolvePaths(loc *Locator, root *html.Node) (*dom.Range, error) {
	if root == nil {
		return nil, ErrNoContainer
	}
	sn, err := ResolvePath(root, loc.StartPath)
	if err != nil {
		return nil, err
	}
	en, err := ResolvePath(root, loc.EndPath)
	if err != nil {
		return nil, err
	}
	r, err := dom.NewRange(sn, loc.StartOffset, en, loc.EndOffset)
	if err != nil {
		if errors.Is(err, dom.ErrIndexSize) {
			return nil, fmt.Errorf("%w: %v", ErrOffsetOutOfRange, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTextMismatch, err)
	}
	if got := strings.TrimSpace(r.String()); got != loc.SelectedText {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrTextMismatch, truncate(got, 40), truncate(loc.SelectedText, 40))
	}
	return r, nil
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
