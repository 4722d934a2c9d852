package dom

import (
	"slices"

	"golang.org/x/net/html"
)

// SplitText cuts n at offset characters. n keeps the head; the returned
// node holds the tail and follows n.
func SplitText(n *html.Node, offset int) *html.Node {
	tail := &html.Node{Type: n.Type, Data: runeSlice(n.Data, offset, -1)}
	n.Data = runeSlice(n.Data, 0, offset)
	if n.Parent != nil {
		n.Parent.InsertBefore(tail, n.NextSibling)
	}
	return tail
}

// Normalize merges adjacent text nodes and drops empty ones below n.
func Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				after := next.NextSibling
				n.RemoveChild(next)
				next = after
			}
			if c.Data == "" {
				n.RemoveChild(c)
			}
		case html.ElementNode:
			Normalize(c)
		}
		c = next
	}
}

// Unwrap replaces n by its children.
func Unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for n.FirstChild != nil {
		c := n.FirstChild
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

// Rejoin merges split clones (see SplitAttr) below n back into the
// originals they were cut from, when the two are siblings again. Start
// clones are folded into their previous sibling first, then end clones into
// their next one, so runs of clones of clones collapse into one element.
// Clones whose original is not adjacent are left as they are.
func Rejoin(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if Attr(c, SplitAttr) == SplitStart && sameElement(c.PrevSibling, c) {
			moveChildren(c, c.PrevSibling)
			n.RemoveChild(c)
		}
		c = next
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if Attr(c, SplitAttr) == SplitEnd && sameElement(c, next) {
			for c.LastChild != nil {
				last := c.LastChild
				c.RemoveChild(last)
				next.InsertBefore(last, next.FirstChild)
			}
			n.RemoveChild(c)
		}
		c = next
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			Rejoin(c)
		}
	}
}

// sameElement reports whether b is a split clone of a, or a of b: same
// element, same attributes apart from SplitAttr.
func sameElement(a, b *html.Node) bool {
	if a == nil || b == nil || a.Type != html.ElementNode || b.Type != html.ElementNode {
		return false
	}
	if a.Data != b.Data || a.Namespace != b.Namespace {
		return false
	}
	strip := func(attrs []html.Attribute) []html.Attribute {
		return slices.DeleteFunc(slices.Clone(attrs), func(at html.Attribute) bool {
			return at.Namespace == "" && at.Key == SplitAttr
		})
	}
	return slices.Equal(strip(a.Attr), strip(b.Attr))
}
