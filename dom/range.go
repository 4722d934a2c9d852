package dom

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// SplitAttr marks an element cloned by ExtractContents because the range
// selected only part of it. Its value is "start" (the clone continues the
// preceding original) or "end" (the clone precedes the following original).
const SplitAttr = "data-split"

const (
	SplitStart = "start"
	SplitEnd   = "end"
)

var (
	ErrIndexSize      = errors.New("dom: offset out of range")
	ErrInvertedRange  = errors.New("dom: range end precedes start")
	ErrWrongDocument  = errors.New("dom: range boundaries in different trees")
	ErrHierarchy      = errors.New("dom: invalid insertion point")
	ErrPartialElement = errors.New("dom: range partially selects a non-text node")
)

// Range is a pair of boundary points. Offsets count characters inside text
// nodes and children inside other nodes.
type Range struct {
	StartContainer *html.Node
	StartOffset    int
	EndContainer   *html.Node
	EndOffset      int
}

// NewRange validates the boundaries and returns the range.
func NewRange(sc *html.Node, so int, ec *html.Node, eo int) (*Range, error) {
	if sc == nil || ec == nil {
		return nil, fmt.Errorf("%w: nil boundary", ErrIndexSize)
	}
	if so < 0 || so > NodeLength(sc) {
		return nil, fmt.Errorf("%w: start %d of %d", ErrIndexSize, so, NodeLength(sc))
	}
	if eo < 0 || eo > NodeLength(ec) {
		return nil, fmt.Errorf("%w: end %d of %d", ErrIndexSize, eo, NodeLength(ec))
	}
	if RootOf(sc) != RootOf(ec) {
		return nil, ErrWrongDocument
	}
	if comparePoints(sc, so, ec, eo) > 0 {
		return nil, ErrInvertedRange
	}
	return &Range{StartContainer: sc, StartOffset: so, EndContainer: ec, EndOffset: eo}, nil
}

// Collapsed reports whether start and end are the same point.
func (r *Range) Collapsed() bool {
	return r.StartContainer == r.EndContainer && r.StartOffset == r.EndOffset
}

// CommonAncestor is the deepest node containing both boundaries.
func (r *Range) CommonAncestor() *html.Node {
	for a := r.StartContainer; a != nil; a = a.Parent {
		if Contains(a, r.EndContainer) {
			return a
		}
	}
	return nil
}

// String concatenates the selected characters of every text node the range
// covers, in document order.
func (r *Range) String() string {
	var sb strings.Builder
	for _, t := range TextNodes(r.CommonAncestor()) {
		from, to := 0, RuneLen(t.Data)
		if t == r.StartContainer {
			from = r.StartOffset
		} else if comparePoints(t, 0, r.StartContainer, r.StartOffset) < 0 {
			continue
		}
		if t == r.EndContainer {
			to = r.EndOffset
		} else if comparePoints(t, 0, r.EndContainer, r.EndOffset) >= 0 {
			continue
		}
		if from < to {
			sb.WriteString(runeSlice(t.Data, from, to))
		}
	}
	return sb.String()
}

// ExtractContents moves the selected content into a new fragment (a
// document node) and collapses the range where the content was. Elements
// the range only partly selects stay in place holding their unselected
// part; a shallow clone marked with SplitAttr carries the selected part.
// No clone is made for an element the range selects nothing of.
func (r *Range) ExtractContents() (*html.Node, error) {
	frag := &html.Node{Type: html.DocumentNode}
	if r.Collapsed() {
		return frag, nil
	}
	sc, so, ec, eo := r.StartContainer, r.StartOffset, r.EndContainer, r.EndOffset

	if sc == ec && isCharData(sc) {
		clone := cloneShallow(sc)
		clone.Data = runeSlice(sc.Data, so, eo)
		frag.AppendChild(clone)
		sc.Data = runeSlice(sc.Data, 0, so) + runeSlice(sc.Data, eo, -1)
		r.EndContainer, r.EndOffset = sc, so
		return frag, nil
	}

	ca := r.CommonAncestor()
	if ca == nil {
		return nil, ErrWrongDocument
	}

	var firstPartial, lastPartial *html.Node
	if !Contains(sc, ec) {
		firstPartial = childContaining(ca, sc)
	}
	if !Contains(ec, sc) {
		lastPartial = childContaining(ca, ec)
	}
	var contained []*html.Node
	for c := ca.FirstChild; c != nil; c = c.NextSibling {
		if r.contains(c) {
			contained = append(contained, c)
		}
	}

	newNode, newOffset := sc, so
	if !Contains(sc, ec) {
		ref := sc
		for ref.Parent != nil && !Contains(ref.Parent, ec) {
			ref = ref.Parent
		}
		newNode, newOffset = ref.Parent, ChildIndex(ref)+1
	}

	if firstPartial != nil {
		if isCharData(firstPartial) {
			if tail := runeSlice(sc.Data, so, -1); tail != "" {
				clone := cloneShallow(sc)
				clone.Data = tail
				frag.AppendChild(clone)
			}
			sc.Data = runeSlice(sc.Data, 0, so)
		} else {
			sub := &Range{StartContainer: sc, StartOffset: so, EndContainer: firstPartial, EndOffset: NodeLength(firstPartial)}
			subfrag, err := sub.ExtractContents()
			if err != nil {
				return nil, err
			}
			if subfrag.FirstChild != nil {
				frag.AppendChild(splitClone(firstPartial, SplitStart, subfrag))
			}
		}
	}

	for _, c := range contained {
		ca.RemoveChild(c)
		frag.AppendChild(c)
	}

	if lastPartial != nil {
		if isCharData(lastPartial) {
			if head := runeSlice(ec.Data, 0, eo); head != "" {
				clone := cloneShallow(ec)
				clone.Data = head
				frag.AppendChild(clone)
			}
			ec.Data = runeSlice(ec.Data, eo, -1)
		} else {
			sub := &Range{StartContainer: lastPartial, StartOffset: 0, EndContainer: ec, EndOffset: eo}
			subfrag, err := sub.ExtractContents()
			if err != nil {
				return nil, err
			}
			if subfrag.FirstChild != nil {
				frag.AppendChild(splitClone(lastPartial, SplitEnd, subfrag))
			}
		}
	}

	r.StartContainer, r.StartOffset = newNode, newOffset
	r.EndContainer, r.EndOffset = newNode, newOffset
	return frag, nil
}

// Tighten moves a start boundary that sits at the end of a text node to
// the start of the next non-empty one, and an end boundary at offset 0 to
// the end of the previous non-empty one. The selected text is unchanged but
// wrapping no longer splits elements it takes nothing from. Ranges that
// select no text are left alone.
func (r *Range) Tighten() {
	ca := r.CommonAncestor()
	if ca == nil || r.String() == "" {
		return
	}
	nodes := TextNodes(ca)
	sc, so, ec, eo := r.StartContainer, r.StartOffset, r.EndContainer, r.EndOffset
	for _, t := range nodes {
		l := RuneLen(t.Data)
		if l == 0 || comparePoints(t, l, sc, so) <= 0 {
			continue
		}
		if t != sc {
			sc, so = t, 0
		}
		break
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		t := nodes[i]
		l := RuneLen(t.Data)
		if l == 0 || comparePoints(t, 0, ec, eo) >= 0 {
			continue
		}
		if t != ec {
			ec, eo = t, l
		}
		break
	}
	if comparePoints(sc, so, ec, eo) < 0 {
		r.StartContainer, r.StartOffset = sc, so
		r.EndContainer, r.EndOffset = ec, eo
	}
}

// InsertNode inserts n (or, for a document node, its children) at the start
// of the range, splitting a text start container. A collapsed range grows
// to cover the inserted nodes.
func (r *Range) InsertNode(n *html.Node) error {
	sc, so := r.StartContainer, r.StartOffset
	var parent, ref *html.Node
	switch sc.Type {
	case html.TextNode:
		parent = sc.Parent
		if parent == nil {
			return ErrHierarchy
		}
		switch {
		case so == 0:
			ref = sc
		case so >= NodeLength(sc):
			ref = sc.NextSibling
		default:
			ref = SplitText(sc, so)
		}
	case html.CommentNode:
		return ErrHierarchy
	default:
		parent = sc
		ref = ChildAt(sc, so)
	}
	if Contains(n, parent) {
		return ErrHierarchy
	}
	if ref == n {
		ref = n.NextSibling
	}

	var last *html.Node
	if n.Type == html.DocumentNode {
		for n.FirstChild != nil {
			c := n.FirstChild
			n.RemoveChild(c)
			parent.InsertBefore(c, ref)
			last = c
		}
	} else {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		parent.InsertBefore(n, ref)
		last = n
	}

	if r.Collapsed() && last != nil {
		r.EndContainer, r.EndOffset = parent, ChildIndex(last)+1
		if sc.Type != html.TextNode {
			r.StartContainer, r.StartOffset = parent, r.EndOffset-1
		}
	}
	return nil
}

// SurroundContents moves the selected content into wrapper and puts wrapper
// where the content was. It fails when the range only partly selects an
// element.
func (r *Range) SurroundContents(wrapper *html.Node) error {
	ca := r.CommonAncestor()
	if ca == nil {
		return ErrWrongDocument
	}
	for _, b := range []*html.Node{r.StartContainer, r.EndContainer} {
		for n := b; n != ca; n = n.Parent {
			if n.Type != html.TextNode {
				return ErrPartialElement
			}
		}
	}
	frag, err := r.ExtractContents()
	if err != nil {
		return err
	}
	for wrapper.FirstChild != nil {
		wrapper.RemoveChild(wrapper.FirstChild)
	}
	if err := r.InsertNode(wrapper); err != nil {
		return err
	}
	moveChildren(frag, wrapper)
	return nil
}

// contains reports whether n lies entirely inside the range.
func (r *Range) contains(n *html.Node) bool {
	return comparePoints(n, 0, r.StartContainer, r.StartOffset) > 0 &&
		comparePoints(n, NodeLength(n), r.EndContainer, r.EndOffset) < 0
}

// comparePoints orders two boundary points: -1 before, 0 equal, 1 after.
func comparePoints(a *html.Node, ao int, b *html.Node, bo int) int {
	if a == b {
		return cmp.Compare(ao, bo)
	}
	switch treeOrder(a, b) {
	case disconnected:
		return 1
	case 1:
		return -comparePoints(b, bo, a, ao)
	}
	if Contains(a, b) {
		child := b
		for child.Parent != a {
			child = child.Parent
		}
		if ChildIndex(child) < ao {
			return 1
		}
	}
	return -1
}

// childContaining returns the child of ancestor that contains n.
func childContaining(ancestor, n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Parent == ancestor {
			return cur
		}
	}
	return nil
}

// splitClone returns a shallow clone of n holding the children of frag.
// A clone of a clone keeps its SplitAttr: both pieces rejoin the same
// neighbour as n would have.
func splitClone(n *html.Node, side string, frag *html.Node) *html.Node {
	clone := cloneShallow(n)
	if !HasAttr(clone, SplitAttr) {
		SetAttr(clone, SplitAttr, side)
	}
	moveChildren(frag, clone)
	return clone
}

func cloneShallow(n *html.Node) *html.Node {
	return &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
}

func moveChildren(from, to *html.Node) {
	for from.FirstChild != nil {
		c := from.FirstChild
		from.RemoveChild(c)
		to.AppendChild(c)
	}
}
