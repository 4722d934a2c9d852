package dom

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// TextNodes returns the text nodes of the subtree rooted at n (n included)
// in document order.
func TextNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// TextContent concatenates the text nodes below n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	for _, t := range TextNodes(n) {
		sb.WriteString(t.Data)
	}
	return sb.String()
}

// RuneLen is the length of s in characters.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

// NodeLength is the DOM length of n: characters for text and comments,
// children for everything else.
func NodeLength(n *html.Node) int {
	if isCharData(n) {
		return RuneLen(n.Data)
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
	}
	return count
}

// ChildIndex is the position of n among its siblings.
func ChildIndex(n *html.Node) int {
	i := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		i++
	}
	return i
}

// ChildAt returns the i-th child of n, or nil.
func ChildAt(n *html.Node, i int) *html.Node {
	if i < 0 {
		return nil
	}
	c := n.FirstChild
	for ; c != nil && i > 0; i-- {
		c = c.NextSibling
	}
	return c
}

// Contains reports whether n is an inclusive ancestor of other.
func Contains(n, other *html.Node) bool {
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// RootOf returns the topmost ancestor of n.
func RootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func isCharData(n *html.Node) bool {
	return n.Type == html.TextNode || n.Type == html.CommentNode
}

// runeSlice returns the characters [from, to) of s; to < 0 means the end.
func runeSlice(s string, from, to int) string {
	start, end := -1, len(s)
	i := 0
	for pos := range s {
		if i == from {
			start = pos
		}
		if to >= 0 && i == to {
			end = pos
			break
		}
		i++
	}
	if start < 0 {
		start = len(s)
	}
	if start > end {
		return ""
	}
	return s[start:end]
}

// ancestors returns n and its ancestors, root first.
func ancestors(n *html.Node) []*html.Node {
	var chain []*html.Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// disconnected is the treeOrder of nodes that live in different trees.
const disconnected = 2

// treeOrder returns -1 if a precedes b in tree order, 1 if it follows, 0 if
// they are the same node.
func treeOrder(a, b *html.Node) int {
	if a == b {
		return 0
	}
	ca, cb := ancestors(a), ancestors(b)
	if ca[0] != cb[0] {
		return disconnected
	}
	i := 0
	for i < len(ca) && i < len(cb) && ca[i] == cb[i] {
		i++
	}
	switch {
	case i == len(ca): // a is an ancestor of b
		return -1
	case i == len(cb): // b is an ancestor of a
		return 1
	}
	if ChildIndex(ca[i]) < ChildIndex(cb[i]) {
		return -1
	}
	return 1
}
