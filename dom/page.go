// Package dom is the rendering target of the reading engine: an in-memory
// HTML document built on golang.org/x/net/html, with the handful of DOM
// operations annotation anchoring needs (ranges, text walking, node
// splitting and unwrapping).
//
// A Page has the fixed layout
//
//	<div id="reading-area">
//	  <div id="content-container" class="txt-content|markdown-content">…</div>
//	</div>
//	<div id="full-content-data" hidden>…source…</div>
//
// Chunks are appended to the content container; the hidden element keeps
// the full source the chunks are cut from.
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/liseuse/content"
)

const (
	ReadingAreaID      = "reading-area"
	ContentContainerID = "content-container"
	SourceID           = "full-content-data"
)

var (
	ErrNoContainer = errors.New("dom: content container not found")
	ErrNoSource    = errors.New("dom: source element not found")
)

// Page is one reading page. It is not safe for concurrent use; the reading
// session serialises access.
type Page struct {
	doc     *html.Node
	content *html.Node
	source  *html.Node
	typ     content.Type
}

// NewPage builds an empty page whose hidden source element holds source.
func NewPage(source string, t content.Type) *Page {
	doc := &html.Node{Type: html.DocumentNode}
	root := NewElement("html")
	head := NewElement("head")
	body := NewElement("body")
	doc.AppendChild(root)
	root.AppendChild(head)
	root.AppendChild(body)

	area := NewElement("div", html.Attribute{Key: "id", Val: ReadingAreaID})
	container := NewElement("div",
		html.Attribute{Key: "id", Val: ContentContainerID},
		html.Attribute{Key: "class", Val: containerClass(t)},
	)
	src := NewElement("div",
		html.Attribute{Key: "id", Val: SourceID},
		html.Attribute{Key: "hidden"},
	)
	src.AppendChild(NewText(source))

	body.AppendChild(area)
	area.AppendChild(container)
	body.AppendChild(src)

	return &Page{doc: doc, content: container, source: src, typ: t}
}

// ParsePage parses a served page. The content type is read from the
// container class.
func ParsePage(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	p := &Page{doc: doc}
	p.content = GetElementByID(doc, ContentContainerID)
	if p.content == nil {
		return nil, ErrNoContainer
	}
	p.source = GetElementByID(doc, SourceID)
	p.typ = content.Plain
	if HasClass(p.content, "markdown-content") {
		p.typ = content.Markdown
	}
	return p, nil
}

func containerClass(t content.Type) string {
	if t == content.Markdown {
		return "markdown-content"
	}
	return "txt-content"
}

// Root is the document node.
func (p *Page) Root() *html.Node { return p.doc }

// Content is the content container.
func (p *Page) Content() *html.Node { return p.content }

// Source is the hidden source element, nil when the page has none.
func (p *Page) Source() *html.Node { return p.source }

// Type is the content type of the page.
func (p *Page) Type() content.Type { return p.typ }

// SourceText returns the trimmed text of the hidden source element.
func (p *Page) SourceText() (string, error) {
	if p.source == nil {
		return "", ErrNoSource
	}
	return strings.TrimSpace(TextContent(p.source)), nil
}

// AppendChunk materialises one chunk at the end of the content container.
// A plain chunk becomes one <pre> holding the chunk as a single text node;
// a markdown chunk is parsed as an HTML fragment in the container's context.
func (p *Page) AppendChunk(text string) error {
	if p.content == nil {
		return ErrNoContainer
	}
	if p.typ != content.Markdown {
		pre := NewElement("pre")
		if text != "" {
			pre.AppendChild(NewText(text))
		}
		p.content.AppendChild(pre)
		return nil
	}
	nodes, err := html.ParseFragment(strings.NewReader(text), p.content)
	if err != nil {
		return fmt.Errorf("dom: append chunk: %w", err)
	}
	for _, n := range nodes {
		p.content.AppendChild(n)
	}
	return nil
}

// Reset removes everything from the content container.
func (p *Page) Reset() {
	for c := p.content.FirstChild; c != nil; {
		next := c.NextSibling
		p.content.RemoveChild(c)
		c = next
	}
}

// Render writes the whole document.
func (p *Page) Render(w io.Writer) error {
	return html.Render(w, p.doc)
}

// ContentHTML returns the serialised children of the content container.
func (p *Page) ContentHTML() string {
	return InnerHTML(p.content)
}

// InnerHTML serialises the children of n.
func InnerHTML(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		html.Render(&sb, c)
	}
	return sb.String()
}

// NewElement creates a detached element.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
		Attr:     attrs,
	}
}

// NewText creates a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// GetElementByID returns the first element below root, in tree order, whose
// id attribute equals id.
func GetElementByID(root *html.Node, id string) *html.Node {
	if root == nil || id == "" {
		return nil
	}
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && Attr(n, "id") == id {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

// Attr returns the value of attribute key, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries attribute key.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets attribute key, replacing an existing value.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes attribute key.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// HasClass reports whether the class attribute of n lists class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
