package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liseuse/dom"
)

// TextStep is the node name of text nodes in a path.
const TextStep = "#text"

// Step is one hop of a node path: either an id lookup or the Index-th
// (1-based) child named Tag.
type Step struct {
	ID    string `json:"id,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Index int    `json:"index,omitempty"`
}

func (s Step) String() string {
	if s.ID != "" {
		return `id("` + s.ID + `")`
	}
	return s.Tag + "[" + strconv.Itoa(s.Index) + "]"
}

// Path locates a node from the document root.
type Path []Step

// String renders the path as id("x")/p[2]/#text[1].
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// MarshalJSON encodes the path in its string form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the string form or a list of steps.
func (p *Path) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParsePath(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return fmt.Errorf("anchor: path: %w", err)
	}
	*p = steps
	return nil
}

var errBadPath = errors.New("anchor: malformed path")

// ParsePath parses the string form of a path.
func ParsePath(s string) (Path, error) {
	var p Path
	for rest := s; rest != ""; {
		var step Step
		if strings.HasPrefix(rest, `id("`) {
			end := strings.Index(rest, `")`)
			if end < 0 {
				return nil, fmt.Errorf("%w: %q", errBadPath, s)
			}
			step.ID = rest[4:end]
			rest = rest[end+2:]
		} else {
			seg := rest
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				seg = rest[:i]
			}
			rest = rest[len(seg):]
			open := strings.LastIndexByte(seg, '[')
			if open <= 0 || !strings.HasSuffix(seg, "]") {
				return nil, fmt.Errorf("%w: step %q", errBadPath, seg)
			}
			idx, err := strconv.Atoi(seg[open+1 : len(seg)-1])
			if err != nil || idx < 1 {
				return nil, fmt.Errorf("%w: step %q", errBadPath, seg)
			}
			step.Tag, step.Index = seg[:open], idx
		}
		p = append(p, step)
		if rest != "" {
			if rest[0] != '/' {
				return nil, fmt.Errorf("%w: %q", errBadPath, s)
			}
			rest = rest[1:]
			if rest == "" {
				return nil, fmt.Errorf("%w: trailing slash in %q", errBadPath, s)
			}
		}
	}
	return p, nil
}

// PathTo describes n by walking up to the document root. The walk stops at
// the first element carrying a non-empty id, which becomes an id step.
func PathTo(n *html.Node) Path {
	var steps Path
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			if id := dom.Attr(cur, "id"); id != "" {
				steps = append(steps, Step{ID: id})
				break
			}
		}
		steps = append(steps, Step{Tag: nodeName(cur), Index: sameNameIndex(cur)})
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

// ResolvePath follows p from root. An id step looks the element up in the
// whole document; a tag step takes the Index-th child with that name.
func ResolvePath(root *html.Node, p Path) (*html.Node, error) {
	cur := root
	for i, s := range p {
		if s.ID != "" {
			el := dom.GetElementByID(root, s.ID)
			if el == nil {
				return nil, fmt.Errorf("%w: step %d: no element %s", ErrPathNotFound, i, s)
			}
			cur = el
			continue
		}
		var found *html.Node
		seen := 0
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if nodeName(c) == s.Tag {
				seen++
				if seen == s.Index {
					found = c
					break
				}
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: step %d: %s", ErrPathNotFound, i, s)
		}
		cur = found
	}
	return cur, nil
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return TextStep
	case html.CommentNode:
		return "#comment"
	case html.DoctypeNode:
		return "#doctype"
	}
	return strings.ToLower(n.Data)
}

func sameNameIndex(n *html.Node) int {
	name := nodeName(n)
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if nodeName(s) == name {
			idx++
		}
	}
	return idx
}
