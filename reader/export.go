package reader

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"

	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dom"
	"github.com/hazyhaar/liseuse/highlight"
)

var (
	mdOnce sync.Once
	mdConv *converter.Converter
)

func markdownConverter() *converter.Converter {
	mdOnce.Do(func() {
		mdConv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return mdConv
}

// ExportMarkdown renders records as a markdown digest: one section per
// record with the highlighted passage, converted from the painted page,
// and its comment. Records without markers on the page fall back to their
// stored text.
func ExportMarkdown(title string, page *dom.Page, records []annotation.Record) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	if len(records) == 0 {
		b.WriteString("\n_No annotations._\n")
		return b.String(), nil
	}

	for i, rec := range records {
		heading := "Highlight"
		if rec.Kind == annotation.Note {
			heading = "Note"
		}
		fmt.Fprintf(&b, "\n## %d. %s", i+1, heading)
		if !rec.Timestamp.IsZero() {
			fmt.Fprintf(&b, " (%s)", rec.Timestamp.UTC().Format("2006-01-02 15:04"))
		}
		b.WriteString("\n\n")

		passage, err := passageMarkdown(page, rec)
		if err != nil {
			return "", fmt.Errorf("reader: export %s: %w", rec.ID, err)
		}
		for _, line := range strings.Split(passage, "\n") {
			if line == "" {
				b.WriteString(">\n")
				continue
			}
			b.WriteString("> " + line + "\n")
		}
		if c := strings.TrimSpace(rec.Comment); c != "" {
			b.WriteString("\n" + c + "\n")
		}
	}
	return b.String(), nil
}

func passageMarkdown(page *dom.Page, rec annotation.Record) (string, error) {
	var markers []*html.Node
	if page != nil {
		markers = highlight.Find(page.Content(), rec.ID)
	}
	if len(markers) == 0 {
		return strings.TrimSpace(rec.SelectedText), nil
	}
	var sb strings.Builder
	for _, m := range markers {
		// Nested markers are reached through their outer one.
		if hasMarkerAncestor(m, rec.ID) {
			continue
		}
		if page.Type() == content.Markdown {
			sb.WriteString(dom.InnerHTML(m))
		} else {
			sb.WriteString(dom.TextContent(m))
		}
	}
	if page.Type() != content.Markdown {
		return strings.TrimSpace(sb.String()), nil
	}
	md, err := markdownConverter().ConvertString(sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

func hasMarkerAncestor(n *html.Node, id string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if highlight.IsMarker(p) && dom.Attr(p, highlight.IDAttr) == id {
			return true
		}
	}
	return false
}
