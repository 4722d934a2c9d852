package reader

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/liseuse/anchor"
	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dom"
	"github.com/hazyhaar/liseuse/highlight"
)

const inlineAndList = "<p>one <em>two</em> three</p><ul><li>four</li><li>five</li></ul>"

func markdownPage(t *testing.T, body string) *dom.Page {
	t.Helper()
	p := dom.NewPage(body, content.Markdown)
	if err := p.AppendChunk(body); err != nil {
		t.Fatal(err)
	}
	return p
}

// nodePathRecord encodes [start, end) of the clean page as a node-path
// record. ok is false for selections holding only whitespace.
func nodePathRecord(t *testing.T, p *dom.Page, start, end int) (annotation.Record, bool) {
	t.Helper()
	r, err := anchor.ResolveOffsets(p.Content(), start, end)
	if err != nil {
		t.Fatalf("ResolveOffsets(%d, %d): %v", start, end, err)
	}
	loc, err := anchor.Encode(r, content.Markdown, p.Content())
	if errors.Is(err, anchor.ErrEmptySelection) {
		return annotation.Record{}, false
	}
	if err != nil {
		t.Fatalf("Encode(%d, %d): %v", start, end, err)
	}
	return annotation.Record{
		ID:      fmt.Sprintf("note_%d_%d", start, end),
		Kind:    annotation.Highlight,
		Locator: loc,
	}, true
}

// restoreTwice runs two passes and checks they agree, then clears the page
// and checks it is back to original.
func restoreTwice(t *testing.T, p *dom.Page, recs []annotation.Record, original string) {
	t.Helper()
	container := p.Content()

	first := Restore(p, recs, nil)
	html1, count1 := dom.InnerHTML(container), highlight.Count(container)
	second := Restore(p, recs, nil)
	html2, count2 := dom.InnerHTML(container), highlight.Count(container)

	if first.Applied != len(recs) || second.Applied != len(recs) {
		t.Fatalf("applied: %d then %d, want %d\n%+v", first.Applied, second.Applied, len(recs), second.Records)
	}
	if second.Cleared != count1 || count2 != count1 {
		t.Fatalf("markers: first %d, cleared %d, second %d", count1, second.Cleared, count2)
	}
	if html1 != html2 {
		t.Fatalf("second pass changed the page:\n%q\n%q", html1, html2)
	}
	highlight.Clear(container)
	if got := dom.InnerHTML(container); got != original {
		t.Fatalf("after clear:\ngot  %q\nwant %q", got, original)
	}
}

func TestRestore_AdjacentNodePathRecords(t *testing.T) {
	clean := markdownPage(t, inlineAndList)
	original := dom.InnerHTML(clean.Content())
	n := dom.RuneLen(dom.TextContent(clean.Content()))

	for s := 0; s < n; s++ {
		for m := s + 1; m < n; m++ {
			for e := m + 1; e <= n; e++ {
				p := markdownPage(t, inlineAndList)
				left, ok1 := nodePathRecord(t, p, s, m)
				right, ok2 := nodePathRecord(t, p, m, e)
				if !ok1 || !ok2 {
					continue
				}
				t.Run(fmt.Sprintf("%d_%d_%d", s, m, e), func(t *testing.T) {
					restoreTwice(t, p, []annotation.Record{left, right}, original)
				})
			}
		}
	}
}

func TestRestore_EveryNodePathRangeAtOnce(t *testing.T) {
	p := markdownPage(t, inlineAndList)
	original := dom.InnerHTML(p.Content())
	n := dom.RuneLen(dom.TextContent(p.Content()))

	var recs []annotation.Record
	for s := 0; s < n; s++ {
		for e := s + 1; e <= n; e++ {
			if rec, ok := nodePathRecord(t, p, s, e); ok {
				recs = append(recs, rec)
			}
		}
	}
	restoreTwice(t, p, recs, original)

	// The pieces of each record's markers still read its text.
	Restore(p, recs, nil)
	for _, rec := range recs {
		var got string
		for _, m := range highlight.Find(p.Content(), rec.ID) {
			got += dom.TextContent(m)
		}
		if strings.TrimSpace(got) != rec.Locator.SelectedText {
			t.Fatalf("%s: markers read %q, want %q", rec.ID, got, rec.Locator.SelectedText)
		}
	}
}

func TestRestore_AdjacentPlainRecords(t *testing.T) {
	p := dom.NewPage("hello world foo", content.Plain)
	if err := p.AppendChunk("hello world foo"); err != nil {
		t.Fatal(err)
	}
	original := dom.InnerHTML(p.Content())
	recs := []annotation.Record{
		{ID: "a", Locator: &anchor.Locator{Type: anchor.TxtOffset, StartOffset: 0, EndOffset: 5, SelectedText: "hello"}},
		{ID: "b", Locator: &anchor.Locator{Type: anchor.TxtOffset, StartOffset: 5, EndOffset: 11, SelectedText: " world"}},
	}

	Restore(p, recs, nil)
	for _, rec := range recs {
		if got := len(highlight.Find(p.Content(), rec.ID)); got != 1 {
			t.Fatalf("%s: %d markers, want 1\n%s", rec.ID, got, dom.InnerHTML(p.Content()))
		}
	}
	restoreTwice(t, p, recs, original)
}
