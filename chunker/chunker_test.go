package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/liseuse/content"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func joinChunks(chunks []Chunk, sep string) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, sep)
}

func TestSplit_PlainByLines(t *testing.T) {
	text := numberedLines(120)
	chunks := Split(text, content.Plain, DefaultPolicy())

	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d, want 3", len(chunks))
	}
	for i, want := range []int{50, 50, 20} {
		if chunks[i].Lines != want {
			t.Fatalf("chunk %d lines: got %d, want %d", i, chunks[i].Lines, want)
		}
		if chunks[i].Index != i {
			t.Fatalf("chunk %d index: got %d", i, chunks[i].Index)
		}
	}
	if got := joinChunks(chunks, "\n"); got != text {
		t.Fatal("plain chunks do not rejoin to the input")
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", content.Plain, DefaultPolicy()); len(chunks) != 0 {
		t.Fatalf("empty text: got %d chunks", len(chunks))
	}
}

func TestSplit_MarkdownCutAfterTag(t *testing.T) {
	text := "<p>" + strings.Repeat("a", 7990) + `</p><p class="long">tail</p>`
	chunks := Split(text, content.Markdown, DefaultPolicy())

	if len(chunks) != 2 {
		t.Fatalf("chunks: got %d, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, `<p class="long">`) {
		t.Fatalf("first chunk must end after the tag, ends with %q", chunks[0].Text[len(chunks[0].Text)-20:])
	}
	if chunks[1].Text != "tail</p>" {
		t.Fatalf("second chunk: got %q", chunks[1].Text)
	}
}

func TestSplit_MarkdownSmallBudget(t *testing.T) {
	p := Policy{CharsPerChunk: 12}
	text := `<p>ab</p><p class="x">cd</p>`
	chunks := Split(text, content.Markdown, p)

	if chunks[0].Text != `<p>ab</p><p class="x">` {
		t.Fatalf("first chunk: got %q", chunks[0].Text)
	}
	if got := joinChunks(chunks, ""); got != text {
		t.Fatalf("markdown chunks do not concatenate to the input: %q", got)
	}
}

func TestSplit_MarkdownMidWord(t *testing.T) {
	chunks := Split("abcdefgh ij", content.Markdown, Policy{CharsPerChunk: 5})
	if chunks[0].Text != "abcdefgh" || chunks[1].Text != " ij" {
		t.Fatalf("got %q", []string{chunks[0].Text, chunks[1].Text})
	}
}

func TestSplit_MarkdownRunes(t *testing.T) {
	text := strings.Repeat("字", 25)
	chunks := Split(text, content.Markdown, Policy{CharsPerChunk: 10})
	if got := joinChunks(chunks, ""); got != text {
		t.Fatalf("rune chunks do not concatenate: %q", got)
	}
}

type recordingTarget struct {
	appended []string
	failAt   int
}

func (r *recordingTarget) AppendChunk(text string) error {
	if r.failAt > 0 && len(r.appended)+1 == r.failAt {
		return errors.New("boom")
	}
	r.appended = append(r.appended, text)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var bottom = Viewport{ScrollTop: 900, ClientHeight: 100, ScrollHeight: 1000}

func TestPipeline_IncrementalLoad(t *testing.T) {
	chunks := Split(numberedLines(120), content.Plain, DefaultPolicy())
	target := &recordingTarget{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	completed := 0
	var lastRendered int
	p := NewPipeline(chunks, target, DefaultPolicy(),
		WithClock(clock.now),
		WithOnComplete(func() { completed++ }),
		WithOnChunk(func(rendered, total int) { lastRendered = rendered }),
	)

	n, err := p.Start()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(target.appended) != 2 {
		t.Fatalf("initial render: got %d chunks, want 2", n)
	}
	if !p.Attached() || p.Done() {
		t.Fatal("trigger must be attached after a partial initial render")
	}
	if got := p.Progress(); got < 0.66 || got > 0.67 {
		t.Fatalf("progress: got %f, want 2/3", got)
	}

	rendered, err := p.OnScroll(bottom)
	if err != nil || !rendered {
		t.Fatalf("scroll near bottom: got (%v, %v)", rendered, err)
	}
	if len(target.appended) != 3 || lastRendered != 3 {
		t.Fatalf("after trigger: got %d appended, onChunk %d", len(target.appended), lastRendered)
	}
	if p.Attached() || !p.Done() {
		t.Fatal("trigger must detach after the last chunk")
	}
	if completed != 1 {
		t.Fatalf("completion callbacks: got %d, want 1", completed)
	}

	clock.advance(time.Second)
	if rendered, _ := p.OnScroll(bottom); rendered {
		t.Fatal("detached pipeline rendered a chunk")
	}
	if completed != 1 || p.Progress() != 1 {
		t.Fatalf("after completion: callbacks %d progress %f", completed, p.Progress())
	}
}

func TestPipeline_Throttle(t *testing.T) {
	chunks := Split(numberedLines(500), content.Plain, DefaultPolicy())
	target := &recordingTarget{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewPipeline(chunks, target, DefaultPolicy(), WithClock(clock.now))
	p.Start()

	if r, _ := p.OnScroll(bottom); !r {
		t.Fatal("first trigger must render")
	}
	clock.advance(50 * time.Millisecond)
	if r, _ := p.OnScroll(bottom); r {
		t.Fatal("event inside the throttle window must be dropped")
	}
	clock.advance(50 * time.Millisecond)
	if r, _ := p.OnScroll(bottom); !r {
		t.Fatal("event after the throttle window must render")
	}
	if len(target.appended) != 4 {
		t.Fatalf("appended: got %d, want 4", len(target.appended))
	}
}

func TestPipeline_FarFromBottom(t *testing.T) {
	chunks := Split(numberedLines(500), content.Plain, DefaultPolicy())
	p := NewPipeline(chunks, &recordingTarget{}, DefaultPolicy())
	p.Start()

	top := Viewport{ScrollTop: 0, ClientHeight: 100, ScrollHeight: 5000}
	if r, _ := p.OnScroll(top); r {
		t.Fatal("rendered while far from the bottom")
	}
	if p.Rendered() != 2 {
		t.Fatalf("rendered: got %d, want 2", p.Rendered())
	}
}

func TestPipeline_SmallDocumentCompletesAtStart(t *testing.T) {
	chunks := Split(numberedLines(60), content.Plain, DefaultPolicy())
	completed := 0
	p := NewPipeline(chunks, &recordingTarget{}, DefaultPolicy(), WithOnComplete(func() { completed++ }))

	if n, _ := p.Start(); n != 2 {
		t.Fatalf("rendered: got %d, want 2", n)
	}
	if p.Attached() || !p.Done() || completed != 1 {
		t.Fatalf("attached %v done %v completed %d", p.Attached(), p.Done(), completed)
	}
	if _, err := p.Start(); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second Start: got %v, want ErrConsumed", err)
	}
}

func TestPipeline_AppendFailureDetaches(t *testing.T) {
	chunks := Split(numberedLines(500), content.Plain, DefaultPolicy())
	target := &recordingTarget{failAt: 3}
	p := NewPipeline(chunks, target, DefaultPolicy())
	p.Start()

	if _, err := p.OnScroll(bottom); err == nil {
		t.Fatal("expected append error")
	}
	if p.Attached() {
		t.Fatal("pipeline must detach after a failed append")
	}
}
