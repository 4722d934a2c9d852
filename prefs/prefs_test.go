package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/kv"
)

func TestReadingPosition(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	p := New(mem)

	if _, ok := p.ReadingPosition(ctx, "/read/a.txt"); ok {
		t.Fatal("want no position")
	}
	if err := p.SaveReadingPosition(ctx, "/read/a.txt", 1234.5); err != nil {
		t.Fatal(err)
	}
	pos, ok := p.ReadingPosition(ctx, "/read/a.txt")
	if !ok || pos != 1234.5 {
		t.Fatalf("position: got %v ok=%v", pos, ok)
	}
	// btoa("/read/a.txt")
	if v, ok, _ := mem.Get(ctx, "readingPosition_L3JlYWQvYS50eHQ="); !ok || v != "1234.5" {
		t.Fatalf("raw key: got %q ok=%v", v, ok)
	}

	_ = mem.Set(ctx, "readingPosition_L3JlYWQvYS50eHQ=", "abc")
	if _, ok := p.ReadingPosition(ctx, "/read/a.txt"); ok {
		t.Fatal("malformed position must read as absent")
	}
}

func TestBookmark(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(kv.NewMemory(), WithClock(func() time.Time { return fixed }))

	if _, err := p.SaveBookmark(ctx, Bookmark{}); err == nil {
		t.Fatal("bookmark without url must fail")
	}
	saved, err := p.SaveBookmark(ctx, Bookmark{URL: "u", ScrollPosition: 800, Progress: 42, FontSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if !saved.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp: got %v", saved.Timestamp)
	}
	b, ok := p.Bookmark(ctx, "u")
	if !ok || b.ScrollPosition != 800 || b.Progress != 42 || b.FontSize != 20 {
		t.Fatalf("bookmark: got %+v ok=%v", b, ok)
	}
	if _, ok := p.Bookmark(ctx, "other"); ok {
		t.Fatal("unexpected bookmark")
	}
}

func TestSettings_Normalize(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 18}, {4, 12}, {40, 32}, {19, 18}, {24, 24}, {13, 12},
	}
	for _, c := range cases {
		s := Settings{FontSize: c.in}
		s.Normalize()
		if s.FontSize != c.want {
			t.Fatalf("Normalize(%d): got %d, want %d", c.in, s.FontSize, c.want)
		}
	}
}

func TestSettings_Persist(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	p := New(mem)
	if got := p.Settings(ctx); got.FontSize != DefaultFontSize || got.ControlsCollapsed {
		t.Fatalf("defaults: %+v", got)
	}
	if _, err := p.SaveSettings(ctx, Settings{FontSize: 99, ControlsCollapsed: true}); err != nil {
		t.Fatal(err)
	}
	if got := p.Settings(ctx); got.FontSize != MaxFontSize || !got.ControlsCollapsed {
		t.Fatalf("saved: %+v", got)
	}
	_ = mem.Set(ctx, "readerSettings", "[")
	if got := p.Settings(ctx); got.FontSize != DefaultFontSize {
		t.Fatalf("malformed settings: %+v", got)
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()
	p := New(kv.NewMemory(), WithBus(bus), WithUser("u1"))

	m, err := p.SaveMetadata(ctx, "books/a.md", Metadata{Title: "  Title  ", Author: " Me "})
	if err != nil {
		t.Fatal(err)
	}
	if m.Title != "Title" || m.Author != "Me" {
		t.Fatalf("trim: %+v", m)
	}
	e := <-ch
	if e.Type != events.MetadataUpdated || e.Path != "books/a.md" || e.UserID != "u1" {
		t.Fatalf("event: %+v", e)
	}
	if got := p.DisplayTitle(ctx, "books/a.md", "fallback"); got != "Title" {
		t.Fatalf("DisplayTitle: %q", got)
	}

	if _, err := p.SaveMetadata(ctx, "books/a.md", Metadata{Title: " ", Author: ""}); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Metadata(ctx, "books/a.md"); ok {
		t.Fatal("empty override must be removed")
	}
	if got := p.DisplayTitle(ctx, "books/a.md", "fallback"); got != "fallback" {
		t.Fatalf("DisplayTitle: %q", got)
	}
}
