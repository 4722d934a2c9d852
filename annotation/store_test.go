package annotation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/liseuse/anchor"
	"github.com/hazyhaar/liseuse/kv"
)

type failingKV struct{ kv.Store }

func (failingKV) Set(context.Context, string, string) error { return kv.ErrUnavailable }

func txtLocator(start, end int, text string) *anchor.Locator {
	return &anchor.Locator{Type: anchor.TxtOffset, StartOffset: start, EndOffset: end, SelectedText: text}
}

func newTestStore(t *testing.T, store kv.Store) *Store {
	t.Helper()
	n := 0
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return NewStore(store,
		WithIDGenerator(func() string { n++; return "note_" + string(rune('a'+n-1)) }),
		WithClock(func() time.Time { return fixed }),
	)
}

func TestStorageKey(t *testing.T) {
	if got := StorageKey("books/莊子 v2.md"); got != "liseuse_annotations_books____v2_md" {
		t.Fatalf("StorageKey: got %q", got)
	}
}

func TestStore_AddRequiresActiveDocument(t *testing.T) {
	s := newTestStore(t, kv.NewMemory())
	_, err := s.Add(context.Background(), Record{Locator: txtLocator(0, 3, "abc")})
	if !errors.Is(err, ErrNoActiveDocument) {
		t.Fatalf("got %v, want ErrNoActiveDocument", err)
	}
}

func TestStore_AddRejectsInvalidLocator(t *testing.T) {
	s := newTestStore(t, kv.NewMemory())
	s.SetActiveDocument(context.Background(), "a.txt")
	for _, loc := range []*anchor.Locator{nil, txtLocator(5, 2, "")} {
		if _, err := s.Add(context.Background(), Record{Locator: loc}); !errors.Is(err, ErrInvalidLocator) {
			t.Fatalf("got %v, want ErrInvalidLocator", err)
		}
	}
}

func TestStore_AddRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t, kv.NewMemory())
	ctx := context.Background()
	s.SetActiveDocument(ctx, "a.txt")
	if _, err := s.Add(ctx, Record{Kind: "foo", Locator: txtLocator(0, 3, "abc")}); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("got %v, want ErrInvalidKind", err)
	}
	if got := len(s.All()); got != 0 {
		t.Fatalf("records: got %d, want 0", got)
	}
	for _, k := range []Kind{"", Highlight, Note} {
		if _, err := s.Add(ctx, Record{Kind: k, Locator: txtLocator(0, 3, "abc")}); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
}

func TestStore_AddDefaultsAndPersists(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := newTestStore(t, mem)
	s.SetActiveDocument(ctx, "a.txt")

	rec, err := s.Add(ctx, Record{Kind: Note, Comment: "c", Locator: txtLocator(0, 3, "abc")})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "note_a" || rec.Color != "lightblue" || rec.SelectedText != "abc" || rec.DocumentKey != "a.txt" {
		t.Fatalf("record: %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}

	raw, ok, _ := mem.Get(ctx, StorageKey("a.txt"))
	if !ok {
		t.Fatal("list not persisted")
	}
	for _, field := range []string{`"id":"note_a"`, `"type":"note"`, `"text":"abc"`, `"rangeData":{"type":"txt-offset"`} {
		if !strings.Contains(raw, field) {
			t.Fatalf("stored JSON lacks %s: %s", field, raw)
		}
	}

	// A second store over the same kv sees the record.
	other := newTestStore(t, mem)
	other.SetActiveDocument(ctx, "a.txt")
	if got, ok := other.Get("note_a"); !ok || got.Comment != "c" {
		t.Fatalf("reload: got %+v ok=%v", got, ok)
	}
}

func TestStore_DeleteAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemory())
	s.SetActiveDocument(ctx, "a.txt")
	a, _ := s.Add(ctx, Record{Locator: txtLocator(0, 1, "a")})
	b, _ := s.Add(ctx, Record{Locator: txtLocator(1, 2, "b")})

	if !s.UpdateComment(ctx, b.ID, "second") {
		t.Fatal("UpdateComment: want true")
	}
	if s.UpdateComment(ctx, "missing", "x") {
		t.Fatal("UpdateComment of unknown id: want false")
	}
	if !s.Delete(ctx, a.ID) {
		t.Fatal("Delete: want true")
	}
	if s.Delete(ctx, a.ID) {
		t.Fatal("Delete twice: want false")
	}
	all := s.All()
	if len(all) != 1 || all[0].ID != b.ID || all[0].Comment != "second" {
		t.Fatalf("All: %+v", all)
	}
}

func TestStore_SwitchDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemory())
	s.SetActiveDocument(ctx, "a.txt")
	if _, err := s.Add(ctx, Record{Locator: txtLocator(0, 1, "a")}); err != nil {
		t.Fatal(err)
	}
	s.SetActiveDocument(ctx, "b.txt")
	if len(s.All()) != 0 {
		t.Fatal("b.txt must start empty")
	}
	s.SetActiveDocument(ctx, "a.txt")
	if len(s.All()) != 1 {
		t.Fatal("a.txt record lost")
	}
}

func TestStore_MalformedStoredList(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	_ = mem.Set(ctx, StorageKey("a.txt"), "{not json")
	s := newTestStore(t, mem)
	s.SetActiveDocument(ctx, "a.txt")
	if len(s.All()) != 0 {
		t.Fatal("malformed list must load as empty")
	}
	if _, err := Load(ctx, mem, "a.txt"); err == nil {
		t.Fatal("Load: want decode error")
	}
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, failingKV{kv.NewMemory()})
	s.SetActiveDocument(ctx, "a.txt")
	if _, err := s.Add(ctx, Record{Locator: txtLocator(0, 1, "a")}); err != nil {
		t.Fatalf("Add must not fail on persistence errors: %v", err)
	}
	if len(s.All()) != 1 {
		t.Fatal("memory must keep the record")
	}
}

func TestLoad_LegacyRecord(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	legacy := `[{"id":"note_1700000000000_abcdefghi","type":"highlight","text":"abc","color":"yellow",
		"rangeData":{"type":"txt-char-offset","startOffset":0,"endOffset":3,"selectedText":"abc"},
		"timestamp":"2024-01-02T03:04:05.000Z"}]`
	_ = mem.Set(ctx, StorageKey("old.txt"), legacy)

	recs, err := Load(ctx, mem, "old.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Locator.Type != anchor.TxtOffset || recs[0].Timestamp.Year() != 2024 {
		t.Fatalf("legacy: %+v", recs)
	}
}
