package kv

import (
	"context"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/dbopen"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(db)
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "a", "2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || v != "2" {
		t.Fatalf("get: got %q ok=%v err=%v, want %q", v, ok, err, "2")
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("deleted key still present")
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	exerciseStore(t, testSQLite(t))
}

func TestSQLite_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if v, ok, _ := s2.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("reopen: got %q ok=%v", v, ok)
	}
}

func TestPrefixed(t *testing.T) {
	ctx := context.Background()
	base := testSQLite(t)
	alice := WithPrefix(base, "alice/")
	bob := WithPrefix(base, "bob/")

	exerciseStore(t, alice)

	if err := alice.Set(ctx, "k1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := alice.Set(ctx, "k2", "a"); err != nil {
		t.Fatal(err)
	}
	if err := bob.Set(ctx, "k1", "b"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := bob.Get(ctx, "k1"); v != "b" {
		t.Fatalf("bob sees %q", v)
	}
	if v, ok, _ := base.Get(ctx, "alice/k1"); !ok || v != "a" {
		t.Fatalf("raw key: got %q ok=%v", v, ok)
	}

	keys, err := alice.Keys(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("Keys: got %v", keys)
	}
}

func TestMemory_Keys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "x_2", "")
	_ = m.Set(ctx, "x_1", "")
	_ = m.Set(ctx, "y", "")
	keys, _ := m.Keys(ctx, "x_")
	if len(keys) != 2 || keys[0] != "x_1" {
		t.Fatalf("Keys: got %v", keys)
	}
}
