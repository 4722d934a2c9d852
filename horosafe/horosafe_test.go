package horosafe

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret([]byte("short")); err == nil {
		t.Fatal("expected error for short secret")
	}
	if err := ValidateSecret(bytes.Repeat([]byte("a"), MinSecretLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		want        string
		wantErr     bool
	}{
		{"/library", "books/novel.txt", "/library/books/novel.txt", false},
		{"/library", "/books/novel.md", "/library/books/novel.md", false},
		{"/library", "notes..v2.txt", "/library/notes..v2.txt", false},
		{"/library", "../etc/passwd", "", true},
		{"/library", "books/../../outside", "", true},
		{"/library", `books\..\secret`, "", true},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("SafePath(%q, %q) = %q, want %q", tt.base, tt.input, got, tt.want)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	_, err = LimitedReadAll(strings.NewReader(data), 50)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversized read: got %v, want ErrTooLarge", err)
	}
}
