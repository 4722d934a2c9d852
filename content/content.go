// Package content loads documents from the library directory and turns them
// into the source a reading page is built from: the raw text of plain
// documents, or sanitised HTML for markdown documents.
package content

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Type is the content type of a document. It decides both the chunking
// strategy and the locator variant used for its annotations.
type Type string

const (
	Plain    Type = "plain"
	Markdown Type = "markdown"
)

var (
	ErrUnsupportedType = errors.New("content: unsupported type")
	ErrTooLarge        = errors.New("content: document too large")
	ErrNotFound        = errors.New("content: document not found")
)

// ParseType accepts the names a type is spelled with in URLs and config.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "txt", "text":
		return Plain, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// TypeForPath derives the type from the file extension. Anything that is
// not markdown is read as plain text.
func TypeForPath(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return Markdown
	}
	return Plain
}

// Document is a loaded library file.
type Document struct {
	Path   string `json:"path"` // library-relative, as requested
	Name   string `json:"name"` // file name without extension
	Type   Type   `json:"type"`
	Source string `json:"-"` // text (Plain) or sanitised HTML (Markdown)
}
