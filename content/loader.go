package content

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/hazyhaar/liseuse/horosafe"
)

// DefaultMaxFileSize caps documents at 50 MiB.
const DefaultMaxFileSize int64 = 50 << 20

// Loader reads documents below Root.
type Loader struct {
	Root        string
	MaxFileSize int64
	Logger      *slog.Logger

	once   sync.Once
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewLoader returns a Loader for root with the default limits.
func NewLoader(root string, logger *slog.Logger) *Loader {
	l := &Loader{Root: root, MaxFileSize: DefaultMaxFileSize, Logger: logger}
	l.init()
	return l
}

func (l *Loader) init() {
	l.once.Do(func() {
		if l.Logger == nil {
			l.Logger = slog.Default()
		}
		if l.MaxFileSize <= 0 {
			l.MaxFileSize = DefaultMaxFileSize
		}
		l.md = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		)
		// Raw HTML is rendered by goldmark and cleaned here.
		l.policy = bluemonday.UGCPolicy()
		l.policy.AllowAttrs("id", "class").Globally()
	})
}

// Load reads path (relative to Root) and prepares its page source.
func (l *Loader) Load(path string) (*Document, error) {
	l.init()

	full, err := horosafe.SafePath(l.Root, path)
	if err != nil {
		return nil, fmt.Errorf("content: load %q: %w", path, err)
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("content: load %q: %w", path, err)
	}
	defer f.Close()

	raw, err := horosafe.LimitedReadAll(f, l.MaxFileSize)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
		}
		return nil, fmt.Errorf("content: read %q: %w", path, err)
	}

	text := Decode(raw)
	base := filepath.Base(full)
	doc := &Document{
		Path: path,
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Type: TypeForPath(full),
	}

	switch doc.Type {
	case Markdown:
		html, err := l.RenderMarkdown(IndentParagraphs(text))
		if err != nil {
			return nil, fmt.Errorf("content: render %q: %w", path, err)
		}
		doc.Source = html
	default:
		if strings.EqualFold(filepath.Ext(full), ".txt") {
			text = IndentParagraphs(text)
		}
		doc.Source = text
	}

	l.Logger.Debug("content: loaded", "path", path, "type", doc.Type, "bytes", len(raw))
	return doc, nil
}

// RenderMarkdown renders GFM markdown (tables, fenced code, heading ids) to
// sanitised HTML.
func (l *Loader) RenderMarkdown(src string) (string, error) {
	l.init()
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return string(l.policy.SanitizeBytes(buf.Bytes())), nil
}

// Decode returns raw as UTF-8 with LF line endings. Invalid UTF-8 is read
// as GBK; if that fails too, invalid sequences become U+FFFD.
func Decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var s string
	switch {
	case utf8.Valid(raw):
		s = string(raw)
	default:
		if out, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil && utf8.Valid(out) {
			s = string(out)
		} else {
			s = strings.ToValidUTF8(string(raw), "\uFFFD")
		}
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}
