// Package prefs stores the small per-reader state kept next to the
// annotations: reading positions, bookmarks, display settings and
// user-edited document metadata.
package prefs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/kv"
)

const (
	positionPrefix = "readingPosition_"
	bookmarkPrefix = "bookmark_"
	settingsKey    = "readerSettings"
	metadataKey    = "liseuse_user_metadata"
)

const (
	MinFontSize     = 12
	MaxFontSize     = 32
	FontSizeStep    = 2
	DefaultFontSize = 18
)

// Settings are the reader display settings.
type Settings struct {
	FontSize          int  `json:"fontSize"`
	ControlsCollapsed bool `json:"controlsCollapsed"`
}

// Normalize fills the default font size and snaps it into range.
func (s *Settings) Normalize() {
	switch {
	case s.FontSize == 0:
		s.FontSize = DefaultFontSize
	case s.FontSize < MinFontSize:
		s.FontSize = MinFontSize
	case s.FontSize > MaxFontSize:
		s.FontSize = MaxFontSize
	}
	s.FontSize -= (s.FontSize - MinFontSize) % FontSizeStep
}

// Bookmark is a saved place in a document.
type Bookmark struct {
	ScrollPosition float64   `json:"scrollPosition"`
	Progress       float64   `json:"progress"`
	Timestamp      time.Time `json:"timestamp"`
	URL            string    `json:"url"`
	FontSize       int       `json:"fontSize,omitempty"`
}

// Metadata is the user's title/author override for a document.
type Metadata struct {
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// Prefs reads and writes one reader's state.
type Prefs struct {
	kv     kv.Store
	bus    *events.Bus
	logger *slog.Logger
	user   string
	now    func() time.Time
}

// Option configures Prefs.
type Option func(*Prefs)

// WithBus publishes MetadataUpdated events on b.
func WithBus(b *events.Bus) Option { return func(p *Prefs) { p.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prefs) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithUser tags published events with the reader id.
func WithUser(id string) Option { return func(p *Prefs) { p.user = id } }

// WithClock sets the clock used to stamp bookmarks.
func WithClock(now func() time.Time) Option { return func(p *Prefs) { p.now = now } }

// New returns Prefs over store.
func New(store kv.Store, opts ...Option) *Prefs {
	p := &Prefs{kv: store, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

func urlKey(prefix, url string) string {
	return prefix + base64.StdEncoding.EncodeToString([]byte(url))
}

// ReadingPosition returns the saved scroll offset for url.
func (p *Prefs) ReadingPosition(ctx context.Context, url string) (float64, bool) {
	raw, ok := p.get(ctx, urlKey(positionPrefix, url))
	if !ok {
		return 0, false
	}
	pos, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.logger.Warn("prefs: reading position unreadable", "url", url, "error", err)
		return 0, false
	}
	return pos, true
}

// SaveReadingPosition stores the scroll offset for url.
func (p *Prefs) SaveReadingPosition(ctx context.Context, url string, pos float64) error {
	return p.set(ctx, urlKey(positionPrefix, url), strconv.FormatFloat(pos, 'f', -1, 64))
}

// Bookmark returns the bookmark saved for url.
func (p *Prefs) Bookmark(ctx context.Context, url string) (*Bookmark, bool) {
	var b Bookmark
	if !p.getJSON(ctx, urlKey(bookmarkPrefix, url), &b) {
		return nil, false
	}
	return &b, true
}

// SaveBookmark stores b under its URL, stamping it when needed.
func (p *Prefs) SaveBookmark(ctx context.Context, b Bookmark) (Bookmark, error) {
	if b.URL == "" {
		return b, fmt.Errorf("prefs: bookmark without url")
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = p.now().UTC()
	}
	return b, p.setJSON(ctx, urlKey(bookmarkPrefix, b.URL), b)
}

// Settings returns the saved display settings or the defaults.
func (p *Prefs) Settings(ctx context.Context) Settings {
	var s Settings
	p.getJSON(ctx, settingsKey, &s)
	s.Normalize()
	return s
}

// SaveSettings normalises and stores s.
func (p *Prefs) SaveSettings(ctx context.Context, s Settings) (Settings, error) {
	s.Normalize()
	return s, p.setJSON(ctx, settingsKey, s)
}

// AllMetadata returns every metadata override, keyed by document path.
func (p *Prefs) AllMetadata(ctx context.Context) map[string]Metadata {
	all := map[string]Metadata{}
	p.getJSON(ctx, metadataKey, &all)
	if all == nil {
		all = map[string]Metadata{}
	}
	return all
}

// Metadata returns the override for path.
func (p *Prefs) Metadata(ctx context.Context, path string) (Metadata, bool) {
	m, ok := p.AllMetadata(ctx)[path]
	return m, ok
}

// SaveMetadata trims and stores the override for path; an override left
// with neither title nor author is removed. Listeners get MetadataUpdated.
func (p *Prefs) SaveMetadata(ctx context.Context, path string, m Metadata) (Metadata, error) {
	if path == "" {
		return m, fmt.Errorf("prefs: metadata without path")
	}
	m.Title = strings.TrimSpace(m.Title)
	m.Author = strings.TrimSpace(m.Author)

	all := p.AllMetadata(ctx)
	if m.Title == "" && m.Author == "" {
		delete(all, path)
	} else {
		all[path] = m
	}
	if err := p.setJSON(ctx, metadataKey, all); err != nil {
		return m, err
	}
	p.bus.Publish(events.Event{
		Type:   events.MetadataUpdated,
		UserID: p.user,
		Path:   path,
		Data:   m,
	})
	return m, nil
}

// DisplayTitle returns the user's title for path, or fallback.
func (p *Prefs) DisplayTitle(ctx context.Context, path, fallback string) string {
	if m, ok := p.Metadata(ctx, path); ok && m.Title != "" {
		return m.Title
	}
	return fallback
}

func (p *Prefs) get(ctx context.Context, key string) (string, bool) {
	raw, ok, err := p.kv.Get(ctx, key)
	if err != nil {
		p.logger.Warn("prefs: read failed", "key", key, "error", err)
		return "", false
	}
	return raw, ok
}

// getJSON decodes the value at key into v. Malformed values count as
// absent.
func (p *Prefs) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok := p.get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		p.logger.Warn("prefs: stored value unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (p *Prefs) set(ctx context.Context, key, value string) error {
	if err := p.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("prefs: write %s: %w", key, err)
	}
	return nil
}

func (p *Prefs) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode %s: %w", key, err)
	}
	return p.set(ctx, key, string(data))
}
