package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/kv"
)

var (
	ErrNoActiveDocument = errors.New("annotation: no active document")
	ErrInvalidLocator   = errors.New("annotation: invalid locator")
	ErrInvalidKind      = errors.New("annotation: invalid type")
)

// Store holds the records of the active document. Memory is authoritative:
// a failed write is logged and the mutation stands.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time

	mu      sync.Mutex
	active  string
	records []Record
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for new record ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store persisting into kv. No document is active.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		logger: slog.Default(),
		newID:  idgen.Millis("note_", idgen.NanoID(9)),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetActiveDocument switches to key and loads its records. An empty key
// leaves the store without an active document.
func (s *Store) SetActiveDocument(ctx context.Context, key string) {
	var records []Record
	if key != "" {
		records = s.read(ctx, key)
	}
	s.mu.Lock()
	s.active = key
	s.records = records
	s.mu.Unlock()
}

// ActiveDocument returns the active document key.
func (s *Store) ActiveDocument() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Add stores rec under a fresh id and returns the stored copy. The
// timestamp and colour are filled in when missing.
func (s *Store) Add(ctx context.Context, rec Record) (Record, error) {
	if rec.Locator == nil {
		return Record{}, fmt.Errorf("%w: missing", ErrInvalidLocator)
	}
	if err := rec.Locator.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if rec.Kind == "" {
		rec.Kind = Highlight
	}
	if !rec.Kind.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidKind, rec.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return Record{}, ErrNoActiveDocument
	}
	if rec.Color == "" {
		rec.Color = DefaultColor(rec.Kind)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if rec.SelectedText == "" {
		rec.SelectedText = rec.Locator.SelectedText
	}
	rec.ID = s.newID()
	rec.DocumentKey = s.active
	s.records = append(s.records, rec)
	s.persistLocked(ctx)
	return rec, nil
}

// Delete removes the record with id. It reports whether one was removed.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" || id == "" {
		return false
	}
	before := len(s.records)
	s.records = slices.DeleteFunc(s.records, func(r Record) bool { return r.ID == id })
	if len(s.records) == before {
		return false
	}
	s.persistLocked(ctx)
	return true
}

// UpdateComment replaces the comment of the record with id.
func (s *Store) UpdateComment(ctx context.Context, id, comment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" || id == "" {
		return false
	}
	i := slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return false
	}
	s.records[i].Comment = comment
	s.persistLocked(ctx)
	return true
}

// All returns a copy of the active document's records in insertion order.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Get returns the record with id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

func (s *Store) persistLocked(ctx context.Context) {
	list := s.records
	if list == nil {
		list = []Record{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		s.logger.Error("annotation: encode failed", "document", s.active, "error", err)
		return
	}
	if err := s.kv.Set(ctx, StorageKey(s.active), string(data)); err != nil {
		s.logger.Error("annotation: persist failed", "document", s.active, "error", err)
	}
}

func (s *Store) read(ctx context.Context, key string) []Record {
	records, err := Load(ctx, s.kv, key)
	if err != nil {
		s.logger.Warn("annotation: stored list unreadable, starting empty", "document", key, "error", err)
		return nil
	}
	return records
}

// Load reads the stored records of document key without making it active.
// A missing list is empty; an unreadable one is an error.
func Load(ctx context.Context, store kv.Store, key string) ([]Record, error) {
	raw, ok, err := store.Get(ctx, StorageKey(key))
	if err != nil {
		return nil, fmt.Errorf("annotation: load %q: %w", key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("annotation: decode %q: %w", key, err)
	}
	return records, nil
}
