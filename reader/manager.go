package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/chunker"
	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dom"
	"github.com/hazyhaar/liseuse/kit"
	"github.com/hazyhaar/liseuse/kv"
	"github.com/hazyhaar/liseuse/observability"
	"github.com/hazyhaar/liseuse/prefs"
)

var (
	ErrSessionNotFound    = errors.New("reader: session not found")
	ErrTooManySessions    = errors.New("reader: too many open sessions")
	ErrAnnotationNotFound = errors.New("reader: annotation not found")
)

// Manager opens documents into sessions and serves the per-reader stores.
type Manager struct {
	cfg    Config
	loader *content.Loader
	kv     kv.Store
	deps   deps

	mu       sync.Mutex
	sessions map[string]*Session
	stores   map[docKey]*annotation.Store
}

type docKey struct{ user, path string }

// NewManager creates a manager reading documents through loader and keeping
// reader state in store, one key namespace per reader.
func NewManager(cfg Config, loader *content.Loader, store kv.Store, opts ...Option) *Manager {
	cfg.defaults()
	d := defaultDeps()
	for _, o := range opts {
		o(&d)
	}
	return &Manager{
		cfg:      cfg,
		loader:   loader,
		kv:       store,
		deps:     d,
		sessions: make(map[string]*Session),
		stores:   make(map[docKey]*annotation.Store),
	}
}

func (m *Manager) userKV(user string) kv.Store {
	return kv.WithPrefix(m.kv, "u:"+user+":")
}

// Prefs returns the preference store of user.
func (m *Manager) Prefs(user string) *prefs.Prefs {
	user = orAnonymous(user)
	return prefs.New(m.userKV(user),
		prefs.WithBus(m.deps.bus),
		prefs.WithLogger(m.cfg.Logger),
		prefs.WithUser(user),
		prefs.WithClock(m.deps.now),
	)
}

func (m *Manager) newAnnotationStore(user, path string) *annotation.Store {
	opts := []annotation.Option{
		annotation.WithLogger(m.cfg.Logger.With("user", user)),
		annotation.WithClock(m.deps.now),
	}
	if m.deps.noteIDs != nil {
		opts = append(opts, annotation.WithIDGenerator(m.deps.noteIDs))
	}
	return annotation.NewStore(m.userKV(user), opts...)
}

// sharedStoreLocked returns the store shared by the live sessions of one
// reader on one document.
func (m *Manager) sharedStoreLocked(ctx context.Context, user, path string) *annotation.Store {
	k := docKey{user, path}
	if s, ok := m.stores[k]; ok {
		return s
	}
	s := m.newAnnotationStore(user, path)
	s.SetActiveDocument(ctx, path)
	m.stores[k] = s
	return s
}

// Open loads path and starts a reading session for user.
func (m *Manager) Open(ctx context.Context, user, path string) (*Session, error) {
	user = orAnonymous(user)
	doc, err := m.loader.Load(path)
	if err != nil {
		return nil, err
	}
	page := dom.NewPage(doc.Source, doc.Type)

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	store := m.sharedStoreLocked(ctx, user, doc.Path)
	s := newSession(m.deps.newID(), user, doc.Path, m.cfg, m.deps, store, m.Prefs(user))
	m.sessions[s.ID] = s
	open := len(m.sessions)
	m.mu.Unlock()

	if err := s.Init(ctx, page); err != nil {
		m.drop(s)
		return nil, err
	}
	m.deps.metrics.RecordCount(observability.MetricSessionsOpen, open, nil)
	m.deps.evlog.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "session",
		ServiceName: "liseuse",
		EntityType:  "document",
		EntityID:    doc.Path,
		UserID:      user,
		Action:      "open",
		Success:     true,
	})
	m.cfg.Logger.Info("reader: session opened", "session", s.ID, "user", user, "path", doc.Path, "type", doc.Type)
	return s, nil
}

// Get returns the session id of user.
func (m *Manager) Get(user, id string) (*Session, error) {
	user = orAnonymous(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != user {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends a session.
func (m *Manager) Close(ctx context.Context, user, id string) error {
	s, err := m.Get(user, id)
	if err != nil {
		return err
	}
	s.Close(ctx)
	m.drop(s)
	m.cfg.Logger.Info("reader: session closed", "session", id)
	return nil
}

// CloseAll ends every session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close(ctx)
		m.drop(s)
	}
}

func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
	for _, other := range m.sessions {
		if other.UserID == s.UserID && other.Path == s.Path {
			return
		}
	}
	delete(m.stores, docKey{s.UserID, s.Path})
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) liveSessions(user, path string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == user && s.Path == path {
			out = append(out, s)
		}
	}
	return out
}

// documentStore returns the live shared store for the document, or a
// fresh one loaded from storage.
func (m *Manager) documentStore(ctx context.Context, user, path string) *annotation.Store {
	m.mu.Lock()
	s, ok := m.stores[docKey{user, path}]
	m.mu.Unlock()
	if ok {
		return s
	}
	s = m.newAnnotationStore(user, path)
	s.SetActiveDocument(ctx, path)
	return s
}

// Annotations returns the annotations user holds on path, whether or not a
// session is open.
func (m *Manager) Annotations(ctx context.Context, user, path string) ([]annotation.Record, error) {
	user = orAnonymous(user)
	if path == "" {
		return nil, fmt.Errorf("reader: annotations: empty path")
	}
	return m.documentStore(ctx, user, path).All(), nil
}

// DeleteAnnotation removes an annotation and unpaints it in live sessions.
func (m *Manager) DeleteAnnotation(ctx context.Context, user, path, id string) error {
	user = orAnonymous(user)
	if !m.documentStore(ctx, user, path).Delete(ctx, id) {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	for _, s := range m.liveSessions(user, path) {
		s.mu.Lock()
		s.annotationDeletedLocked(ctx, id)
		s.mu.Unlock()
	}
	return nil
}

// UpdateComment changes the comment of an annotation.
func (m *Manager) UpdateComment(ctx context.Context, user, path, id, comment string) error {
	user = orAnonymous(user)
	if !m.documentStore(ctx, user, path).UpdateComment(ctx, id, comment) {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	for _, s := range m.liveSessions(user, path) {
		s.mu.Lock()
		s.commentUpdatedLocked(id, comment)
		s.mu.Unlock()
	}
	return nil
}

// Export renders the annotations user holds on path as markdown. The
// document is rendered in full for the purpose, independent of any session.
func (m *Manager) Export(ctx context.Context, user, path string) (string, error) {
	user = orAnonymous(user)
	doc, err := m.loader.Load(path)
	if err != nil {
		return "", err
	}
	page := dom.NewPage(doc.Source, doc.Type)
	for _, c := range chunker.Split(strings.TrimSpace(doc.Source), doc.Type, m.cfg.Chunk) {
		if err := page.AppendChunk(c.Text); err != nil {
			return "", fmt.Errorf("reader: export: %w", err)
		}
	}
	records := m.documentStore(ctx, user, doc.Path).All()
	Restore(page, records, m.cfg.Logger)

	title := m.Prefs(user).DisplayTitle(ctx, doc.Path, doc.Name)
	return ExportMarkdown(title, page, records)
}

func orAnonymous(user string) string {
	if user == "" {
		return kit.AnonymousUser
	}
	return user
}
