package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/anchor"
	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/chunker"
	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dom"
	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/highlight"
	"github.com/hazyhaar/liseuse/observability"
	"github.com/hazyhaar/liseuse/prefs"
)

var (
	ErrNotInitialised = errors.New("reader: session not initialised")
	ErrInitialised    = errors.New("reader: session already initialised")
	ErrClosed         = errors.New("reader: session closed")
	ErrBadSelection   = errors.New("reader: invalid selection")
)

// ScrollTarget is where the client should scroll once layout has settled.
type ScrollTarget struct {
	ScrollPosition float64 `json:"scrollPosition"`
	FontSize       int     `json:"fontSize,omitempty"`
	Source         string  `json:"source"` // "bookmark" or "position"
}

// Boundary is one end of a selection, addressed in the session's DOM.
type Boundary struct {
	Path   anchor.Path `json:"path"`
	Offset int         `json:"offset"`
}

// Selection is a range of the session's DOM, either as two boundaries or as
// offsets into the flattened text of the content container.
type Selection struct {
	Start       *Boundary `json:"start,omitempty"`
	End         *Boundary `json:"end,omitempty"`
	StartOffset *int      `json:"startOffset,omitempty"`
	EndOffset   *int      `json:"endOffset,omitempty"`
}

// AnnotateRequest creates an annotation from a selection.
type AnnotateRequest struct {
	Kind      annotation.Kind `json:"type"`
	Color     string          `json:"color,omitempty"`
	Comment   string          `json:"comment,omitempty"`
	Selection Selection       `json:"selection"`
}

// View is the client-facing state of a session.
type View struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	Type         content.Type  `json:"type"`
	Rendered     int           `json:"rendered"`
	Total        int           `json:"total"`
	Progress     float64       `json:"progress"`
	Done         bool          `json:"done"`
	HTML         string        `json:"html"`
	Annotations  int           `json:"annotations"`
	ScrollTarget *ScrollTarget `json:"scrollTarget,omitempty"`
}

// ScrollResult is the outcome of one scroll event.
type ScrollResult struct {
	Loaded   bool    `json:"loaded"`
	Rendered int     `json:"rendered"`
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
}

// Session is one opened document: its page, chunk pipeline and
// annotations. Methods are safe for concurrent use; all DOM work is
// serialised on the session lock.
type Session struct {
	ID     string
	UserID string
	Path   string

	cfg    Config
	deps   deps
	logger *slog.Logger
	store  *annotation.Store
	prefs  *prefs.Prefs

	mu           sync.Mutex
	page         *dom.Page
	pipe         *chunker.Pipeline
	cancels      []func() bool
	viewport     *chunker.Viewport
	target       *ScrollTarget
	starting     bool
	finalPass    bool
	closed       bool
	lastRestore  *RestoreReport
	restoreCount int
}

func newSession(id, user, path string, cfg Config, d deps, store *annotation.Store, p *prefs.Prefs) *Session {
	return &Session{
		ID:     id,
		UserID: user,
		Path:   path,
		cfg:    cfg,
		deps:   d,
		logger: cfg.Logger.With("session", id, "path", path),
		store:  store,
		prefs:  p,
	}
}

// Init is the initialisation handshake, called once the page holds its
// container and source. It chunks the source and renders the first chunks.
// When everything fits, the saved position and the annotations are restored
// after the settle delay. Otherwise the saved position is restored at once,
// a first restoration pass runs after the settle delay and a full one
// RestoreDelay after the last chunk lands.
func (s *Session) Init(ctx context.Context, page *dom.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.page != nil {
		return ErrInitialised
	}
	text, err := page.SourceText()
	if err != nil {
		return fmt.Errorf("reader: init: %w", err)
	}
	if page.Content() == nil {
		return fmt.Errorf("reader: init: %w", dom.ErrNoContainer)
	}

	chunks := chunker.Split(text, page.Type(), s.cfg.Chunk)
	page.Reset()
	s.page = page
	s.pipe = chunker.NewPipeline(chunks, page, s.cfg.Chunk,
		chunker.WithClock(s.deps.now),
		chunker.WithLogger(s.logger),
		chunker.WithOnChunk(s.chunkRendered),
		chunker.WithOnComplete(s.chunksCompleteLocked),
	)
	if s.store.ActiveDocument() != s.Path {
		s.store.SetActiveDocument(ctx, s.Path)
	}

	s.starting = true
	_, err = s.pipe.Start()
	s.starting = false
	if err != nil {
		return fmt.Errorf("reader: init: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	if s.pipe.Done() {
		s.finalPass = true
		s.scheduleLocked(s.cfg.SettleDelay, func() {
			s.restorePositionLocked(bg)
			s.restoreLocked()
		})
		return nil
	}
	s.restorePositionLocked(bg)
	s.scheduleLocked(s.cfg.SettleDelay, func() { s.restoreLocked() })
	return nil
}

// scheduleLocked runs f under the session lock after d, unless the session
// is closed by then.
func (s *Session) scheduleLocked(d time.Duration, f func()) {
	cancel := s.deps.sched.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		f()
	})
	s.cancels = append(s.cancels, cancel)
}

// chunksCompleteLocked schedules the full restoration pass once the last
// chunk has landed. Pipeline callbacks run from Init and Scroll, under the
// session lock. A document complete at Init is handled there.
func (s *Session) chunksCompleteLocked() {
	if s.starting || s.finalPass {
		return
	}
	s.finalPass = true
	s.scheduleLocked(s.cfg.RestoreDelay, func() { s.restoreLocked() })
}

func (s *Session) chunkRendered(rendered, total int) {
	s.deps.metrics.RecordCount(observability.MetricChunksRendered, 1, map[string]string{"path": s.Path})
	s.deps.bus.Publish(events.Event{
		Type:      events.ChunkRendered,
		UserID:    s.UserID,
		SessionID: s.ID,
		Path:      s.Path,
		Data:      map[string]int{"rendered": rendered, "total": total},
	})
}

// restorePositionLocked picks the bookmark, or failing that the reading
// position, as the scroll target.
func (s *Session) restorePositionLocked(ctx context.Context) {
	if b, ok := s.prefs.Bookmark(ctx, s.Path); ok {
		s.target = &ScrollTarget{ScrollPosition: b.ScrollPosition, FontSize: b.FontSize, Source: "bookmark"}
		if b.FontSize > 0 {
			settings := s.prefs.Settings(ctx)
			if settings.FontSize != b.FontSize {
				settings.FontSize = b.FontSize
				if _, err := s.prefs.SaveSettings(ctx, settings); err != nil {
					s.logger.Warn("reader: settings not saved", "error", err)
				}
			}
		}
		return
	}
	if pos, ok := s.prefs.ReadingPosition(ctx, s.Path); ok {
		s.target = &ScrollTarget{ScrollPosition: pos, Source: "position"}
	}
}

// Restore runs a restoration pass now.
func (s *Session) Restore(ctx context.Context) (RestoreReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return RestoreReport{}, err
	}
	return s.restoreLocked(), nil
}

func (s *Session) restoreLocked() RestoreReport {
	start := s.deps.now()
	rep := Restore(s.page, s.store.All(), s.logger)
	elapsed := s.deps.now().Sub(start)
	s.restoreCount++
	s.lastRestore = &rep

	labels := map[string]string{"path": s.Path}
	m := s.deps.metrics
	m.RecordCount(observability.MetricRestoreApplied, rep.Applied, labels)
	m.RecordCount(observability.MetricRestoreMissed, rep.Missed, labels)
	m.RecordCount(observability.MetricRestoreDrifted, rep.Drifted, labels)
	m.RecordCount(observability.MetricRestoreFailed, rep.Failed, labels)
	m.RecordSimple(observability.MetricRestoreDuration, float64(elapsed.Milliseconds()), "milliseconds")

	s.logger.Debug("reader: restoration pass",
		"applied", rep.Applied, "missed", rep.Missed, "drifted", rep.Drifted,
		"failed", rep.Failed, "skipped", rep.Skipped, "cleared", rep.Cleared)
	s.deps.bus.Publish(events.Event{
		Type:      events.Restored,
		UserID:    s.UserID,
		SessionID: s.ID,
		Path:      s.Path,
		Data:      rep,
	})
	return rep
}

// Scroll feeds one scroll event to the pipeline. Landing the last chunk
// schedules the full restoration pass (see chunksCompleteLocked).
func (s *Session) Scroll(ctx context.Context, v chunker.Viewport) (ScrollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return ScrollResult{}, err
	}
	s.viewport = &v
	loaded, err := s.pipe.OnScroll(v)
	if err != nil {
		return ScrollResult{}, fmt.Errorf("reader: scroll: %w", err)
	}
	return ScrollResult{
		Loaded:   loaded,
		Rendered: s.pipe.Rendered(),
		Progress: s.pipe.Progress(),
		Done:     s.pipe.Done(),
	}, nil
}

// Progress is the fraction of chunks rendered.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe == nil {
		return 0
	}
	return s.pipe.Progress()
}

// ScrollTarget returns the position restored from the bookmark or the
// reading position, nil when there is none.
func (s *Session) ScrollTarget() *ScrollTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// LastRestore returns the report of the latest restoration pass and the
// number of passes run.
func (s *Session) LastRestore() (*RestoreReport, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRestore, s.restoreCount
}

// Annotate records the selection as a new annotation and paints it.
func (s *Session) Annotate(ctx context.Context, req AnnotateRequest) (annotation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return annotation.Record{}, err
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return annotation.Record{}, fmt.Errorf("%w: %q", annotation.ErrInvalidKind, req.Kind)
	}
	container := s.page.Content()

	r, err := s.selectionRange(req.Selection)
	if err != nil {
		return annotation.Record{}, err
	}
	if r.Collapsed() {
		return annotation.Record{}, anchor.ErrEmptySelection
	}

	// Locators are captured against the unpainted page so that node paths
	// do not run through marker elements.
	start, end, err := anchor.FlatOffsets(r, container)
	if err != nil {
		return annotation.Record{}, fmt.Errorf("%w: %v", ErrBadSelection, err)
	}
	highlight.Clear(container)
	clean, err := anchor.ResolveOffsets(container, start, end)
	if err != nil {
		s.restoreLocked()
		return annotation.Record{}, fmt.Errorf("%w: %v", ErrBadSelection, err)
	}
	loc, err := anchor.Encode(clean, s.page.Type(), container)
	if err != nil {
		s.restoreLocked()
		return annotation.Record{}, err
	}

	kind := req.Kind
	if kind == "" {
		kind = annotation.Highlight
		if req.Comment != "" {
			kind = annotation.Note
		}
	}
	rec, err := s.store.Add(ctx, annotation.Record{
		Kind:    kind,
		Color:   req.Color,
		Comment: req.Comment,
		Locator: loc,
	})
	s.restoreLocked()
	if err != nil {
		return annotation.Record{}, err
	}

	s.deps.metrics.RecordCount(observability.MetricAnnotationsAdded, 1, map[string]string{"path": s.Path, "type": string(kind)})
	s.deps.evlog.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "annotation",
		ServiceName: "liseuse",
		EntityType:  "annotation",
		EntityID:    rec.ID,
		UserID:      s.UserID,
		Action:      "add",
		Success:     true,
	})
	s.deps.bus.Publish(events.Event{
		Type:      events.AnnotationAdded,
		UserID:    s.UserID,
		SessionID: s.ID,
		Path:      s.Path,
		Data:      rec,
	})
	s.logger.Info("reader: annotation added", "id", rec.ID, "type", rec.Kind)
	return rec, nil
}

func (s *Session) selectionRange(sel Selection) (*dom.Range, error) {
	switch {
	case sel.StartOffset != nil && sel.EndOffset != nil:
		r, err := anchor.ResolveOffsets(s.page.Content(), *sel.StartOffset, *sel.EndOffset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		return r, nil
	case sel.Start != nil && sel.End != nil:
		root := s.page.Root()
		sn, err := anchor.ResolvePath(root, sel.Start.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		en, err := anchor.ResolvePath(root, sel.End.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		r, err := dom.NewRange(sn, sel.Start.Offset, en, sel.End.Offset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: need start and end", ErrBadSelection)
}

// annotationDeletedLocked unpaints a record already gone from the store.
func (s *Session) annotationDeletedLocked(ctx context.Context, id string) {
	if s.page != nil {
		highlight.Remove(s.page.Content(), id)
	}
	s.deps.evlog.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "annotation",
		ServiceName: "liseuse",
		EntityType:  "annotation",
		EntityID:    id,
		UserID:      s.UserID,
		Action:      "delete",
		Success:     true,
	})
	s.deps.bus.Publish(events.Event{
		Type:      events.AnnotationDeleted,
		UserID:    s.UserID,
		SessionID: s.ID,
		Path:      s.Path,
		Data:      map[string]string{"id": id},
	})
}

func (s *Session) commentUpdatedLocked(id, comment string) {
	if s.page == nil {
		return
	}
	for _, m := range highlight.Find(s.page.Content(), id) {
		if comment == "" {
			dom.RemoveAttr(m, "title")
		} else if dom.HasClass(m, highlight.NoteClass) {
			dom.SetAttr(m, "title", comment)
		}
	}
}

// Annotations returns the records of the session's document.
func (s *Session) Annotations() []annotation.Record {
	return s.store.All()
}

// HTML returns the rendered content.
func (s *Session) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return ""
	}
	return s.page.ContentHTML()
}

// View returns the client-facing state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{ID: s.ID, Path: s.Path, ScrollTarget: s.target, Annotations: len(s.store.All())}
	if s.page != nil {
		v.Type = s.page.Type()
		v.HTML = s.page.ContentHTML()
		v.Rendered = s.pipe.Rendered()
		v.Total = s.pipe.Total()
		v.Progress = s.pipe.Progress()
		v.Done = s.pipe.Done()
	}
	return v
}

// BookmarkRequest saves the current place. A zero viewport uses the last
// one seen by Scroll.
type BookmarkRequest struct {
	Viewport chunker.Viewport `json:"viewport"`
	FontSize int              `json:"fontSize,omitempty"`
}

// SaveBookmark stores a bookmark for the session's document.
func (s *Session) SaveBookmark(ctx context.Context, req BookmarkRequest) (prefs.Bookmark, error) {
	s.mu.Lock()
	v := req.Viewport
	if v == (chunker.Viewport{}) && s.viewport != nil {
		v = *s.viewport
	}
	s.mu.Unlock()

	fontSize := req.FontSize
	if fontSize == 0 {
		fontSize = s.prefs.Settings(ctx).FontSize
	}
	var progress float64
	if h := v.ScrollHeight - v.ClientHeight; h > 0 {
		progress = v.ScrollTop / h * 100
	}
	return s.prefs.SaveBookmark(ctx, prefs.Bookmark{
		ScrollPosition: v.ScrollTop,
		Progress:       progress,
		URL:            s.Path,
		FontSize:       fontSize,
	})
}

// Close cancels pending timers, detaches the scroll trigger and saves the
// reading position.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	if s.pipe != nil {
		s.pipe.Detach()
	}
	v := s.viewport
	s.mu.Unlock()

	if v != nil {
		if err := s.prefs.SaveReadingPosition(ctx, s.Path, v.ScrollTop); err != nil {
			s.logger.Warn("reader: reading position not saved", "error", err)
		}
	}
}

func (s *Session) usableLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.page == nil {
		return ErrNotInitialised
	}
	return nil
}
