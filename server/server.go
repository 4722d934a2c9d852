// Package server exposes reading sessions over HTTP, a websocket event
// stream and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/liseuse/anchor"
	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/auth"
	"github.com/hazyhaar/liseuse/chunker"
	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/horosafe"
	"github.com/hazyhaar/liseuse/kit"
	"github.com/hazyhaar/liseuse/observability"
	"github.com/hazyhaar/liseuse/prefs"
	"github.com/hazyhaar/liseuse/reader"
	"github.com/hazyhaar/liseuse/shield"
)

// Server wires the reader manager to its transports.
type Server struct {
	cfg     Config
	mgr     *reader.Manager
	hub     *Hub
	mcp     *mcp.Server
	metrics *observability.MetricsManager
	logger  *slog.Logger
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves the recorded totals on /api/stats.
func WithMetrics(m *observability.MetricsManager) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the router. bus must be the bus the manager publishes on.
func New(cfg Config, mgr *reader.Manager, bus *events.Bus, logger *slog.Logger, opts ...Option) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		hub:    NewHub(bus, logger),
		mcp:    NewMCPServer(mgr),
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// NewMCPServer returns an MCP server carrying the reader tools.
func NewMCPServer(mgr *reader.Manager) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "liseuse", Version: "1.0.0"}, nil)
	mgr.RegisterMCP(srv)
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub; its Run loop must be started.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(s.cfg.MaxBody) {
		r.Use(mw)
	}
	r.Use(auth.Middleware([]byte(s.cfg.JWTSecret)))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.mgr.Count()})
	})

	r.Group(func(r chi.Router) {
		if s.cfg.RequireAuth {
			r.Use(auth.RequireAuth)
		}
		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.openSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.withSession(s.getSession))
				r.Delete("/", s.closeSession)
				r.Post("/scroll", s.withSession(s.scroll))
				r.Post("/restore", s.withSession(s.restore))
				r.Get("/annotations", s.withSession(s.listSessionAnnotations))
				r.Post("/annotations", s.withSession(s.annotate))
				r.Delete("/annotations/{noteID}", s.withSession(s.deleteAnnotation))
				r.Patch("/annotations/{noteID}", s.withSession(s.updateComment))
				r.Post("/bookmark", s.withSession(s.bookmark))
			})
		})

		e := s.mgr.Endpoints()
		r.Get("/api/annotations", serveEndpoint(e.Annotations, pathQuery))
		r.Get("/api/export", s.export(e.Export))

		r.Get("/api/metadata", s.getMetadata)
		r.Put("/api/metadata", s.putMetadata)
		r.Get("/api/stats", s.stats)
		r.Get("/api/settings", s.getSettings)
		r.Put("/api/settings", s.putSettings)

		r.Handle("/ws", s.hub)
		mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		r.Handle("/mcp", mcpHandler)
		r.Handle("/mcp/*", mcpHandler)
	})
	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *reader.Session)

// withSession resolves {id} against the sessions of the requesting reader.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.mgr.Get(kit.UserOrAnonymous(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req reader.PathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	sess, err := s.mgr.Open(r.Context(), kit.UserOrAnonymous(r.Context()), req.Path)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request, sess *reader.Session) {
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Close(r.Context(), kit.UserOrAnonymous(r.Context()), id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reader.StatusResponse{OK: true, ID: id})
}

// ScrollResponse carries the page after a scroll that loaded a chunk.
type ScrollResponse struct {
	reader.ScrollResult
	HTML string `json:"html,omitempty"`
}

func (s *Server) scroll(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	var v chunker.Viewport
	if !decodeBody(w, r, &v) {
		return
	}
	res, err := sess.Scroll(r.Context(), v)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := ScrollResponse{ScrollResult: res}
	if res.Loaded {
		out.HTML = sess.HTML()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	rep, err := sess.Restore(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listSessionAnnotations(w http.ResponseWriter, _ *http.Request, sess *reader.Session) {
	recs := sess.Annotations()
	if recs == nil {
		recs = []annotation.Record{}
	}
	writeJSON(w, http.StatusOK, reader.AnnotationsResponse{Path: sess.Path, Annotations: recs})
}

// AnnotateResponse returns the new record and the repainted page.
type AnnotateResponse struct {
	Annotation annotation.Record `json:"annotation"`
	HTML       string            `json:"html"`
}

func (s *Server) annotate(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	var req reader.AnnotateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := sess.Annotate(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AnnotateResponse{Annotation: rec, HTML: sess.HTML()})
}

func (s *Server) deleteAnnotation(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	id := chi.URLParam(r, "noteID")
	if err := s.mgr.DeleteAnnotation(r.Context(), sess.UserID, sess.Path, id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reader.StatusResponse{OK: true, ID: id})
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	var req struct {
		Comment string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "noteID")
	if err := s.mgr.UpdateComment(r.Context(), sess.UserID, sess.Path, id, req.Comment); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reader.StatusResponse{OK: true, ID: id})
}

func (s *Server) bookmark(w http.ResponseWriter, r *http.Request, sess *reader.Session) {
	var req reader.BookmarkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := sess.SaveBookmark(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// export answers JSON, or the bare digest with ?format=markdown.
func (s *Server) export(e kit.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := pathQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := e(kit.WithTransport(r.Context(), "http"), req)
		if err != nil {
			fail(w, r, err)
			return
		}
		if r.URL.Query().Get("format") == "markdown" {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, resp.(*reader.ExportResponse).Markdown)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getMetadata(w http.ResponseWriter, r *http.Request) {
	p := s.mgr.Prefs(kit.UserOrAnonymous(r.Context()))
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusOK, p.AllMetadata(r.Context()))
		return
	}
	md, _ := p.Metadata(r.Context(), path)
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) putMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	var req prefs.Metadata
	if !decodeBody(w, r, &req) {
		return
	}
	md, err := s.mgr.Prefs(kit.UserOrAnonymous(r.Context())).SaveMetadata(r.Context(), path, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// stats returns metric totals, over the last ?days when given.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, errors.New("metrics disabled"))
		return
	}
	var q observability.MetricQuery
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid days %q", d))
			return
		}
		q.Since = time.Now().AddDate(0, 0, -n)
	}
	totals, err := s.metrics.Totals(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.mgr.Count(), "totals": totals})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Prefs(kit.UserOrAnonymous(r.Context())).Settings(r.Context()))
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req prefs.Settings
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := s.mgr.Prefs(kit.UserOrAnonymous(r.Context())).SaveSettings(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// serveEndpoint adapts a kit endpoint to HTTP; decode builds the request
// from the query.
func serveEndpoint(e kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := e(kit.WithTransport(r.Context(), "http"), req)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func pathQuery(r *http.Request) (any, error) {
	path := r.URL.Query().Get("path")
	if path == "" {
		return nil, errors.New("path is required")
	}
	return &reader.PathRequest{Path: path}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reader.ErrSessionNotFound),
		errors.Is(err, reader.ErrAnnotationNotFound),
		errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, horosafe.ErrPathTraversal),
		errors.Is(err, reader.ErrBadSelection),
		errors.Is(err, anchor.ErrEmptySelection),
		errors.Is(err, anchor.ErrInvalidLocator),
		errors.Is(err, annotation.ErrInvalidLocator),
		errors.Is(err, annotation.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, content.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, reader.ErrClosed):
		return http.StatusGone
	case errors.Is(err, reader.ErrTooManySessions):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server-side failures are logged
// with the request's logger.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// Shutdown closes every session, saving reading positions.
func (s *Server) Shutdown(ctx context.Context) {
	s.mgr.CloseAll(ctx)
}
