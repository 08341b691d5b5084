package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/botscript/internal/bridge"
	"github.com/roach88/botscript/internal/engine"
)

// maxConfigSize bounds configuration request bodies.
const maxConfigSize = 1 << 20

// Server serves the bridge over HTTP.
type Server struct {
	bridge      *bridge.Bridge
	packagesDir string
	feedCap     int
	logger      *slog.Logger

	mu    sync.Mutex
	feeds map[bridge.Handle]*feed
}

// Option configures a Server.
type Option func(*Server)

// WithPackagesDir sets the directory listed by GET /packages.
func WithPackagesDir(dir string) Option {
	return func(s *Server) { s.packagesDir = dir }
}

// WithFeedCapacity bounds the notifications buffered per handle.
func WithFeedCapacity(n int) Option {
	return func(s *Server) { s.feedCap = n }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server over b.
func New(b *bridge.Bridge, opts ...Option) *Server {
	s := &Server{
		bridge:  b,
		feedCap: DefaultFeedCapacity,
		logger:  slog.Default(),
		feeds:   make(map[bridge.Handle]*feed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router with all routes mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/packages", s.HandlePackages)
	r.Get("/identifier", s.HandleIdentifier)

	r.Route("/bots", func(r chi.Router) {
		r.Post("/", s.HandleConstruct)
		r.Route("/{handle}", func(r chi.Router) {
			r.Get("/", s.HandleGet)
			r.Delete("/", s.HandleShutdown)
			r.Post("/load", s.HandleLoad)
			r.Post("/execute", s.HandleExecute)
			r.Get("/configuration", s.HandleConfiguration)
			r.Get("/notifications", s.HandleNotifications)
		})
	})
	return r
}

// botView is the JSON form of one instance.
type botView struct {
	Handle     bridge.Handle `json:"handle"`
	Status     string        `json:"status"`
	Identifier string        `json:"identifier"`
	Username   string        `json:"username"`
	Package    string        `json:"package"`
	Server     string        `json:"server"`
	Modules    []string      `json:"modules"`
}

type executeRequest struct {
	Command  string `json:"command"`
	Argument string `json:"argument"`
}

type resultBody struct {
	Error string `json:"error"`
}

type notificationsBody struct {
	Notifications []Entry `json:"notifications"`
	Last          uint64  `json:"last"`
}

// HandlePackages handles GET /packages.
func (s *Server) HandlePackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"packages": s.bridge.LoadPackages(s.packagesDir),
	})
}

// HandleIdentifier handles GET /identifier.
func (s *Server) HandleIdentifier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]string{
		"identifier": bridge.CreateIdentifier(q.Get("u"), q.Get("p"), q.Get("s")),
	})
}

// HandleConstruct handles POST /bots.
func (s *Server) HandleConstruct(w http.ResponseWriter, r *http.Request) {
	f := newFeed(s.feedCap)
	h := s.bridge.Construct(f)

	s.mu.Lock()
	s.feeds[h] = f
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]bridge.Handle{"handle": h})
}

// HandleGet handles GET /bots/{handle}.
func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	h, inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, botView{
		Handle:     h,
		Status:     inst.Status().String(),
		Identifier: inst.Identifier(),
		Username:   inst.Username(),
		Package:    inst.Package(),
		Server:     inst.Server(),
		Modules:    inst.Modules(),
	})
}

// HandleLoad handles POST /bots/{handle}/load. The body is the
// configuration document; the response is sent once loading completes.
func (s *Server) HandleLoad(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.instance(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigSize))
	if err != nil {
		writeResult(w, http.StatusBadRequest, fmt.Sprintf("%s: read body: %v", engine.KindConfigValidation, err))
		return
	}

	err = s.bridge.LoadWait(r.Context(), h, string(body))
	writeResult(w, statusFor(err), bridge.ErrorString(err))
}

// HandleExecute handles POST /bots/{handle}/execute.
func (s *Server) HandleExecute(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.instance(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, fmt.Sprintf("%s: invalid request body", engine.KindMalformedCommand))
		return
	}

	err := s.bridge.Execute(h, req.Command, req.Argument)
	writeResult(w, statusFor(err), bridge.ErrorString(err))
}

// HandleConfiguration handles GET /bots/{handle}/configuration.
func (s *Server) HandleConfiguration(w http.ResponseWriter, r *http.Request) {
	_, inst, ok := s.instance(w, r)
	if !ok {
		return
	}

	includePassword, _ := strconv.ParseBool(r.URL.Query().Get("password"))
	blob := inst.Configuration(includePassword)
	if blob == "" {
		writeResult(w, http.StatusConflict, fmt.Sprintf("%s: no configuration loaded", engine.KindLifecycleViolation))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, blob)
}

// HandleNotifications handles GET /bots/{handle}/notifications.
func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.instance(w, r)
	if !ok {
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeResult(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = n
	}

	s.mu.Lock()
	f := s.feeds[h]
	s.mu.Unlock()
	if f == nil {
		writeJSON(w, http.StatusOK, notificationsBody{Notifications: []Entry{}})
		return
	}

	entries, last := f.after(after)
	writeJSON(w, http.StatusOK, notificationsBody{Notifications: entries, Last: last})
}

// HandleShutdown handles DELETE /bots/{handle}: shutdown, then release.
func (s *Server) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.instance(w, r)
	if !ok {
		return
	}

	if err := s.bridge.Shutdown(h); err != nil {
		writeResult(w, statusFor(err), bridge.ErrorString(err))
		return
	}
	if err := s.bridge.Release(h); err != nil {
		writeResult(w, statusFor(err), bridge.ErrorString(err))
		return
	}

	s.mu.Lock()
	delete(s.feeds, h)
	s.mu.Unlock()

	writeResult(w, http.StatusOK, "")
}

// instance resolves the {handle} parameter, writing 404 when unknown.
func (s *Server) instance(w http.ResponseWriter, r *http.Request) (bridge.Handle, *engine.Instance, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeResult(w, http.StatusBadRequest, fmt.Sprintf("%s: invalid handle", engine.KindLifecycleViolation))
		return 0, nil, false
	}

	h := bridge.Handle(n)
	inst, err := s.bridge.Instance(h)
	if err != nil {
		writeResult(w, http.StatusNotFound, bridge.ErrorString(err))
		return 0, nil, false
	}
	return h, inst, true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		return http.StatusInternalServerError
	}
	switch engErr.Kind {
	case engine.KindConfigValidation, engine.KindMalformedCommand,
		engine.KindUnknownModule, engine.KindUnsupportedAction, engine.KindInvalidValue:
		return http.StatusBadRequest
	case engine.KindLifecycleViolation, engine.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, resultBody{Error: msg})
}
