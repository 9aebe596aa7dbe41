// Package server exposes a layout store over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/projects/{projectID}/layout
//	PUT  /v1/projects/{projectID}/layout
//
// Errors are written as {"code", "message"} with a status derived from the
// error code, which is exactly what remote.HTTPClient maps back.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/panelsync/pkg/buildinfo"
	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// DefaultMaxBody bounds the size of a PUT body.
const DefaultMaxBody = 8 << 20

// Config configures a [Server].
type Config struct {
	// Store is the authoritative layout store. Required.
	Store remote.Gateway
	// Push, when set, receives a PANEL_UPDATE after every accepted PUT.
	Push push.Channel
	// Logger defaults to a discarding logger.
	Logger *log.Logger
	// MaxBody defaults to DefaultMaxBody.
	MaxBody int64
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Server is the HTTP face of a layout store.
type Server struct {
	cfg    Config
	logger *log.Logger
	router chi.Router
}

// New builds the router for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "server needs a store")
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Server{cfg: cfg, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Get("/layout", s.getLayout)
		r.Put("/layout", s.putLayout)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errors.New(errors.ErrCodeNotFound, "no route for %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, remote.ErrorBody{
			Code:    errors.ErrCodeUnsupported,
			Message: r.Method + " is not supported here",
		})
	})
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		buildinfo.Info
	}{"ok", buildinfo.Current()})
}

func (s *Server) getLayout(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	l, err := s.cfg.Store.FetchLayout(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, remote.NewLayoutBody(l))
}

func (s *Server) putLayout(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var body remote.PersistBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBody))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, errors.New(errors.ErrCodeValidation, "decode layout: %v", err))
		return
	}

	issued := s.cfg.Clock()
	req := body.Request()
	ack, err := s.cfg.Store.PersistLayout(r.Context(), projectID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("layout stored",
		"project", projectID,
		"revision", ack.Revision,
		"panels", len(req.Panels),
		"request_id", middleware.GetReqID(r.Context()),
	)

	if s.cfg.Push != nil {
		ev := push.Event{
			Type:      push.EventPanelUpdate,
			ProjectID: projectID,
			Panels:    req.Panels,
			Timestamp: issued,
			Origin:    r.Header.Get(remote.ClientHeader),
			Revision:  ack.Revision,
		}
		// The write is durable already; a lost broadcast only delays peers
		// until their next refresh.
		if err := s.cfg.Push.Publish(r.Context(), ev); err != nil {
			s.logger.Warn("push publish failed", "project", projectID, "revision", ack.Revision, "err", err)
		}
	}
	s.writeJSON(w, http.StatusOK, remote.AckBody{Revision: ack.Revision, LastUpdated: ack.LastUpdated})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, remote.ErrorBody{Code: code, Message: errors.UserMessage(err)})
}

func statusFor(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeValidation, errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case errors.ErrCodeTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// logRequests logs one line per request at debug level, failures at warn.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		kv := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusBadRequest {
			s.logger.Warn("request", kv...)
			return
		}
		s.logger.Debug("request", kv...)
	})
}
