// Package api is the HTTP surface of the tracker: the plugin-backed query
// endpoint, the status endpoint, the display event stream, the source
// channel mount and Prometheus metrics.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/broker"
	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
	"github.com/liftnet/tracker/internal/model"
)

// Config holds HTTP server settings.
type Config struct {
	Host         string
	Port         int
	WSPath       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8080,
		WSPath:      "/ws",
		ReadTimeout: 10 * time.Second,
		// SSE streams stay open; only reads are bounded.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}

// Server wires the router. The channel handler and the optional upstream
// proxy are injected as plain http.Handlers.
type Server struct {
	cfg     Config
	router  *mux.Router
	server  *http.Server
	hub     *hub.Hub
	broker  *broker.Broker
	plugins *PluginRegistry
	metrics *metrics.Registry
	started time.Time
}

func NewServer(cfg Config, h *hub.Hub, b *broker.Broker, plugins *PluginRegistry, m *metrics.Registry, channel http.Handler, upstream http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		hub:     h,
		broker:  b,
		plugins: plugins,
		metrics: m,
		started: time.Now(),
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// The source channel and the display stream bypass the JSON layer.
	s.router.Handle(cfg.WSPath, channel)
	s.router.Handle("/events", b).Methods(http.MethodGet)
	s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.Use(jsonContentTypeMiddleware)
	apiRouter.HandleFunc("/scoreboard", s.handleScoreboard).Methods(http.MethodGet)
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Unmatched paths fall through to the upstream controller when a proxy
	// is configured, so the tracker can co-host in front of it.
	if upstream != nil {
		s.router.NotFoundHandler = upstream
	} else {
		s.router.NotFoundHandler = http.HandlerFunc(notFound)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the handler tree (testing and embedding).
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// queryResponse is the envelope of /api/scoreboard.
type queryResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pluginType := q.Get("type")
	platform := q.Get("platform")
	if pluginType == "" {
		writeJSON(w, http.StatusBadRequest, queryResponse{Error: "missing type parameter"})
		return
	}

	opts := make(map[string]string)
	for key, values := range q {
		if key == "type" || key == "platform" || len(values) == 0 {
			continue
		}
		opts[key] = values[0]
	}

	data, err := s.plugins.Compute(r.Context(), pluginType, model.PlatformID(platform), opts)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, queryResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Success: true, Data: data})
}

// statusResponse is the envelope of /api/status.
type statusResponse struct {
	Readiness   hub.Readiness      `json:"readiness"`
	Platforms   []model.PlatformID `json:"platforms"`
	Locales     []string           `json:"locales"`
	Subscribers int                `json:"subscribers"`
	Plugins     []string           `json:"plugins"`
	Frames      map[string]float64 `json:"frames"`
	UptimeSec   int64              `json:"uptimeSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Readiness:   s.hub.GetReadiness(),
		Platforms:   s.hub.Platforms(),
		Locales:     s.hub.Locales(),
		Subscribers: s.broker.Count(),
		Plugins:     s.plugins.Types(),
		Frames:      s.metrics.CounterTotals("tracker_frames_total", "type"),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, queryResponse{Error: "not found"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Displays are served from arbitrary venue hosts.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures status codes for the request log. SSE needs the
// wrapped writer to keep flushing.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the websocket upgrade working behind the logging wrapper.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
