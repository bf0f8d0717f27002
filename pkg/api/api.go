// Package api is the JSON-over-HTTP protocol between dashconfd and its
// clients. The daemon serves it on a Unix domain socket; every request is
// answered with an Event, and GET /v1/events streams events the daemon
// raises on its own (external edits, update notices, saves by other clients)
// as newline-delimited JSON.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octodash/dashconf/internal/buildinfo"
	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/internal/metrics"
	"github.com/octodash/dashconf/internal/socket"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

// SubscriberHeader carries the event-stream subscription ID. The stream
// response sets it; clients echo it on save requests so the daemon does not
// push their own configSaved back to them.
const SubscriberHeader = "X-Dashconf-Subscriber"

// maxDocumentBytes bounds request bodies; real documents are a few KiB.
const maxDocumentBytes = 1 << 20

// StatusResponse represents the daemon status response.
type StatusResponse struct {
	Subscribers     int           `json:"subscribers"`
	UpdateAvailable bool          `json:"updateAvailable"`
	Document        string        `json:"document"`
	Uptime          time.Duration `json:"uptime"`
	Version         string        `json:"version"`
	Commit          string        `json:"commit"`
}

// Engine is the daemon core the server delegates to. Errors are returned
// only when a request could not be processed at all (shutdown, cancelled
// context); outcomes such as an unreadable document are Events.
type Engine interface {
	Read(ctx context.Context) (Event, error)
	Check(ctx context.Context, cfg dashconfig.Config) (Event, error)
	Save(ctx context.Context, cfg dashconfig.Config, origin string) (Event, error)
	NotifyUpdate(ctx context.Context) error
	Subscribe() (id string, events <-chan Event, cancel func())
	Subscribers() int
	UpdateAvailable() bool
	DocumentPath() string
}

// -------- server -----------------------------------------------------

// Server handles API requests over a Unix domain socket.
type Server struct {
	eng    Engine
	start  time.Time
	router chi.Router
	srv    *http.Server
	stop   context.CancelFunc
}

// New creates a server for eng with all routes registered.
func New(eng Engine) *Server {
	s := &Server{
		eng:    eng,
		start:  time.Now(),
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/config", s.handleRead)
		r.Put("/config", s.handleSave)
		r.Post("/config/check", s.handleCheck)
		r.Get("/events", s.handleEvents)
		r.Post("/update", s.handleUpdate)
		r.Get("/status", s.handleStatus)
	})
	s.router.Handle("/metrics", promhttp.Handler())

	// Event streams never go idle, so Shutdown has to end them explicitly.
	base, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	s.srv.RegisterOnShutdown(stop)
	return s
}

// Handler exposes the router, for tests and alternative listeners.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the Unix-socket HTTP server. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(path string) error {
	ln, err := socket.Listen(path)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	log.Infof("api: serving on %s", ln.Addr())
	return s.srv.Serve(ln)
}

// Shutdown gracefully shuts down the server, closing open event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stop()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ev, err := s.eng.Read(r.Context())
	s.reply(w, "read", ev, err)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	ev, err := s.eng.Check(r.Context(), cfg)
	s.reply(w, "check", ev, err)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	ev, err := s.eng.Save(r.Context(), cfg, r.Header.Get(SubscriberHeader))
	s.reply(w, "save", ev, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.NotifyUpdate(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	metrics.Requests.WithLabelValues("update", string(KindUpdateAvailable)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Subscribers:     s.eng.Subscribers(),
		UpdateAvailable: s.eng.UpdateAvailable(),
		Document:        s.eng.DocumentPath(),
		Uptime:          time.Since(s.start),
		Version:         buildinfo.Version,
		Commit:          buildinfo.Commit,
	}
	writeJSON(w, resp)
}

// handleEvents streams broadcast events until the client goes away or the
// server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, events, cancel := s.eng.Subscribe()
	defer cancel()
	log.Debugf("api: subscriber %s connected", id)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(SubscriberHeader, id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			log.Debugf("api: subscriber %s disconnected", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				log.Debugf("api: dropping subscriber %s: %v", id, err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) reply(w http.ResponseWriter, op string, ev Event, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	metrics.Requests.WithLabelValues(op, string(ev.Kind)).Inc()
	writeJSON(w, ev)
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (dashconfig.Config, bool) {
	var cfg dashconfig.Config
	body := http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	if err := json.NewDecoder(body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("decoding document: %v", err), http.StatusBadRequest)
		return cfg, false
	}
	return cfg, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}
