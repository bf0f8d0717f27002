// Package configsvc is the dashboard's view of its configuration. A Service
// caches the document owned by dashconfd, learns from the daemon whether it
// is valid, and answers the dashboard's many narrow questions about it.
//
// The daemon is the source of truth. A Service never writes the document
// itself; it forwards saves and re-checks whatever the daemon reports back.
package configsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

// RestartHint accompanies every configError passed to the Notifier.
const RestartHint = "Please restart your system. If the issue persists open an issue on GitHub."

const (
	_defaultRequestTimeout = 5 * time.Second
	_defaultRetryInterval  = 2 * time.Second
)

var (
	// ErrNotLoaded is returned when no document has been received yet.
	ErrNotLoaded = errors.New("configuration not loaded")
	// ErrSaveFailed is returned when the daemon could not store a document.
	ErrSaveFailed = errors.New("saving configuration failed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("service already started")
)

// Backend is the connection to dashconfd. *client.Client implements it.
type Backend interface {
	ReadConfig(ctx context.Context) (api.Event, error)
	CheckConfig(ctx context.Context, cfg dashconfig.Config) (api.Event, error)
	SaveConfig(ctx context.Context, cfg dashconfig.Config) (api.Event, error)
	Subscribe(ctx context.Context) (<-chan api.Event, error)
}

// Notifier shows an error to the user.
type Notifier interface {
	SetError(message, hint string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message, hint string)

// SetError calls f.
func (f NotifierFunc) SetError(message, hint string) { f(message, hint) }

// logNotifier is used when no Notifier is configured.
type logNotifier struct{}

func (logNotifier) SetError(message, hint string) {
	log.Error("configsvc: "+message, "hint", hint)
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where configuration errors are reported.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRequestTimeout bounds each request to the daemon.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithRetryInterval sets how long to wait before reopening a lost event
// stream or retrying a failed read or check.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) { s.retry = d }
}

// Service caches the configuration document and its validation state.
type Service struct {
	backend  Backend
	notifier Notifier
	timeout  time.Duration
	retry    time.Duration

	// dispatchMu orders event handling between the stream and SaveConfig.
	dispatchMu sync.Mutex

	mu          sync.RWMutex
	config      *dashconfig.Config
	valid       bool
	errors      []string
	headers     http.Header
	initialized bool

	update atomic.Bool

	// failing is set from a transport failure until the next verdict.
	failing  atomic.Bool
	rereadCh chan struct{}

	initOnce sync.Once
	initCh   chan struct{}

	started  atomic.Bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a Service that talks to backend. Call Start to load the
// document.
func New(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		notifier: logNotifier{},
		timeout:  _defaultRequestTimeout,
		retry:    _defaultRetryInterval,
		initCh:   make(chan struct{}),
		rereadCh: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start subscribes to the daemon's events and requests the document. It
// returns once the first read has been handled; validation completes
// asynchronously, see WaitInitialized. ctx bounds only the startup
// requests; the subscription lives until Close. If the first read fails
// the subscription is dropped again and Start may be retried.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel

	events, err := s.backend.Subscribe(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to configuration events: %w", err)
	}

	s.wg.Add(1)
	go s.eventLoop(loopCtx, events)

	if err := s.read(ctx); err != nil {
		s.Close()
		s.started.Store(false)
		return fmt.Errorf("reading configuration: %w", err)
	}
	return nil
}

// Close stops the event loop.
func (s *Service) Close() {
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.wg.Wait()
}

// WaitInitialized blocks until the first validation round trip completed.
func (s *Service) WaitInitialized(ctx context.Context) error {
	select {
	case <-s.initCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveConfig asks the daemon to store cfg. The stored document is then
// cached and re-checked like any other. ErrSaveFailed is returned, and the
// Notifier told, if the daemon could not store it.
func (s *Service) SaveConfig(ctx context.Context, cfg dashconfig.Config) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ev, err := s.backend.SaveConfig(reqCtx, cfg)
	if err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	s.dispatch(ctx, ev)
	if ev.Kind == api.KindConfigError {
		return fmt.Errorf("%w: %s", ErrSaveFailed, ev.Error)
	}
	return nil
}

func (s *Service) read(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ev, err := s.backend.ReadConfig(reqCtx)
	if err != nil {
		return err
	}
	s.dispatch(ctx, ev)
	return nil
}

// eventLoop handles pushed events. A lost stream is reopened, and the
// document re-read since events may have been missed meanwhile.
func (s *Service) eventLoop(ctx context.Context, events <-chan api.Event) {
	defer s.wg.Done()

	for {
		if !s.consume(ctx, events) {
			return
		}
		log.Warn("configsvc: event stream closed, reconnecting", "retry", s.retry)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retry):
			}
			var err error
			if events, err = s.backend.Subscribe(ctx); err != nil {
				log.Warnf("configsvc: resubscribing failed: %v", err)
				continue
			}
			if err := s.read(ctx); err != nil {
				s.transportFailed(ctx, "reading configuration", err)
			}
			break
		}
	}
}

// consume dispatches events until the stream closes, returning true, or
// ctx is done, returning false. Re-reads scheduled after a transport
// failure run here, one retry interval later.
func (s *Service) consume(ctx context.Context, events <-chan api.Event) bool {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return true
			}
			s.dispatch(ctx, ev)
		case <-s.rereadCh:
			if retry == nil {
				retry = time.After(s.retry)
			}
		case <-retry:
			retry = nil
			if err := s.read(ctx); err != nil {
				s.transportFailed(ctx, "reading configuration", err)
			}
		}
	}
}

// dispatch applies ev and any follow-up it causes. A document event is
// followed by a check of that document.
func (s *Service) dispatch(ctx context.Context, ev api.Event) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for next := &ev; next != nil; {
		next = s.apply(ctx, *next)
	}
}

func (s *Service) apply(ctx context.Context, ev api.Event) *api.Event {
	switch ev.Kind {
	case api.KindConfigRead, api.KindConfigSaved:
		if ev.Config == nil {
			log.Warnf("configsvc: %s event without a document", ev.Kind)
			return nil
		}
		return s.initialize(ctx, *ev.Config)

	case api.KindConfigPass:
		s.failing.Store(false)
		s.mu.Lock()
		s.valid = true
		s.errors = nil
		s.headers = buildHeaders(s.config)
		s.initialized = true
		s.mu.Unlock()
		s.markInitialized()

	case api.KindConfigFail:
		s.failing.Store(false)
		s.mu.Lock()
		s.valid = false
		s.errors = append([]string(nil), ev.Errors...)
		s.initialized = true
		s.mu.Unlock()
		log.Error("configsvc: configuration is invalid", "errors", ev.Errors)
		s.markInitialized()

	case api.KindConfigError:
		s.notifier.SetError(ev.Error, RestartHint)

	case api.KindUpdateAvailable:
		s.SetUpdate()

	default:
		log.Debugf("configsvc: ignoring %q event", ev.Kind)
	}
	return nil
}

// initialize caches cfg and returns the daemon's verdict on it.
func (s *Service) initialize(ctx context.Context, cfg dashconfig.Config) *api.Event {
	s.mu.Lock()
	c := cfg.Clone()
	s.config = &c
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	verdict, err := s.backend.CheckConfig(reqCtx, cfg)
	if err != nil {
		s.transportFailed(ctx, "checking configuration", err)
		return nil
	}
	return &verdict
}

// transportFailed reports a failed request to the daemon and schedules a
// re-read. The Notifier is told once per run of failures. Nothing is
// reported once ctx is done.
func (s *Service) transportFailed(ctx context.Context, what string, err error) {
	if ctx.Err() != nil {
		return
	}
	log.Errorf("configsvc: %s failed: %v", what, err)
	if s.failing.CompareAndSwap(false, true) {
		s.notifier.SetError(fmt.Sprintf("%s failed: %v", what, err), RestartHint)
	}
	select {
	case s.rereadCh <- struct{}{}:
	default:
	}
}

func (s *Service) markInitialized() {
	s.initOnce.Do(func() { close(s.initCh) })
}

func buildHeaders(cfg *dashconfig.Config) http.Header {
	h := make(http.Header)
	if cfg != nil {
		h.Set("x-api-key", cfg.Octoprint.AccessToken)
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	return h
}

// --- document operations ---

// CurrentConfig returns a copy of the cached document.
func (s *Service) CurrentConfig() (dashconfig.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return dashconfig.Config{}, ErrNotLoaded
	}
	return s.config.Clone(), nil
}

// IsEqualToCurrentConfig reports whether cfg matches the cached document.
func (s *Service) IsEqualToCurrentConfig(cfg dashconfig.Config) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config != nil && dashconfig.Equal(*s.config, cfg)
}

// ValidateGiven checks cfg locally, without asking the daemon.
func (s *Service) ValidateGiven(cfg dashconfig.Config) bool {
	return cfg.Validate() == nil
}

// Errors returns the problems from the last failed validation.
func (s *Service) Errors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.errors...)
}

// SplitOctoprintURL splits an OctoPrint URL into host and port.
func (s *Service) SplitOctoprintURL(url string) (dashconfig.URLSplit, error) {
	return dashconfig.SplitOctoprintURL(url)
}

// MergeOctoprintURL builds an OctoPrint URL from host and port.
func (s *Service) MergeOctoprintURL(split dashconfig.URLSplit) string {
	return dashconfig.MergeOctoprintURL(split)
}

// CreateConfigFromInput turns a setup-form document into a storable one.
func (s *Service) CreateConfigFromInput(cfg dashconfig.Config) dashconfig.Config {
	return dashconfig.FromInput(cfg)
}

// IsLoaded reports whether a document has been received.
func (s *Service) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config != nil
}

// SetUpdate records that a newer dashboard release is available. The flag
// is never cleared.
func (s *Service) SetUpdate() { s.update.Store(true) }

// HTTPHeaders returns the headers for OctoPrint API requests. It is nil
// until the document passed validation.
func (s *Service) HTTPHeaders() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// APIURL returns the OctoPrint API endpoint for path, e.g. "job" gives
// "http://octopi.local/api/job".
func (s *Service) APIURL(path string) string {
	return get(s, func(c *dashconfig.Config) string { return c.Octoprint.URL + "api/" + path })
}

// URL returns path relative to the OctoPrint base URL, outside the API.
func (s *Service) URL(path string) string {
	return get(s, func(c *dashconfig.Config) string { return c.Octoprint.URL + path })
}

// get reads from the cached document, or returns the zero value if none
// has been received.
func get[T any](s *Service, f func(c *dashconfig.Config) T) T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		var zero T
		return zero
	}
	return f(s.config)
}
