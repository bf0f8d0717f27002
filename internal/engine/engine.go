// Package engine is the core of dashconfd, the process that owns the
// dashboard document. It reads, checks, and saves the document on request,
// reacts to edits made outside the daemon, and relays update notices. All
// document access is serialized through a single goroutine.
package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/internal/metrics"
	"github.com/octodash/dashconf/internal/store"
	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

// _commandBufferSize is a small buffer so API handlers rarely wait to enqueue.
const _commandBufferSize = 10

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("engine closed")

var _ api.Engine = (*Engine)(nil)

// Engine serializes document operations and broadcasts their events.
type Engine struct {
	store  store.Store
	hub    *Hub
	update atomic.Bool

	// current is the last document read or written; runLoop only.
	current *dashconfig.Config

	cmdChan  chan command
	done     chan struct{}
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

// New creates an Engine over st. Call Run before issuing requests.
func New(st store.Store) *Engine {
	return &Engine{
		store:   st,
		hub:     NewHub(),
		cmdChan: make(chan command, _commandBufferSize),
		done:    make(chan struct{}),
	}
}

// Run loads the document once, so a missing file gets seeded at startup,
// and starts the command loop. ctx bounds the loop's lifetime.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	if cfg, err := e.store.Load(); err != nil {
		log.Warnf("engine: initial load of %s failed: %v", e.store.Path(), err)
	} else {
		e.current = &cfg
	}

	e.wg.Add(1)
	go e.runLoop(runCtx)

	log.Info("engine: started", "document", e.store.Path())
}

// Close stops the command loop and waits for it to exit.
func (e *Engine) Close() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.wg.Wait()
	log.Info("engine: stopped")
}

// Read returns configRead with the stored document, or configError.
func (e *Engine) Read(ctx context.Context) (api.Event, error) {
	return e.do(ctx, func(reply chan<- api.Event) command { return readCmd{reply: reply} })
}

// Check validates cfg and returns configPass or configFail.
func (e *Engine) Check(ctx context.Context, cfg dashconfig.Config) (api.Event, error) {
	return e.do(ctx, func(reply chan<- api.Event) command { return checkCmd{cfg: cfg, reply: reply} })
}

// Save persists cfg and returns configSaved, or configError. The saved
// document is also pushed to every subscriber except origin. Save does not
// validate; callers check the returned document.
func (e *Engine) Save(ctx context.Context, cfg dashconfig.Config, origin string) (api.Event, error) {
	return e.do(ctx, func(reply chan<- api.Event) command {
		return saveCmd{cfg: cfg, origin: origin, reply: reply}
	})
}

// NotifyUpdate marks an update as available and tells every subscriber.
// The flag is never cleared.
func (e *Engine) NotifyUpdate(ctx context.Context) error {
	return e.send(ctx, updateCmd{})
}

// DocumentChanged asks the engine to reload the document after an external
// edit. It never blocks; if the queue is full the change is picked up by
// the next notification.
func (e *Engine) DocumentChanged() {
	select {
	case e.cmdChan <- documentChangedCmd{}:
	default:
		log.Warn("engine: command channel full, skipping reload")
	}
}

// Subscribe registers an event-stream subscriber.
func (e *Engine) Subscribe() (string, <-chan api.Event, func()) { return e.hub.Subscribe() }

// Subscribers returns the number of event-stream subscribers.
func (e *Engine) Subscribers() int { return e.hub.Len() }

// UpdateAvailable reports whether NotifyUpdate was ever called.
func (e *Engine) UpdateAvailable() bool { return e.update.Load() }

// DocumentPath returns where the document is stored.
func (e *Engine) DocumentPath() string { return e.store.Path() }

func (e *Engine) send(ctx context.Context, cmd command) error {
	select {
	case e.cmdChan <- cmd:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) do(ctx context.Context, build func(chan<- api.Event) command) (api.Event, error) {
	reply := make(chan api.Event, 1)
	if err := e.send(ctx, build(reply)); err != nil {
		return api.Event{}, err
	}
	select {
	case ev := <-reply:
		return ev, nil
	case <-e.done:
		return api.Event{}, ErrClosed
	case <-ctx.Done():
		return api.Event{}, ctx.Err()
	}
}

// runLoop is the only goroutine that touches the store and e.current.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.done)

	for {
		select {
		case cmd := <-e.cmdChan:
			switch c := cmd.(type) {
			case readCmd:
				c.reply <- e.handleRead()
			case checkCmd:
				c.reply <- e.handleCheck(c.cfg)
			case saveCmd:
				c.reply <- e.handleSave(c.cfg, c.origin)
			case documentChangedCmd:
				e.handleDocumentChanged()
			case updateCmd:
				e.handleUpdate()
			default:
				log.Warnf("engine: received unknown command type: %T", cmd)
			}
		case <-ctx.Done():
			return
		}
	}
}

// --- Command Handlers (run only within runLoop) ---

func (e *Engine) handleRead() api.Event {
	cfg, err := e.store.Load()
	if err != nil {
		log.Errorf("engine: reading document failed: %v", err)
		return api.ErrorEvent(err)
	}
	e.current = &cfg
	return api.ConfigEvent(api.KindConfigRead, cfg)
}

func (e *Engine) handleCheck(cfg dashconfig.Config) api.Event {
	problems := dashconfig.Problems(cfg.Validate())
	if len(problems) > 0 {
		log.Info("engine: document failed check", "problems", len(problems))
	}
	return api.CheckEvent(problems)
}

func (e *Engine) handleSave(cfg dashconfig.Config, origin string) api.Event {
	if err := e.store.Save(cfg); err != nil {
		metrics.DocumentWrites.WithLabelValues("error").Inc()
		log.Errorf("engine: saving document failed: %v", err)
		return api.ErrorEvent(err)
	}
	metrics.DocumentWrites.WithLabelValues("ok").Inc()

	saved := cfg.Clone()
	saved.Octoprint.URLSplit = nil
	e.current = &saved

	ev := api.ConfigEvent(api.KindConfigSaved, saved)
	e.hub.Broadcast(ev, origin)
	log.Info("engine: document saved", "path", e.store.Path())
	return ev
}

// handleDocumentChanged reloads after an external edit. Our own writes
// also trigger the watcher; they match e.current and are not re-announced.
func (e *Engine) handleDocumentChanged() {
	cfg, err := e.store.Load()
	if err != nil {
		log.Errorf("engine: reloading changed document failed: %v", err)
		e.hub.Broadcast(api.ErrorEvent(err), "")
		return
	}
	if e.current != nil && dashconfig.Equal(*e.current, cfg) {
		log.Debug("engine: document unchanged after file event")
		return
	}

	e.current = &cfg
	metrics.ExternalReloads.Inc()
	log.Info("engine: document changed on disk, notifying subscribers", "subscribers", e.hub.Len())
	e.hub.Broadcast(api.ConfigEvent(api.KindConfigRead, cfg), "")
}

func (e *Engine) handleUpdate() {
	if !e.update.Swap(true) {
		log.Info("engine: update available")
	}
	e.hub.Broadcast(api.NewEvent(api.KindUpdateAvailable), "")
}

// command is a request processed by runLoop.
type command interface {
	isCommand()
}

type readCmd struct {
	reply chan<- api.Event
}

func (readCmd) isCommand() {}

type checkCmd struct {
	cfg   dashconfig.Config
	reply chan<- api.Event
}

func (checkCmd) isCommand() {}

type saveCmd struct {
	cfg    dashconfig.Config
	origin string
	reply  chan<- api.Event
}

func (saveCmd) isCommand() {}

type documentChangedCmd struct{}

func (documentChangedCmd) isCommand() {}

type updateCmd struct{}

func (updateCmd) isCommand() {}
