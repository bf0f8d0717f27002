// Command dashconfd owns the dashboard configuration document. It serves
// read, check, and save requests over a Unix socket, watches the document
// for edits made by hand, and relays update notices to every connected
// dashboard.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/octodash/dashconf/internal/buildinfo"
	"github.com/octodash/dashconf/internal/config"
	"github.com/octodash/dashconf/internal/engine"
	"github.com/octodash/dashconf/internal/filesys"
	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/internal/store"
	"github.com/octodash/dashconf/internal/watch"
	"github.com/octodash/dashconf/pkg/api"
)

func main() {
	defer log.Sync()

	// load config
	cfg, err := config.New().Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		log.Fatalf("config error: %v", err)
	}

	// check if user is root:
	if os.Geteuid() != 0 {
		log.Fatal("dashconfd must run as root")
	}

	log.Info("dashconfd starting", "version", buildinfo.Version, "commit", buildinfo.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// build deps
	st := store.New(filesys.OS(), cfg.Document.Path)
	eng := engine.New(st)
	eng.Run(ctx)
	defer eng.Close()

	apiSrv := api.New(eng)
	g, gctx := errgroup.WithContext(ctx)

	// start the api over unix socket
	g.Go(func() error {
		if err := apiSrv.ListenAndServe(cfg.Socket.Path); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Document.Watch {
		w := watch.New(cfg.Document.Path, cfg.Document.WatchDebounce, eng.DocumentChanged)
		g.Go(func() error { return w.Run(gctx) })
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down…")

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("dashconfd: %v", err)
		eng.Close()
		log.Sync()
		os.Exit(1)
	}
}
