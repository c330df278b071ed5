package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alimasry/go-notepad/config"
	"github.com/alimasry/go-notepad/server"
	"github.com/alimasry/go-notepad/store"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "directory for document files (overrides config)")
	backend := flag.String("backend", "", "storage backend: file, memory or firestore (overrides config)")
	staticDir := flag.String("static", "", "directory of static assets to serve at / (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	hub := server.NewHub()
	reg := store.NewRegistry(backend, store.WithCommitHook(hub.Publish))

	handler := server.NewHandler(reg, hub, server.Options{
		KeyFunc:         server.HeaderKey(cfg.UserHeader),
		MaxContentBytes: cfg.MaxContentBytes,
		StaticDir:       cfg.StaticDir,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(handler, "notepad"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		log.Printf("Starting server on %s (backend %s)", cfg.Addr, cfg.Backend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.Stop()
		return err
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryBackend(), func() {}, nil
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.Project)
		if err != nil {
			return nil, nil, err
		}
		return store.NewFirestoreBackend(client, cfg.Firestore.Collection), func() { client.Close() }, nil
	default:
		return &store.FileBackend{Dir: cfg.DataDir, Ext: cfg.Ext}, func() {}, nil
	}
}
