// Package main runs a small VAPID token service.
//
// This example:
// - Loads the VAPID key from disk (generates it if not present)
// - Records every issued token in a SQLite ledger
// - Issues request headers for a push service audience on /api/token
// - Verifies tokens on /api/verify
// - Prunes expired ledger records every minute
// - Exposes issuance metrics on /metrics
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/imjasonh/vapid"
	"github.com/imjasonh/vapid/keys"
	"github.com/imjasonh/vapid/storage"
	"github.com/sethvargo/go-envconfig"
)

// Config is read from the environment.
type Config struct {
	KeyFile string `env:"VAPID_KEY_FILE, default=vapid-private.pem"`
	Subject string `env:"VAPID_SUBJECT, default=mailto:admin@example.com"`
	Draft   string `env:"VAPID_DRAFT, default=02"`
	Port    string `env:"PORT, default=8080"`
	DBPath  string `env:"DB_PATH, default=tokens.db"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(slog.NewJSONHandler(os.Stderr, nil)))
	log := clog.FromContext(ctx)

	if err := run(ctx); err != nil {
		log.Errorf("server failed: %v", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := clog.FromContext(ctx)

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return err
	}

	variant, err := vapid.ParseVariant(cfg.Draft)
	if err != nil {
		return err
	}

	kp, err := keys.LoadOrGenerateFile(ctx, cfg.KeyFile)
	if err != nil {
		return err
	}
	log.With("publicKey", kp.PublicKeyBase64()).Info("VAPID key loaded")

	store, err := storage.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.With("path", cfg.DBPath).Info("SQLite ledger initialized")

	srv, err := newServer(kp, store, cfg.Subject, variant)
	if err != nil {
		return err
	}
	go srv.pruneLoop(ctx, time.Minute)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	log.With("addr", httpSrv.Addr, "variant", variant.Name()).Info("server starting")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
