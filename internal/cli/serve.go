package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storefront/internal/adapter/store"
	"storefront/internal/auth"
	"storefront/internal/server"
	"storefront/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storefront HTTP API",
	Long: `Start the HTTP server. Initialization order: embedding provider first,
then the record store, then the index manager (which restores the search
index snapshot), then the HTTP listener. On shutdown the server drains
in-flight requests, flushes a final snapshot and closes the record store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	indexMgr, err := openIndexManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create index manager: %w", err)
	}

	secret := os.Getenv(cfg.Auth.SecretEnv)
	authMgr, err := auth.NewManager(secret, cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("auth setup failed (set %s): %w", cfg.Auth.SecretEnv, err)
	}

	orders := usecase.NewOrderUseCase(st, st)
	srv := server.New(st, indexMgr, orders, authMgr, logger, cfg.Index.DefaultK)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr, "default_k", cfg.Index.DefaultK)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-stop:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := indexMgr.Close(shutdownCtx); err != nil {
		logger.Error("final snapshot flush failed", "error", err)
	}

	return nil
}
