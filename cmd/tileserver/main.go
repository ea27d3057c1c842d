// Command tileserver runs the elevation tile engine's HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/floodcontour/elevation-tiles/internal/artifactstore"
	"github.com/floodcontour/elevation-tiles/internal/config"
	"github.com/floodcontour/elevation-tiles/internal/engine"
	"github.com/floodcontour/elevation-tiles/internal/httpapi"
	"github.com/floodcontour/elevation-tiles/internal/loader"
	"github.com/floodcontour/elevation-tiles/internal/source"
)

func main() {
	root := &cobra.Command{
		Use:   "tileserver",
		Short: "Serve elevation-data and PNG tiles over HTTP",
		RunE:  runServe,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := source.NewStore(cfg.Store.SourceDir, cfg.Cache.SourceCacheMax)
	if err != nil {
		return fmt.Errorf("opening source store: %w", err)
	}
	defer store.Close()
	store.OnWarn(func(id source.CellID, err error) {
		logger.Warn("skipping corrupt source cell", "cell", id.String(), "error", err)
	})

	var artifacts *artifactstore.Store
	if a, err := artifactstore.Open(cfg.Store.PrecompressedDir); err == nil {
		artifacts = a
		logger.Info("precompressed artifact pyramid available", "dir", cfg.Store.PrecompressedDir)
	} else {
		logger.Warn("no precompressed artifact pyramid; serving entirely at runtime", "dir", cfg.Store.PrecompressedDir, "error", err)
	}

	ld := loader.New(store)
	eng, err := engine.New(engine.Config{
		MaxZoom:        cfg.Zoom.MaxZoom,
		WaterLevelMinM: cfg.Water.MinM,
		WaterLevelMaxM: cfg.Water.MaxM,
		ConcurrencyCap: cfg.Engine.ConcurrencyCap,
		Deadline:       cfg.Engine.Deadline(),
	}, ld, artifacts, cfg.Cache.PNGCacheMax)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	handler := httpapi.NewServer(eng, logger)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tileserver listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("tileserver stopped")
	return nil
}
