package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tollkeeper/internal/api"
	"github.com/Veraticus/tollkeeper/internal/certs"
	"github.com/Veraticus/tollkeeper/internal/config"
	"github.com/Veraticus/tollkeeper/internal/importer"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/syncer"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync schedule",
		Long: `Serve the JSON API used to start syncs, follow their progress, upload
reports and browse stored trips and violations.

When sync.schedule is set (cron syntax, e.g. "0 */6 * * *"), the last
sync.lookback_days days are synced on that schedule. With server.tls set,
the API is served over HTTPS with a self-signed certificate.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default: server.address)")
	_ = viper.BindPFlag("server.address", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	manager := buildManager(cfg, store, classifier)
	defer manager.Close()

	if cfg.Sync.Schedule != "" {
		scheduler, err := syncer.NewScheduler(manager, cfg.Sync.Schedule, cfg.Sync.LookbackDays, cfg.Location())
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		slog.Info("Sync schedule active", "schedule", cfg.Sync.Schedule, "next", scheduler.Next())
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Deps{
		Sync:       manager,
		Importer:   importer.New(store, progress.NewTracker(), cfg.Location()),
		Store:      store,
		Classifier: classifier,
		Location:   cfg.Location(),
		HasCredentials: func() (bool, bool) {
			return cfg.Portal.Username != "", cfg.Portal.Password != ""
		},
		Version: version,
	})

	return serveHTTP(ctx, cfg.Server, router)
}

func serveHTTP(ctx context.Context, cfg config.ServerConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS {
		cert, err := certs.NewStore(cfg.CertDir, cfg.TLSHosts...).Certificate()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "address", cfg.Address, "tls", cfg.TLS)
		var err error
		if cfg.TLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}
