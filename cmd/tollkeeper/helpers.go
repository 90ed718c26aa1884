package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/tollkeeper/internal/browser"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/config"
	"github.com/Veraticus/tollkeeper/internal/normalize"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/storage"
	"github.com/Veraticus/tollkeeper/internal/syncer"
	"github.com/Veraticus/tollkeeper/internal/violation"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("configuration is invalid", err)
	}
	return cfg, nil
}

// openStorage opens and migrates the configured database.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	if err := cfg.EnsureDatabaseDir(); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func closeStorage(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}

func newClassifier(cfg *config.Config) (*violation.Classifier, error) {
	classifier, err := violation.New(cfg.Violations.Forbidden, cfg.Violations.MarkerPattern)
	if err != nil {
		return nil, common.NewUserError("violations.marker_pattern is not a valid expression", err)
	}
	return classifier, nil
}

// buildManager wires the browser, portal session and extractor into a sync manager.
func buildManager(cfg *config.Config, store service.Storage, classifier *violation.Classifier) *syncer.Manager {
	sessionOpts := portal.DefaultSessionOptions()
	sessionOpts.Endpoints = portal.NewEndpoints(cfg.Portal.BaseURL, cfg.Portal.LoginURL)
	sessionOpts.Browser = browser.Options{
		ExecPath:     cfg.Browser.ExecPath,
		UserAgent:    cfg.Browser.UserAgent,
		WindowWidth:  cfg.Browser.Width,
		WindowHeight: cfg.Browser.Height,
		Headless:     cfg.Browser.Headless,
	}
	if cfg.Sync.LoginAttempts > 0 {
		sessionOpts.MaxAttempts = cfg.Sync.LoginAttempts
	}
	session := portal.NewSession(browser.New(), sessionOpts)

	extractOpts := portal.DefaultExtractorOptions()
	if cfg.Sync.MaxStable > 0 {
		extractOpts.Stabilize.MaxStable = cfg.Sync.MaxStable
	}
	if cfg.Sync.StabilizeTimeout > 0 {
		extractOpts.Stabilize.MaxDuration = cfg.Sync.StabilizeTimeout
	}
	if cfg.Sync.RowTimeout > 0 {
		extractOpts.RowTimeout = cfg.Sync.RowTimeout
	}
	extractor := portal.NewExtractor(session, extractOpts)

	orch := syncer.NewOrchestrator(session, extractor, store, progress.NewTracker(), syncer.Options{
		Location:   cfg.Location(),
		Classifier: classifier,
		Credentials: portal.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		},
		BatchSize:         cfg.Sync.BatchSize,
		ClassifyAfterSync: cfg.Sync.ClassifyAfterSync,
	})
	return syncer.NewManager(orch)
}

// parseWindow turns optional --from/--to values into a calendar range. A
// missing end is today; a missing start is lookbackDays before the end.
func parseWindow(fromText, toText string, now time.Time, lookbackDays int) (time.Time, time.Time, error) {
	loc := now.Location()
	y, m, d := now.Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if s := strings.TrimSpace(toText); s != "" {
		parsed, err := normalize.ParseInputDate(s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, common.NewUserError("--to is not a date", err)
		}
		to = parsed
	}

	if lookbackDays <= 0 {
		lookbackDays = syncer.DefaultLookbackDays
	}
	from := to.AddDate(0, 0, -(lookbackDays - 1))
	if s := strings.TrimSpace(fromText); s != "" {
		parsed, err := normalize.ParseInputDate(s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, common.NewUserError("--from is not a date", err)
		}
		from = parsed
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, common.NewUserError("--from must not be after --to", syncer.ErrInvalidRange)
	}
	return from, to, nil
}

// optionalWindow parses --from/--to into filter bounds; both may be empty.
func optionalWindow(fromText, toText string, loc *time.Location) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if s := strings.TrimSpace(fromText); s != "" {
		from, err := normalize.ParseInputDate(s, loc)
		if err != nil {
			return nil, nil, common.NewUserError("--from is not a date", err)
		}
		b, _ := service.DateRange{Start: from, End: from}.Bounds(loc)
		start = &b
	}
	if s := strings.TrimSpace(toText); s != "" {
		to, err := normalize.ParseInputDate(s, loc)
		if err != nil {
			return nil, nil, common.NewUserError("--to is not a date", err)
		}
		_, b := service.DateRange{Start: to, End: to}.Bounds(loc)
		end = &b
	}
	return start, end, nil
}

func formatAmount(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatDiscount(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *v)
}
