package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/service"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and stored data at a glance",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	trips, err := store.CountTrips(ctx, service.TripFilter{})
	if err != nil {
		return fmt.Errorf("failed to count trips: %w", err)
	}
	transponders, err := store.GetTransponders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list transponders: %w", err)
	}
	loc := cfg.Location()
	stats, err := store.GetViolationStats(ctx, time.Now().In(loc))
	if err != nil {
		return fmt.Errorf("failed to load violation stats: %w", err)
	}

	lastSync := "never"
	run, err := store.GetLatestSyncRun(ctx)
	switch {
	case err == nil:
		outcome := cli.FormatSuccess("ok")
		if run.Error != "" {
			outcome = cli.FormatError(run.Error)
		} else if !run.Complete {
			outcome = cli.FormatWarning("incomplete")
		}
		lastSync = fmt.Sprintf("%s (%s - %s, %d saved) %s",
			run.FinishedAt.In(loc).Format(time.DateTime),
			run.DateFrom.Format(time.DateOnly), run.DateTo.Format(time.DateOnly),
			run.Saved, outcome)
	case errors.Is(err, common.ErrNotFound):
	default:
		return fmt.Errorf("failed to load last sync: %w", err)
	}

	fmt.Fprintln(os.Stdout, cli.RenderSummary("tollkeeper status", []cli.KeyValue{
		{Key: "Portal", Value: cfg.Portal.BaseURL},
		{Key: "Credentials", Value: credentialState(cfg.Portal.Username != "", cfg.Portal.Password != "")},
		{Key: "Database", Value: cfg.Database.Path},
		{Key: "Schedule", Value: scheduleState(cfg.Sync.Schedule)},
		{Key: "Last sync", Value: lastSync},
		{Key: "Trips", Value: trips},
		{Key: "Transponders", Value: len(transponders)},
		{Key: "Violations", Value: fmt.Sprintf("%d total, %d in 30 days, %d today", stats.Total, stats.LastMonth, stats.Today)},
	}))
	return nil
}

func credentialState(username, password bool) string {
	switch {
	case username && password:
		return cli.FormatSuccess("configured")
	case username:
		return cli.FormatWarning("password missing")
	case password:
		return cli.FormatWarning("username missing")
	default:
		return cli.FormatError("not configured")
	}
}

func scheduleState(schedule string) string {
	if schedule == "" {
		return "off"
	}
	return schedule
}
