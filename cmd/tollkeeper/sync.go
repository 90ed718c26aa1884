package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/syncer"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull trips from the portal",
		Long: `Sign in to the portal, read every trip in the date range and replace the
stored trips of that range with them.

Dates accept YYYY-MM-DD or DD.MM.YYYY. Without flags the last
sync.lookback_days days (today included) are synced.

Examples:
  tollkeeper sync
  tollkeeper sync --from 2024-03-01 --to 2024-03-31`,
		RunE: runSync,
	}

	cmd.Flags().String("from", "", "first day to sync")
	cmd.Flags().String("to", "", "last day to sync (default: today)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.HasCredentials() {
		return common.NewUserError(
			"set portal.username and portal.password, or AVTODOR_USERNAME and AVTODOR_PASSWORD",
			common.ErrMissingCredentials)
	}

	fromText, _ := cmd.Flags().GetString("from")
	toText, _ := cmd.Flags().GetString("to")
	from, to, err := parseWindow(fromText, toText, time.Now().In(cfg.Location()), cfg.Sync.LookbackDays)
	if err != nil {
		return err
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	manager := buildManager(cfg, store, classifier)
	defer manager.Close()

	handler := cli.NewInterruptHandler(os.Stdout, "Sync")
	ctx, stop := handler.HandleInterrupts(cmd.Context())
	defer stop()

	fmt.Fprintln(os.Stdout, cli.FormatTitle(fmt.Sprintf("Syncing %s - %s",
		from.Format(time.DateOnly), to.Format(time.DateOnly))))

	watchCtx, cancelWatch := context.WithCancel(ctx)
	var (
		result  syncer.Result
		syncErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancelWatch()
		result, syncErr = manager.Sync(ctx, from, to)
	}()
	cli.WatchProgress(watchCtx, os.Stdout, "Syncing trips", cli.DefaultPollInterval, manager.Progress)
	<-done

	if syncErr != nil {
		if handler.WasInterrupted() || errors.Is(syncErr, context.Canceled) {
			return nil
		}
		return common.NewUserError(cli.FormatError("Sync failed: "+common.Describe(syncErr)), syncErr)
	}

	fmt.Fprintln(os.Stdout, renderSyncResult(result))
	if !result.Complete {
		fmt.Fprintln(os.Stdout, cli.FormatWarning("The trip table was still growing when extraction stopped; some trips may be missing."))
	}
	return nil
}

func renderSyncResult(result syncer.Result) string {
	return cli.RenderSummary("Sync complete", []cli.KeyValue{
		{Key: "Window", Value: fmt.Sprintf("%s - %s", result.From.Format(time.DateOnly), result.To.Format(time.DateOnly))},
		{Key: "Scraped rows", Value: result.Scraped},
		{Key: "Saved trips", Value: result.Saved},
		{Key: "Duplicates", Value: result.Normalized - result.Saved},
		{Key: "Dropped rows", Value: result.Skipped},
		{Key: "Replaced", Value: result.Deleted},
		{Key: "Violations", Value: result.Violations},
		{Key: "Duration", Value: result.Duration.Round(time.Millisecond)},
	})
}
