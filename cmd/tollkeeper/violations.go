package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"
)

func violationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List recorded violations",
		RunE:  runViolationsList,
	}
	addListFlags(cmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded violations",
		RunE:  runViolationStats,
	})
	return cmd
}

func runViolationsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fromText, _ := cmd.Flags().GetString("from")
	toText, _ := cmd.Flags().GetString("to")
	transponder, _ := cmd.Flags().GetString("transponder")
	limit, _ := cmd.Flags().GetInt("limit")

	loc := cfg.Location()
	start, end, err := optionalWindow(fromText, toText, loc)
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	filter := service.ViolationFilter{StartDate: start, EndDate: end, Transponder: transponder, Limit: limit}
	total, err := store.CountViolations(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to count violations: %w", err)
	}
	views, err := store.GetViolations(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load violations: %w", err)
	}
	if len(views) == 0 {
		fmt.Fprintln(os.Stdout, cli.FormatSuccess("No violations recorded for this filter."))
		return nil
	}

	fmt.Fprintln(os.Stdout, renderViolations(views, loc))
	fmt.Fprintln(os.Stdout, cli.FormatInfo(fmt.Sprintf("Showing %d of %d violations", len(views), total)))
	return nil
}

func renderViolations(views []model.ViolationView, loc *time.Location) string {
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{
			v.OccurredAt.In(loc).Format("02.01.2006 15:04:05"),
			v.LocationCode,
			v.Transponder,
			formatAmount(v.Paid),
			v.Reason,
		}
	}
	return cli.RenderTable([]string{"Date", "Toll point", "Transponder", "Paid", "Reason"}, rows)
}

func runViolationStats(cmd *cobra.Command, _ []string) error {
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

	stats, err := store.GetViolationStats(ctx, time.Now().In(cfg.Location()))
	if err != nil {
		return fmt.Errorf("failed to load violation stats: %w", err)
	}
	fmt.Fprintln(os.Stdout, cli.RenderSummary("Violations", []cli.KeyValue{
		{Key: "Today", Value: stats.Today},
		{Key: "Last 30 days", Value: stats.LastMonth},
		{Key: "Total", Value: stats.Total},
		{Key: "Paid (30 days)", Value: fmt.Sprintf("%.2f", stats.PaidSum)},
	}))
	return nil
}
