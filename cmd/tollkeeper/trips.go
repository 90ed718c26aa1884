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

func tripsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "List stored trips",
		RunE:  runTripsList,
	}
	addListFlags(cmd)
	cmd.AddCommand(tripsDeleteCmd())
	return cmd
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "first day to show")
	cmd.Flags().String("to", "", "last day to show")
	cmd.Flags().String("transponder", "", "only this transponder")
	cmd.Flags().IntP("limit", "n", 50, "maximum rows to show (0 = all)")
}

func runTripsList(cmd *cobra.Command, _ []string) error {
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

	filter := service.TripFilter{StartDate: start, EndDate: end, Transponder: transponder, Limit: limit}
	total, err := store.CountTrips(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to count trips: %w", err)
	}
	trips, err := store.GetTrips(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load trips: %w", err)
	}
	if len(trips) == 0 {
		fmt.Fprintln(os.Stdout, cli.FormatInfo("No trips stored for this filter."))
		return nil
	}

	fmt.Fprintln(os.Stdout, renderTrips(trips, loc))
	fmt.Fprintln(os.Stdout, cli.FormatInfo(fmt.Sprintf("Showing %d of %d trips", len(trips), total)))
	return nil
}

func renderTrips(trips []model.Trip, loc *time.Location) string {
	rows := make([][]string, len(trips))
	for i, trip := range trips {
		rows[i] = []string{
			trip.OccurredAt.In(loc).Format("02.01.2006 15:04:05"),
			trip.LocationCode,
			trip.Transponder,
			formatAmount(trip.BaseTariff),
			formatDiscount(trip.Discount),
			formatAmount(trip.Paid),
		}
	}
	return cli.RenderTable([]string{"Date", "Toll point", "Transponder", "Tariff", "Discount", "Paid"}, rows)
}

func tripsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored trips of a date range",
		Long: `Delete every stored trip (and its violation) in the inclusive date range.
The next sync of that range stores the portal's trips again.`,
		RunE: runTripsDelete,
	}
	cmd.Flags().String("from", "", "first day to delete")
	cmd.Flags().String("to", "", "last day to delete")
	cmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runTripsDelete(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fromText, _ := cmd.Flags().GetString("from")
	toText, _ := cmd.Flags().GetString("to")
	force, _ := cmd.Flags().GetBool("force")

	loc := cfg.Location()
	from, to, err := parseWindow(fromText, toText, time.Now().In(loc), 1)
	if err != nil {
		return err
	}
	start, end := service.DateRange{Start: from, End: to}.Bounds(loc)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	count, err := store.CountTrips(ctx, service.TripFilter{StartDate: &start, EndDate: &end})
	if err != nil {
		return fmt.Errorf("failed to count trips: %w", err)
	}
	if count == 0 {
		fmt.Fprintln(os.Stdout, cli.FormatInfo("No trips stored in this range. Nothing to delete."))
		return nil
	}

	if !force {
		question := fmt.Sprintf("Delete %d trips between %s and %s?", count,
			from.Format(time.DateOnly), to.Format(time.DateOnly))
		ok, err := cli.Confirm(ctx, os.Stdin, os.Stdout, question)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if !ok {
			fmt.Fprintln(os.Stdout, "Delete canceled.")
			return nil
		}
	}

	deleted, err := store.DeleteTripsInRange(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to delete trips: %w", err)
	}
	fmt.Fprintln(os.Stdout, cli.FormatSuccess(fmt.Sprintf("✓ Deleted %d trips", deleted)))
	return nil
}
