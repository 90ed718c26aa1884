package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/service"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Flag violations among stored trips",
		Long: `Check stored trips against the violation rules and record a violation for
every trip that passed a forbidden toll point. Trips that already have a
violation are left alone, so the command can be rerun at will.

Examples:
  tollkeeper classify
  tollkeeper classify --from 2024-03-01 --to 2024-03-31`,
		RunE: runClassify,
	}
	cmd.Flags().String("from", "", "first day to check")
	cmd.Flags().String("to", "", "last day to check")
	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fromText, _ := cmd.Flags().GetString("from")
	toText, _ := cmd.Flags().GetString("to")
	start, end, err := optionalWindow(fromText, toText, cfg.Location())
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

	created, err := classifier.ScanStored(ctx, store, service.TripFilter{StartDate: start, EndDate: end})
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	fmt.Fprintln(os.Stdout, cli.FormatSuccess(fmt.Sprintf("✓ %d new violations recorded", created)))
	return nil
}
