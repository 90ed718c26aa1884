package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tollkeeper/internal/cli"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/importer"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/service"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import trips from exported reports",
		Long: `Import trips from reports exported by the portal.

Semicolon-separated CSV (.csv) and Excel (.xlsx) files are supported. Trips
already stored are skipped, so importing the same report twice is harmless.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}
	cmd.Flags().Bool("classify", true, "flag violations among the stored trips afterwards")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
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

	im := importer.New(store, progress.NewTracker(), cfg.Location())
	saved := 0
	for _, path := range args {
		result, err := im.ImportFile(ctx, path)
		if err != nil {
			return common.NewUserError(cli.FormatError(fmt.Sprintf("Import of %s failed", path)), err)
		}
		saved += result.Saved
		fmt.Fprintln(os.Stdout, cli.RenderSummary(result.File, []cli.KeyValue{
			{Key: "Rows", Value: result.Rows},
			{Key: "Saved", Value: result.Saved},
			{Key: "Already stored", Value: result.Normalized - result.Saved},
			{Key: "Dropped", Value: result.Skipped},
		}))
	}

	if classify, _ := cmd.Flags().GetBool("classify"); classify && saved > 0 {
		classifier, err := newClassifier(cfg)
		if err != nil {
			return err
		}
		created, err := classifier.ScanStored(ctx, store, service.TripFilter{})
		if err != nil {
			return fmt.Errorf("failed to classify imported trips: %w", err)
		}
		fmt.Fprintln(os.Stdout, cli.FormatInfo(fmt.Sprintf("%d new violations", created)))
	}
	return nil
}
