package commands

import (
	"log/slog"
	"time"

	"dzr-backend/lib/serviceutil"
	"dzr-backend/lib/timezone"
	"dzr-backend/services/enrichment"

	"github.com/spf13/cobra"
)

var (
	enrichDate  *string
	enrichBatch *int
	enrichDelay *time.Duration
	enrichAll   *bool
)

func init() {
	enrichDate = enrichInitCmd.Flags().String("date", "", "Snapshot date to enrich, defaults to today.")
	enrichBatch = enrichRunCmd.Flags().Int("batch", 10, "Riders to process per batch.")
	enrichDelay = enrichRunCmd.Flags().Duration("delay", time.Second, "Courtesy delay between profile calls.")
	enrichAll = enrichRunCmd.Flags().Bool("all", false, "Keep processing batches until the queue drains.")

	enrichCmd.AddCommand(enrichInitCmd)
	enrichCmd.AddCommand(enrichRunCmd)
	rootCmd.AddCommand(enrichCmd)
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Backfills racing scores for riders missing one.",
}

var enrichInitCmd = &cobra.Command{
	Use:   "init [--date <YYYY-MM-DD>]",
	Short: "Builds a fresh enrichment queue from a roster snapshot.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		store := openStore(cfg)

		date := *enrichDate
		if date == "" {
			date = timezone.DateKey(timezone.Now())
		}

		service := enrichment.NewService(store, newZwiftClient(cfg))
		queued, err := service.Initialize(cmd.Context(), date)
		if err != nil {
			serviceutil.Fatal("failed to initialize queue", err)
		}
		slog.Info("queue initialized", "date", date, "queued", queued)
	},
}

var enrichRunCmd = &cobra.Command{
	Use:   "run [--batch <n>] [--all]",
	Short: "Processes the next batch of the enrichment queue.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		store := openStore(cfg)
		service := enrichment.NewService(store, newZwiftClient(cfg),
			enrichment.WithDelay(*enrichDelay))

		for {
			result, err := service.ProcessBatch(cmd.Context(), *enrichBatch)
			if err != nil {
				serviceutil.Fatal("failed to process batch", err)
			}
			if !result.Initialized {
				slog.Warn("queue not initialized, run 'enrich init' first")
				return
			}
			slog.Info("batch processed",
				"processed", result.Processed,
				"succeeded", result.Succeeded,
				"remaining", result.Remaining)
			if result.Finalized {
				slog.Info("queue drained, scores merged into snapshot")
				return
			}
			if !*enrichAll || result.Remaining == 0 {
				return
			}
		}
	},
}
