package commands

import (
	"log/slog"

	"dzr-backend/lib/serviceutil"
	"dzr-backend/lib/timezone"
	"dzr-backend/services/clubstats"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetches the club roster and writes today's snapshot.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		store := openStore(cfg)
		zp := newZwiftPowerClient(cfg)

		err := zp.EnsureSession(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to login", err)
		}

		service := clubstats.NewService(store, zp, cfg.ClubId)
		snapshot, err := service.Ingest(cmd.Context(), timezone.Now())
		if err != nil {
			serviceutil.Fatal("failed to ingest roster", err)
		}
		slog.Info("snapshot written", "date", snapshot.Date, "riders", snapshot.RiderCount)
	},
}
