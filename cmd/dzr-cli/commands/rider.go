package commands

import (
	"fmt"
	"strconv"

	"dzr-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(riderCmd)
}

var riderCmd = &cobra.Command{
	Use:   "rider <id>",
	Short: "Looks up one rider's profile and racing score.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		riderId, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			serviceutil.Fatal("invalid rider id", err)
		}

		cfg := readConfig()
		zp := newZwiftPowerClient(cfg)
		err = zp.EnsureSession(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to login", err)
		}

		// the public profile page carries the score even when the
		// cached profile payload lags behind
		score, err := zp.GetRiderRacingScore(cmd.Context(), riderId)
		if err != nil {
			serviceutil.Fatal("failed to scrape racing score", err)
		}

		zwiftClient := newZwiftClient(cfg)
		err = zwiftClient.EnsureValid(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to authenticate", err)
		}
		profile, err := zwiftClient.GetProfile(cmd.Context(), riderId)
		if err != nil {
			serviceutil.Fatal("failed to fetch profile", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRow(table.Row{"Rider id", riderId})
		if profile != nil {
			t.AppendRow(table.Row{"Name", fmt.Sprintf("%s %s", profile.FirstName, profile.LastName)})
			if s := profile.RacingScore(); s != nil {
				t.AppendRow(table.Row{"Racing score (api)", *s})
			}
		}
		if score != nil {
			t.AppendRow(table.Row{"Racing score (site)", *score})
		}
		t.Render()
	},
}
