package commands

import (
	"fmt"
	"time"

	"dzr-backend/lib/serviceutil"
	"dzr-backend/lib/timezone"
	"dzr-backend/services/upgrades"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	upgradesToday     *string
	upgradesYesterday *string
)

func init() {
	upgradesToday = upgradesCmd.Flags().String("today", "", "Newer snapshot date, defaults to today.")
	upgradesYesterday = upgradesCmd.Flags().String("yesterday", "", "Older snapshot date, defaults to the day before.")
	rootCmd.AddCommand(upgradesCmd)
}

var upgradesCmd = &cobra.Command{
	Use:   "upgrades [--today <date>] [--yesterday <date>]",
	Short: "Diffs two roster snapshots and lists category upgrades.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		store := openStore(cfg)

		today := *upgradesToday
		if today == "" {
			today = timezone.DateKey(timezone.Now())
		}
		yesterday := *upgradesYesterday
		if yesterday == "" {
			yesterday = timezone.DateKey(timezone.Now().Add(-24 * time.Hour))
		}

		result, err := upgrades.NewService(store).Diff(cmd.Context(), today, yesterday)
		if err != nil {
			serviceutil.Fatal("failed to diff snapshots", err)
		}
		if result.Message != "" {
			fmt.Println(result.Message)
			return
		}

		t := newTable()
		t.SetTitle(fmt.Sprintf("Upgrades %s -> %s", yesterday, today))
		t.AppendHeader(table.Row{"Rider", "Scheme", "From", "To"})
		for _, list := range [][]upgrades.UpgradeRecord{
			result.Pace, result.MixedRating, result.RacingScoreBand,
		} {
			for _, record := range list {
				t.AppendRow(table.Row{record.Name, record.Scheme, record.From, record.To})
			}
		}
		t.Render()
	},
}
