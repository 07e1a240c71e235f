package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"dzr-backend/lib/serviceutil"
	"dzr-backend/lib/timezone"
	"dzr-backend/services/highlights"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var highlightsJson *bool

func init() {
	highlightsJson = highlightsCmd.Flags().Bool("json", false, "Emit the raw report as JSON.")
	rootCmd.AddCommand(highlightsCmd)
}

var highlightsCmd = &cobra.Command{
	Use:   "highlights [--json]",
	Short: "Fetches recent club results and prints the ranked highlight views.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		zp := newZwiftPowerClient(cfg)

		err := zp.EnsureSession(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to login", err)
		}
		results, err := zp.GetTeamResults(cmd.Context(), cfg.ClubId)
		if err != nil {
			serviceutil.Fatal("failed to fetch team results", err)
		}

		report := highlights.Aggregate(cmd.Context(), *results)

		if *highlightsJson {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			err := encoder.Encode(report)
			if err != nil {
				serviceutil.Fatal("failed to encode report", err)
			}
			return
		}
		start, stop := timezone.GetCurrentWeek(timezone.Now())
		fmt.Printf("Club highlights, week of %s to %s\n", timezone.DateKey(start), timezone.DateKey(stop))
		renderReport(report)
	},
}

func renderReport(report highlights.Report) {
	t := newTable()
	t.SetTitle("Most frequented events")
	t.AppendHeader(table.Row{"Title", "Riders"})
	for _, event := range report.TopEventsByTitle {
		t.AppendRow(table.Row{event.Title, event.RiderCount})
	}
	t.Render()

	t = newTable()
	t.SetTitle("Most active riders")
	t.AppendHeader(table.Row{"Rider", "Events"})
	for _, rider := range report.MostActiveRiders {
		t.AppendRow(table.Row{rider.Name, rider.Count})
	}
	t.Render()

	t = newTable()
	t.SetTitle("Most podiums")
	t.AppendHeader(table.Row{"Rider", "Podiums"})
	for _, rider := range report.MostPodiumRiders {
		t.AppendRow(table.Row{rider.Name, rider.Count})
	}
	t.Render()

	t = newTable()
	t.SetTitle("Winners")
	t.AppendHeader(table.Row{"Rider", "Event"})
	for _, winner := range report.Winners {
		t.AppendRow(table.Row{winner.Name, winner.EventTitle})
	}
	t.Render()

	renderPowerBests("Best 1 min w/kg", report.TopWattsPerKg1m)
	renderPowerBests("Best 5 min w/kg", report.TopWattsPerKg5m)
	renderPowerBests("Best 20 min w/kg", report.TopWattsPerKg20m)
}

func renderPowerBests(title string, bests []highlights.PowerBest) {
	t := newTable()
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Rider", "w/kg", "Event", "Position"})
	for _, best := range bests {
		position := "-"
		if best.Position != nil {
			position = fmt.Sprintf("%d", *best.Position)
		}
		t.AppendRow(table.Row{best.Name, best.WattsPerKg, best.EventTitle, position})
	}
	t.Render()
}
