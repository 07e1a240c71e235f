// Package highlights turns a club's raw event results into the ranked
// views the weekly report is built from.
package highlights

import (
	"context"
	"fmt"
	"html"
	"sort"

	"dzr-backend/lib/scrapers/zwiftpower"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("services/highlights")

type Rider struct {
	Name    string `json:"name"`
	RiderId int64  `json:"zwid"`
}

type EventSummary struct {
	EventId    string  `json:"event_id,omitempty"`
	Title      string  `json:"title"`
	RiderCount int     `json:"rider_count"`
	Riders     []Rider `json:"riders,omitempty"`
}

type RiderCount struct {
	Rider
	Count int `json:"count"`
}

type WinnerRow struct {
	Rider
	EventTitle string `json:"event_title"`
}

type PowerBest struct {
	Rider
	WattsPerKg float64 `json:"wkg"`
	EventTitle string  `json:"event_title"`
	Position   *int    `json:"position,omitempty"`
}

// Report is the full set of ranked views. Field names are fixed: the
// notification layer consuming the report keys on them.
type Report struct {
	TopEventsById    []EventSummary `json:"top_10_by_zid"`
	TopEventsByTitle []EventSummary `json:"top_10_by_title"`
	MostActiveRiders []RiderCount   `json:"most_events_riders"`
	MostPodiumRiders []RiderCount   `json:"most_top_3_riders"`
	Winners          []WinnerRow    `json:"winners"`
	TopWattsPerKg1m  []PowerBest    `json:"top_watts_per_kg_1min"`
	TopWattsPerKg5m  []PowerBest    `json:"top_watts_per_kg_5min"`
	TopWattsPerKg20m []PowerBest    `json:"top_watts_per_kg_20min"`
}

// Aggregate builds every view from one result set. Rows missing the
// fields a view needs are skipped row by row; ties keep first-seen
// order throughout.
func Aggregate(ctx context.Context, results zwiftpower.TeamResults) Report {
	_, span := tracer.Start(ctx, "Aggregate")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(results.Rows)))

	return Report{
		TopEventsById:    topEventsById(results, 10),
		TopEventsByTitle: topEventsByTitle(results, 10),
		MostActiveRiders: mostActiveRiders(results.Rows, 3),
		MostPodiumRiders: mostPodiumRiders(results.Rows, 3),
		Winners:          winners(results),
		TopWattsPerKg1m: powerBests(results, 3, func(r zwiftpower.ResultRow) *float64 {
			return r.PowerToWeight1Min
		}),
		TopWattsPerKg5m: powerBests(results, 3, func(r zwiftpower.ResultRow) *float64 {
			return r.PowerToWeight5Min
		}),
		TopWattsPerKg20m: powerBests(results, 3, func(r zwiftpower.ResultRow) *float64 {
			return r.PowerToWeight20Min
		}),
	}
}

// eventTitle resolves an event id against the metadata map,
// unescaping HTML entities the website leaves in titles.
func eventTitle(results zwiftpower.TeamResults, eventId string) string {
	meta, ok := results.Events[eventId]
	if !ok || meta.Title == "" {
		return fmt.Sprintf("Unknown event (%s)", eventId)
	}
	return html.UnescapeString(meta.Title)
}

func topEventsById(results zwiftpower.TeamResults, n int) []EventSummary {
	var order []string
	riders := make(map[string][]Rider)
	for _, row := range results.Rows {
		if row.EventId == "" || row.RiderName == "" {
			continue
		}
		if _, seen := riders[row.EventId]; !seen {
			order = append(order, row.EventId)
		}
		riders[row.EventId] = append(riders[row.EventId], Rider{Name: row.RiderName, RiderId: row.RiderId})
	}

	summaries := make([]EventSummary, 0, len(order))
	for _, id := range order {
		summaries = append(summaries, EventSummary{
			EventId:    id,
			Title:      eventTitle(results, id),
			RiderCount: len(riders[id]),
			Riders:     riders[id],
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].RiderCount > summaries[j].RiderCount
	})
	return truncate(summaries, n)
}

// topEventsByTitle aggregates across event ids: recurring series run
// under fresh ids every week but keep their title.
func topEventsByTitle(results zwiftpower.TeamResults, n int) []EventSummary {
	var order []string
	counts := make(map[string]int)
	for _, row := range results.Rows {
		if row.EventId == "" {
			continue
		}
		title := eventTitle(results, row.EventId)
		if _, seen := counts[title]; !seen {
			order = append(order, title)
		}
		counts[title]++
	}

	summaries := make([]EventSummary, 0, len(order))
	for _, title := range order {
		summaries = append(summaries, EventSummary{
			Title:      title,
			RiderCount: counts[title],
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].RiderCount > summaries[j].RiderCount
	})
	return truncate(summaries, n)
}

func mostActiveRiders(rows []zwiftpower.ResultRow, n int) []RiderCount {
	return countRiders(rows, n, func(zwiftpower.ResultRow) bool { return true })
}

func mostPodiumRiders(rows []zwiftpower.ResultRow, n int) []RiderCount {
	return countRiders(rows, n, func(row zwiftpower.ResultRow) bool {
		return row.IsRace() && row.PositionInCategory != nil && *row.PositionInCategory <= 3
	})
}

func countRiders(rows []zwiftpower.ResultRow, n int, include func(zwiftpower.ResultRow) bool) []RiderCount {
	var order []Rider
	counts := make(map[Rider]int)
	for _, row := range rows {
		if row.RiderName == "" || !include(row) {
			continue
		}
		key := Rider{Name: row.RiderName, RiderId: row.RiderId}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	ranked := make([]RiderCount, 0, len(order))
	for _, rider := range order {
		ranked = append(ranked, RiderCount{Rider: rider, Count: counts[rider]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	return truncate(ranked, n)
}

// winners keeps one entry per winning ride, so a rider who won twice
// appears twice.
func winners(results zwiftpower.TeamResults) []WinnerRow {
	var rows []WinnerRow
	for _, row := range results.Rows {
		if !row.IsRace() || row.PositionInCategory == nil || *row.PositionInCategory != 1 {
			continue
		}
		rows = append(rows, WinnerRow{
			Rider:      Rider{Name: row.RiderName, RiderId: row.RiderId},
			EventTitle: eventTitle(results, row.EventId),
		})
	}
	return rows
}

func powerBests(results zwiftpower.TeamResults, n int, window func(zwiftpower.ResultRow) *float64) []PowerBest {
	var order []Rider
	bests := make(map[Rider]PowerBest)
	for _, row := range results.Rows {
		value := window(row)
		if value == nil || row.RiderName == "" {
			continue
		}
		key := Rider{Name: row.RiderName, RiderId: row.RiderId}
		best, seen := bests[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || *value > best.WattsPerKg {
			bests[key] = PowerBest{
				Rider:      key,
				WattsPerKg: *value,
				EventTitle: eventTitle(results, row.EventId),
				Position:   row.PositionInCategory,
			}
		}
	}

	ranked := make([]PowerBest, 0, len(order))
	for _, rider := range order {
		ranked = append(ranked, bests[rider])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].WattsPerKg > ranked[j].WattsPerKg
	})
	return truncate(ranked, n)
}

func truncate[T any](list []T, n int) []T {
	if len(list) > n {
		return list[:n]
	}
	return list
}
