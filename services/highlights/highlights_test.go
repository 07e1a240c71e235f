package highlights_test

import (
	"context"
	"fmt"
	"testing"

	"dzr-backend/lib/scrapers/zwiftpower"
	"dzr-backend/services/highlights"

	"github.com/stretchr/testify/require"
)

func row(name string, id int64, eventId, eventType string, pos *int) zwiftpower.ResultRow {
	return zwiftpower.ResultRow{
		RiderName:          name,
		RiderId:            id,
		EventId:            eventId,
		EventType:          eventType,
		PositionInCategory: pos,
	}
}

func pos(v int) *int         { return &v }
func wkg(v float64) *float64 { return &v }

func TestTopEventsByIdCountsNeverExceedRowCount(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{},
	}
	for i := 0; i < 25; i++ {
		results.Rows = append(results.Rows, row(
			fmt.Sprintf("Rider %d", i), int64(i),
			fmt.Sprintf("event-%d", i%12), "TYPE_RACE", nil,
		))
	}

	report := highlights.Aggregate(context.Background(), results)
	require.LessOrEqual(t, len(report.TopEventsById), 10)
	total := 0
	for _, event := range report.TopEventsById {
		total += event.RiderCount
	}
	require.LessOrEqual(t, total, len(results.Rows))
}

func TestTopEventsByTitleAggregatesAcrossIds(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{
			"1": {Title: "Tiny Race &amp; Chase"},
			"2": {Title: "Tiny Race &amp; Chase"},
			"3": {Title: "Hilly Loop"},
		},
		Rows: []zwiftpower.ResultRow{
			row("Anna", 1, "1", "TYPE_RACE", nil),
			row("Bo", 2, "2", "TYPE_RACE", nil),
			row("Carla", 3, "3", "TYPE_RACE", nil),
		},
	}

	report := highlights.Aggregate(context.Background(), results)

	// the two ids merge into one unescaped title
	require.Len(t, report.TopEventsById, 3)
	require.Len(t, report.TopEventsByTitle, 2)
	require.Equal(t, "Tiny Race & Chase", report.TopEventsByTitle[0].Title)
	require.Equal(t, 2, report.TopEventsByTitle[0].RiderCount)
}

func TestMissingEventMetaGetsFallbackTitle(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{},
		Rows:   []zwiftpower.ResultRow{row("Anna", 1, "9999", "TYPE_RACE", nil)},
	}
	report := highlights.Aggregate(context.Background(), results)
	require.Equal(t, "Unknown event (9999)", report.TopEventsById[0].Title)
}

func TestWinnersAndPodiums(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{"1": {Title: "Crit City"}},
		Rows: []zwiftpower.ResultRow{
			row("A", 1, "1", "TYPE_RACE", pos(1)),
			row("B", 2, "1", "TYPE_RACE", pos(2)),
			row("C", 3, "1", "TYPE_RIDE", pos(1)),
		},
	}

	report := highlights.Aggregate(context.Background(), results)

	require.Len(t, report.Winners, 1)
	require.Equal(t, "A", report.Winners[0].Name)
	require.Equal(t, "Crit City", report.Winners[0].EventTitle)

	require.Len(t, report.MostPodiumRiders, 2)
	names := []string{report.MostPodiumRiders[0].Name, report.MostPodiumRiders[1].Name}
	require.ElementsMatch(t, []string{"A", "B"}, names)
}

func TestWinnersKeepDuplicateRides(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{},
		Rows: []zwiftpower.ResultRow{
			row("A", 1, "1", "TYPE_RACE", pos(1)),
			row("A", 1, "2", "TYPE_RACE", pos(1)),
		},
	}
	report := highlights.Aggregate(context.Background(), results)
	require.Len(t, report.Winners, 2)
}

func TestPowerBestTracksRowOfPersonalBest(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{
			"1": {Title: "First"},
			"2": {Title: "Second"},
			"3": {Title: "Third"},
		},
	}
	values := []float64{3.1, 4.0, 2.9}
	for i, v := range values {
		r := row("X", 7, fmt.Sprintf("%d", i+1), "TYPE_RACE", pos(i+1))
		r.PowerToWeight20Min = wkg(v)
		results.Rows = append(results.Rows, r)
	}

	report := highlights.Aggregate(context.Background(), results)

	require.Len(t, report.TopWattsPerKg20m, 1)
	best := report.TopWattsPerKg20m[0]
	require.Equal(t, 4.0, best.WattsPerKg)
	require.Equal(t, "Second", best.EventTitle)
	require.NotNil(t, best.Position)
	require.Equal(t, 2, *best.Position)
}

func TestPowerWindowsAreIndependent(t *testing.T) {
	r1 := row("X", 7, "1", "TYPE_RACE", nil)
	r1.PowerToWeight1Min = wkg(7.5)
	r2 := row("Y", 8, "1", "TYPE_RACE", nil)
	r2.PowerToWeight5Min = wkg(5.1)

	report := highlights.Aggregate(context.Background(), zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{},
		Rows:   []zwiftpower.ResultRow{r1, r2},
	})

	require.Len(t, report.TopWattsPerKg1m, 1)
	require.Equal(t, "X", report.TopWattsPerKg1m[0].Name)
	require.Len(t, report.TopWattsPerKg5m, 1)
	require.Equal(t, "Y", report.TopWattsPerKg5m[0].Name)
	require.Empty(t, report.TopWattsPerKg20m)
}

func TestMostActiveRidersCapAndTieOrder(t *testing.T) {
	results := zwiftpower.TeamResults{Events: map[string]zwiftpower.EventMeta{}}
	// four riders with equal counts keep first-seen order, capped at 3
	for _, name := range []string{"A", "B", "C", "D"} {
		results.Rows = append(results.Rows,
			row(name, int64(name[0]), "1", "TYPE_RACE", nil),
			row(name, int64(name[0]), "2", "TYPE_RACE", nil),
		)
	}

	report := highlights.Aggregate(context.Background(), results)
	require.Len(t, report.MostActiveRiders, 3)
	require.Equal(t, "A", report.MostActiveRiders[0].Name)
	require.Equal(t, "B", report.MostActiveRiders[1].Name)
	require.Equal(t, "C", report.MostActiveRiders[2].Name)
	require.Equal(t, 2, report.MostActiveRiders[0].Count)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	results := zwiftpower.TeamResults{
		Events: map[string]zwiftpower.EventMeta{},
		Rows: []zwiftpower.ResultRow{
			row("", 0, "1", "TYPE_RACE", pos(1)),
			row("Anna", 1, "", "TYPE_RACE", nil),
			row("Bo", 2, "2", "TYPE_RACE", nil),
		},
	}
	report := highlights.Aggregate(context.Background(), results)
	require.Len(t, report.TopEventsById, 1)
	require.Equal(t, "Bo", report.TopEventsById[0].Riders[0].Name)
}

func TestAggregateEmptyInput(t *testing.T) {
	report := highlights.Aggregate(context.Background(), zwiftpower.TeamResults{})
	require.Empty(t, report.TopEventsById)
	require.Empty(t, report.Winners)
	require.Empty(t, report.TopWattsPerKg1m)
}
