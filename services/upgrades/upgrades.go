// Package upgrades compares two dated roster snapshots and reports
// the riders who moved up a classification, independently across the
// three rating schemes the club tracks.
package upgrades

import (
	"context"
	"fmt"
	"log/slog"

	"dzr-backend/lib/docstore"
	"dzr-backend/services/clubstats"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/upgrades")

type Scheme string

const (
	SchemePace            Scheme = "pace"
	SchemeMixedRating     Scheme = "mixedRating"
	SchemeRacingScoreBand Scheme = "racingScoreBand"
)

type UpgradeRecord struct {
	RiderId string `json:"riderId"`
	Name    string `json:"name"`
	Scheme  Scheme `json:"scheme"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Result carries one upgrade list per scheme. Message is set when the
// diff could not run, e.g. a snapshot day that was never ingested.
type Result struct {
	Pace            []UpgradeRecord `json:"pace"`
	MixedRating     []UpgradeRecord `json:"mixedRating"`
	RacingScoreBand []UpgradeRecord `json:"racingScoreBand"`
	Message         string          `json:"message,omitempty"`
}

// paceRanks orders the pace categories weakest to strongest. Unknown
// labels rank zero and never participate in a diff.
var paceRanks = map[string]int{
	"D":  1,
	"C":  2,
	"B":  3,
	"A":  4,
	"A+": 5,
}

var bandRanks = map[string]int{
	"E": 1,
	"D": 2,
	"C": 3,
	"B": 4,
	"A": 5,
}

// BandForScore maps a racing score onto its letter band.
func BandForScore(score float64) string {
	switch {
	case score >= 690:
		return "A"
	case score >= 520:
		return "B"
	case score >= 350:
		return "C"
	case score >= 180:
		return "D"
	default:
		return "E"
	}
}

type Service struct {
	store docstore.Store
}

func NewService(store docstore.Store) Service {
	return Service{store: store}
}

// Diff loads the snapshots for the two given dates and computes the
// per-scheme upgrade lists. A missing snapshot is an expected state
// (the daily ingestion may not have run yet) and yields an empty
// result with a message, not an error.
func (s Service) Diff(ctx context.Context, today, yesterday string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Diff")
	defer span.End()
	span.SetAttributes(
		attribute.String("today", today),
		attribute.String("yesterday", yesterday),
	)

	current, err := clubstats.LoadSnapshot(ctx, s.store, today)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load snapshot")
		return Result{}, err
	}
	previous, err := clubstats.LoadSnapshot(ctx, s.store, yesterday)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load snapshot")
		return Result{}, err
	}

	if current == nil || previous == nil {
		missing := today
		if current != nil {
			missing = yesterday
		}
		slog.WarnContext(ctx, "snapshot missing, skipping upgrade diff", "date", missing)
		return Result{
			Message: fmt.Sprintf("no roster snapshot for %s", missing),
		}, nil
	}

	return diffSnapshots(*current, *previous), nil
}

func diffSnapshots(current, previous clubstats.Snapshot) Result {
	byId := make(map[string]clubstats.RiderEntry, len(previous.Riders))
	for _, rider := range previous.Riders {
		byId[rider.RiderId] = rider
	}

	var result Result
	for _, today := range current.Riders {
		yesterday, ok := byId[today.RiderId]
		if !ok {
			continue
		}
		record := UpgradeRecord{RiderId: today.RiderId, Name: today.Name}

		if upgraded, from, to := paceUpgrade(today, yesterday); upgraded {
			record.Scheme, record.From, record.To = SchemePace, from, to
			result.Pace = append(result.Pace, record)
		}
		if upgraded, from, to := mixedUpgrade(today, yesterday); upgraded {
			record.Scheme, record.From, record.To = SchemeMixedRating, from, to
			result.MixedRating = append(result.MixedRating, record)
		}
		if upgraded, from, to := bandUpgrade(today, yesterday); upgraded {
			record.Scheme, record.From, record.To = SchemeRacingScoreBand, from, to
			result.RacingScoreBand = append(result.RacingScoreBand, record)
		}
	}
	return result
}

func paceUpgrade(today, yesterday clubstats.RiderEntry) (bool, string, string) {
	nowRank, ok := paceRanks[today.PaceCategory]
	if !ok {
		return false, "", ""
	}
	prevRank, ok := paceRanks[yesterday.PaceCategory]
	if !ok {
		return false, "", ""
	}
	if nowRank <= prevRank {
		return false, "", ""
	}
	return true, yesterday.PaceCategory, today.PaceCategory
}

func mixedUpgrade(today, yesterday clubstats.RiderEntry) (bool, string, string) {
	if today.MixedRating == nil || yesterday.MixedRating == nil {
		return false, "", ""
	}
	// lower rating is stronger
	if *today.MixedRating >= *yesterday.MixedRating {
		return false, "", ""
	}
	return true, formatRating(*yesterday.MixedRating), formatRating(*today.MixedRating)
}

func bandUpgrade(today, yesterday clubstats.RiderEntry) (bool, string, string) {
	if today.RacingScore == nil || yesterday.RacingScore == nil {
		return false, "", ""
	}
	nowBand := BandForScore(*today.RacingScore)
	prevBand := BandForScore(*yesterday.RacingScore)
	if bandRanks[nowBand] <= bandRanks[prevBand] {
		return false, "", ""
	}
	return true, prevBand, nowBand
}

func formatRating(v float64) string {
	return fmt.Sprintf("%g", v)
}
