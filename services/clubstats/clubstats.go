// Package clubstats ingests the club roster from ZwiftPower into one
// dated snapshot document per day. Snapshots are the substrate both
// the upgrade diffing and the racing-score enrichment work against.
package clubstats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"dzr-backend/lib/docstore"
	"dzr-backend/lib/scrapers/zwiftpower"
	"dzr-backend/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/clubstats")

const Collection = "club_stats"

// RiderEntry is one club member in a daily snapshot. The three
// classification fields are independent schemes and any of them can be
// absent for a given rider.
type RiderEntry struct {
	RiderId      string   `json:"riderId"`
	Name         string   `json:"name"`
	PaceCategory string   `json:"zpCategory,omitempty"`
	RacingScore  *float64 `json:"racingScore,omitempty"`
	// MixedRating is the velo strength rating: lower is stronger
	MixedRating        *float64 `json:"veloRating,omitempty"`
	MixedCategoryLabel string   `json:"veloCategoryName,omitempty"`
}

// Snapshot documents can carry rider ids as either JSON numbers or
// strings, so decoding goes through the same tolerant id type the
// roster wire format uses.
func (e *RiderEntry) UnmarshalJSON(data []byte) error {
	type plain RiderEntry
	wire := struct {
		RiderId zwiftpower.WireId `json:"riderId"`
		*plain
	}{plain: (*plain)(e)}
	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}
	e.RiderId = string(wire.RiderId)
	return nil
}

type Snapshot struct {
	Date       string       `json:"date"`
	RiderCount int          `json:"riderCount"`
	Riders     []RiderEntry `json:"riders"`
}

type riderWire struct {
	RiderId     zwiftpower.WireId `json:"riderId"`
	Name        string            `json:"name"`
	ZpCategory  string            `json:"zpCategory"`
	RacingScore *float64          `json:"racingScore"`
	Race        struct {
		Current struct {
			Rating *float64 `json:"rating"`
			Mixed  struct {
				Rating   *float64 `json:"rating"`
				Number   *float64 `json:"number"`
				Category string   `json:"category"`
				Name     string   `json:"name"`
			} `json:"mixed"`
		} `json:"current"`
	} `json:"race"`
}

// NormalizeRider converts one raw roster entry into a snapshot entry.
// The velo rating resolves through mixed.rating, then current.rating,
// then mixed.number; the label through mixed.category then mixed.name.
func NormalizeRider(raw json.RawMessage) (RiderEntry, bool) {
	var wire riderWire
	err := json.Unmarshal(raw, &wire)
	if err != nil || wire.RiderId == "" {
		return RiderEntry{}, false
	}

	entry := RiderEntry{
		RiderId:      string(wire.RiderId),
		Name:         wire.Name,
		PaceCategory: wire.ZpCategory,
		RacingScore:  wire.RacingScore,
	}

	mixed := wire.Race.Current.Mixed
	switch {
	case mixed.Rating != nil:
		entry.MixedRating = mixed.Rating
	case wire.Race.Current.Rating != nil:
		entry.MixedRating = wire.Race.Current.Rating
	case mixed.Number != nil:
		entry.MixedRating = mixed.Number
	}
	if mixed.Category != "" {
		entry.MixedCategoryLabel = mixed.Category
	} else {
		entry.MixedCategoryLabel = mixed.Name
	}

	return entry, true
}

// RosterSource is the slice of the ZwiftPower client this service
// needs.
type RosterSource interface {
	GetTeamRiders(ctx context.Context, clubId int) ([]json.RawMessage, error)
}

type Service struct {
	store  docstore.Store
	roster RosterSource
	clubId int
}

func NewService(store docstore.Store, roster RosterSource, clubId int) Service {
	return Service{
		store:  store,
		roster: roster,
		clubId: clubId,
	}
}

// Ingest fetches the club roster and writes the snapshot document for
// the given day, replacing any previous ingestion for that date.
// Roster entries that fail to normalize are skipped one at a time.
func (s Service) Ingest(ctx context.Context, date time.Time) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Ingest")
	defer span.End()

	dateKey := timezone.DateKey(date)
	span.SetAttributes(attribute.String("date", dateKey))

	raw, err := s.roster.GetTeamRiders(ctx, s.clubId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch team riders")
		return Snapshot{}, err
	}

	snapshot := Snapshot{Date: dateKey}
	skipped := 0
	for _, entry := range raw {
		rider, ok := NormalizeRider(entry)
		if !ok {
			skipped++
			continue
		}
		snapshot.Riders = append(snapshot.Riders, rider)
	}
	snapshot.RiderCount = len(snapshot.Riders)
	if skipped > 0 {
		slog.WarnContext(ctx, "skipped malformed roster entries", "count", skipped, "date", dateKey)
	}

	err = SaveSnapshot(ctx, s.store, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist snapshot")
		return Snapshot{}, err
	}

	slog.InfoContext(ctx, "ingested roster snapshot", "date", dateKey, "riders", snapshot.RiderCount)
	return snapshot, nil
}

// LoadSnapshot reads a dated snapshot; (nil, nil) when the ingestion
// for that day hasn't run.
func LoadSnapshot(ctx context.Context, store docstore.Store, dateKey string) (*Snapshot, error) {
	doc, err := store.Get(ctx, Collection, dateKey)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	snapshot, err := docstore.Decode[Snapshot](doc)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func SaveSnapshot(ctx context.Context, store docstore.Store, snapshot Snapshot) error {
	doc, err := docstore.Encode(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, Collection, snapshot.Date, doc, false)
}
