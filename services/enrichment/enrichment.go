// Package enrichment backfills missing racing scores on a roster
// snapshot. Scores live behind a slow per-rider profile API, so the
// work runs as a persisted queue processed in small batches that
// survive restarts between batches.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"dzr-backend/lib/docstore"
	"dzr-backend/lib/scrapers/zwift"
	"dzr-backend/lib/timezone"
	"dzr-backend/services/clubstats"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/enrichment")

const (
	Collection = "enrichment_queue"
	jobId      = "racing_score"

	defaultDelay = time.Second
)

type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
)

// QueueItem tracks one rider through the backfill. An item moves from
// pending to exactly one of completed or failed and never back.
type QueueItem struct {
	RiderId     string     `json:"riderId"`
	Name        string     `json:"name"`
	Status      ItemStatus `json:"status"`
	RacingScore *float64   `json:"racingScore,omitempty"`
	Error       string     `json:"error,omitempty"`
	ProcessedAt string     `json:"processedAt,omitempty"`
}

type jobRecord struct {
	SnapshotDate string      `json:"snapshotDate"`
	CreatedAt    string      `json:"createdAt"`
	TotalRiders  int         `json:"totalRiders"`
	Pending      []QueueItem `json:"pending"`
	Completed    []QueueItem `json:"completed"`
	Failed       []QueueItem `json:"failed"`
}

// ProfileSource is the slice of the Zwift client the queue needs.
type ProfileSource interface {
	EnsureValid(ctx context.Context) error
	GetProfile(ctx context.Context, riderId int64) (*zwift.Profile, error)
}

type BatchResult struct {
	Initialized bool
	Processed   int
	Succeeded   int
	Remaining   int
	Finalized   bool
}

type Service struct {
	store    docstore.Store
	profiles ProfileSource
	delay    time.Duration
}

type Option func(*Service)

// WithDelay overrides the courtesy delay between profile calls.
func WithDelay(d time.Duration) Option {
	return func(s *Service) {
		s.delay = d
	}
}

func NewService(store docstore.Store, profiles ProfileSource, opts ...Option) Service {
	service := Service{
		store:    store,
		profiles: profiles,
		delay:    defaultDelay,
	}
	for _, opt := range opts {
		opt(&service)
	}
	return service
}

// Initialize builds a fresh job from the snapshot for the given date,
// queueing every rider without a racing score. Any prior job record is
// replaced wholesale. Returns the number of riders queued.
func (s Service) Initialize(ctx context.Context, snapshotDate string) (int, error) {
	ctx, span := tracer.Start(ctx, "Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("snapshot_date", snapshotDate))

	snapshot, err := clubstats.LoadSnapshot(ctx, s.store, snapshotDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load snapshot")
		return 0, err
	}
	if snapshot == nil {
		err := fmt.Errorf("no roster snapshot for %s", snapshotDate)
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot missing")
		return 0, err
	}

	record := jobRecord{
		SnapshotDate: snapshotDate,
		CreatedAt:    timezone.Now().Format(time.RFC3339),
		TotalRiders:  len(snapshot.Riders),
	}
	for _, rider := range snapshot.Riders {
		if rider.RacingScore != nil {
			continue
		}
		record.Pending = append(record.Pending, QueueItem{
			RiderId: rider.RiderId,
			Name:    rider.Name,
			Status:  StatusPending,
		})
	}

	err = s.saveJob(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist job")
		return 0, err
	}

	slog.InfoContext(ctx, "initialized enrichment queue",
		"snapshot_date", snapshotDate, "queued", len(record.Pending))
	return len(record.Pending), nil
}

// ProcessBatch works off up to batchSize pending riders. A missing job
// record is a soft condition reported via BatchResult.Initialized. A
// failing rider is recorded on its item and never aborts the batch.
// Once the last pending item is done the completed scores are merged
// back into the snapshot and the job record removed.
func (s Service) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	ctx, span := tracer.Start(ctx, "ProcessBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", batchSize))

	record, err := s.loadJob(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load job")
		return BatchResult{}, err
	}
	if record == nil {
		slog.InfoContext(ctx, "enrichment queue not initialized")
		return BatchResult{}, nil
	}

	result := BatchResult{Initialized: true}
	take := batchSize
	if take > len(record.Pending) {
		take = len(record.Pending)
	}

	for i := 0; i < take; i++ {
		if i > 0 {
			err := sleepCtx(ctx, s.delay)
			if err != nil {
				return result, err
			}
		}

		item := record.Pending[0]
		record.Pending = record.Pending[1:]

		score, err := s.fetchScore(ctx, item.RiderId)
		item.ProcessedAt = timezone.Now().Format(time.RFC3339)
		if err != nil {
			item.Status = StatusFailed
			item.Error = err.Error()
			record.Failed = append(record.Failed, item)
			slog.WarnContext(ctx, "rider enrichment failed",
				"rider_id", item.RiderId, "error", err)
		} else {
			item.Status = StatusCompleted
			item.RacingScore = score
			record.Completed = append(record.Completed, item)
			result.Succeeded++
		}
		result.Processed++
	}

	err = s.saveJob(ctx, *record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist job")
		return result, err
	}
	result.Remaining = len(record.Pending)

	if len(record.Pending) == 0 && len(record.Completed) > 0 {
		err = s.finalize(ctx, *record)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to finalize job")
			return result, err
		}
		result.Finalized = true
	}

	return result, nil
}

// fetchScore resolves one rider's racing score. A missing profile or a
// profile without the score counts as a failure for this rider.
func (s Service) fetchScore(ctx context.Context, riderId string) (*float64, error) {
	id, err := strconv.ParseInt(riderId, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rider id %q: %w", riderId, err)
	}
	err = s.profiles.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %d not found", id)
	}
	score := profile.RacingScore()
	if score == nil {
		return nil, fmt.Errorf("profile %d has no racing score", id)
	}
	return score, nil
}

// finalize merges completed scores into the snapshot. Only the racing
// score is written back; every other snapshot field is left untouched.
// Re-running with nothing completed is a no-op.
func (s Service) finalize(ctx context.Context, record jobRecord) error {
	if len(record.Completed) == 0 {
		return nil
	}

	snapshot, err := clubstats.LoadSnapshot(ctx, s.store, record.SnapshotDate)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot %s disappeared before finalize", record.SnapshotDate)
	}

	scores := make(map[string]*float64, len(record.Completed))
	for _, item := range record.Completed {
		scores[item.RiderId] = item.RacingScore
	}
	merged := 0
	for i, rider := range snapshot.Riders {
		score, ok := scores[rider.RiderId]
		if !ok || score == nil {
			continue
		}
		snapshot.Riders[i].RacingScore = score
		merged++
	}

	err = clubstats.SaveSnapshot(ctx, s.store, *snapshot)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "merged enrichment results",
		"snapshot_date", record.SnapshotDate,
		"merged", merged,
		"failed", len(record.Failed))
	return s.store.Delete(ctx, Collection, jobId)
}

func (s Service) loadJob(ctx context.Context) (*jobRecord, error) {
	doc, err := s.store.Get(ctx, Collection, jobId)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	record, err := docstore.Decode[jobRecord](doc)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s Service) saveJob(ctx context.Context, record jobRecord) error {
	doc, err := docstore.Encode(record)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, Collection, jobId, doc, false)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
