package enrichment_test

import (
	"context"
	"errors"
	"testing"

	"dzr-backend/lib/docstore"
	"dzr-backend/lib/scrapers/zwift"
	"dzr-backend/lib/testutil"
	"dzr-backend/services/clubstats"
	"dzr-backend/services/enrichment"

	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	scores  map[int64]float64
	failing map[int64]error
	calls   []int64
}

func (f *fakeProfiles) EnsureValid(ctx context.Context) error { return nil }

func (f *fakeProfiles) GetProfile(ctx context.Context, riderId int64) (*zwift.Profile, error) {
	f.calls = append(f.calls, riderId)
	if err, ok := f.failing[riderId]; ok {
		return nil, err
	}
	score, ok := f.scores[riderId]
	if !ok {
		return nil, nil
	}
	return &zwift.Profile{
		CompetitionMetrics: &zwift.CompetitionMetrics{RacingScore: &score},
	}, nil
}

func seedSnapshot(t *testing.T, store docstore.Store, date string, riders []clubstats.RiderEntry) {
	t.Helper()
	err := clubstats.SaveSnapshot(context.Background(), store, clubstats.Snapshot{
		Date:       date,
		RiderCount: len(riders),
		Riders:     riders,
	})
	require.NoError(t, err)
}

func newService(store docstore.Store, profiles *fakeProfiles) enrichment.Service {
	return enrichment.NewService(store, profiles, enrichment.WithDelay(0))
}

func TestInitializeQueuesOnlyRidersMissingScore(t *testing.T) {
	store := testutil.SetupStore(t)
	score := 400.0
	seedSnapshot(t, store, "2026-08-28", []clubstats.RiderEntry{
		{RiderId: "1", Name: "Anna"},
		{RiderId: "2", Name: "Bo", RacingScore: &score},
		{RiderId: "3", Name: "Carla"},
	})

	service := newService(store, &fakeProfiles{})
	queued, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Equal(t, 2, queued)
}

func TestInitializeMissingSnapshotFails(t *testing.T) {
	store := testutil.SetupStore(t)
	service := newService(store, &fakeProfiles{})
	_, err := service.Initialize(context.Background(), "1999-01-01")
	require.Error(t, err)
}

func TestProcessBatchWithoutJobIsSoft(t *testing.T) {
	store := testutil.SetupStore(t)
	service := newService(store, &fakeProfiles{})
	result, err := service.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	require.False(t, result.Initialized)
	require.Zero(t, result.Processed)
}

func TestQueueResumesAcrossBatchesWithoutReprocessing(t *testing.T) {
	store := testutil.SetupStore(t)
	profiles := &fakeProfiles{scores: map[int64]float64{
		1: 100, 2: 200, 3: 300, 4: 400, 5: 500,
	}}
	seedSnapshot(t, store, "2026-08-28", []clubstats.RiderEntry{
		{RiderId: "1"}, {RiderId: "2"}, {RiderId: "3"}, {RiderId: "4"}, {RiderId: "5"},
	})

	service := newService(store, profiles)
	queued, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Equal(t, 5, queued)

	first, err := service.ProcessBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, first.Processed)
	require.Equal(t, 3, first.Remaining)

	// a fresh service instance sees the persisted job
	second, err := newService(store, profiles).ProcessBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, second.Processed)
	require.Equal(t, 1, second.Remaining)

	require.Len(t, profiles.calls, 4)
	seen := map[int64]bool{}
	for _, id := range profiles.calls {
		require.False(t, seen[id], "rider %d processed twice", id)
		seen[id] = true
	}
}

func TestFailuresAreCapturedPerRider(t *testing.T) {
	store := testutil.SetupStore(t)
	profiles := &fakeProfiles{
		scores:  map[int64]float64{1: 350},
		failing: map[int64]error{2: errors.New("upstream timeout")},
	}
	seedSnapshot(t, store, "2026-08-28", []clubstats.RiderEntry{
		{RiderId: "1", Name: "Anna"},
		{RiderId: "2", Name: "Bo"},
		{RiderId: "not-a-number", Name: "Ghost"},
	})

	service := newService(store, profiles)
	_, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)

	result, err := service.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 1, result.Succeeded)
	require.Zero(t, result.Remaining)
	require.True(t, result.Finalized)
}

func TestFinalizeMergesOnlyRacingScores(t *testing.T) {
	store := testutil.SetupStore(t)
	profiles := &fakeProfiles{scores: map[int64]float64{1: 415}}
	rating := 250.0
	seedSnapshot(t, store, "2026-08-28", []clubstats.RiderEntry{
		{RiderId: "1", Name: "Anna", PaceCategory: "B", MixedRating: &rating},
		{RiderId: "2", Name: "Bo", PaceCategory: "C"},
	})

	service := newService(store, profiles)
	_, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)
	result, err := service.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, result.Finalized)

	snapshot, err := clubstats.LoadSnapshot(context.Background(), store, "2026-08-28")
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	require.NotNil(t, snapshot.Riders[0].RacingScore)
	require.Equal(t, 415.0, *snapshot.Riders[0].RacingScore)
	// untouched fields survive the merge
	require.Equal(t, "B", snapshot.Riders[0].PaceCategory)
	require.NotNil(t, snapshot.Riders[0].MixedRating)
	require.Equal(t, 250.0, *snapshot.Riders[0].MixedRating)
	// rider 2 had no profile score and stays unset
	require.Nil(t, snapshot.Riders[1].RacingScore)

	// job record is cleared after the merge
	doc, err := store.Get(context.Background(), enrichment.Collection, "racing_score")
	require.NoError(t, err)
	require.Nil(t, doc)

	// a second run reports not-initialized rather than re-merging
	again, err := service.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, again.Initialized)
}

func TestInitializeReplacesPriorJob(t *testing.T) {
	store := testutil.SetupStore(t)
	profiles := &fakeProfiles{scores: map[int64]float64{1: 100, 2: 200}}
	seedSnapshot(t, store, "2026-08-28", []clubstats.RiderEntry{
		{RiderId: "1"}, {RiderId: "2"},
	})

	service := newService(store, profiles)
	_, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)
	_, err = service.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)

	// re-initializing forgets the partial progress
	queued, err := service.Initialize(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Equal(t, 2, queued)

	result, err := service.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
}
