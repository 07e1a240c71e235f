// Package testutil carries shared fixtures for service tests.
package testutil

import (
	"path/filepath"
	"strconv"
	"testing"

	"dzr-backend/lib/docstore"
	"dzr-backend/lib/telemetry"

	random "github.com/mazen160/go-random"
	"github.com/stretchr/testify/require"
)

// SetupStore opens a throwaway document store backed by a per-test
// sqlite file and installs test telemetry.
func SetupStore(t testing.TB) docstore.Store {
	t.Cleanup(telemetry.SetupForTesting(t, "testutil"))

	db, err := docstore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return docstore.NewSqliteStore(db)
}

// RiderId returns a random numeric rider id string.
func RiderId(t testing.TB) string {
	id, err := random.IntRange(1000000, 9999999)
	require.NoError(t, err)
	return strconv.Itoa(id)
}

// RiderName returns a random rider name.
func RiderName(t testing.TB) string {
	name, err := random.String(12)
	require.NoError(t, err)
	return name
}
