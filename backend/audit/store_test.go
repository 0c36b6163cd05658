package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAppendAndLast(t *testing.T) {
	store := testStore(t)

	for i := 0; i < 5; i++ {
		err := store.Append(Entry{
			ID:      fmt.Sprintf("id-%d", i),
			Event:   LoginSuccess,
			Actor:   "admin",
			Outcome: "success",
			Time:    time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	entries, err := store.Last(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "id-4", entries[0].ID, "newest entry comes first")
	assert.Equal(t, "id-3", entries[1].ID)
	assert.Equal(t, "id-2", entries[2].ID)
}

func TestStoreLastMoreThanStored(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Append(Entry{ID: "only-one", Event: Logout, Outcome: "success"}))

	entries, err := store.Last(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "only-one", entries[0].ID)
	assert.Equal(t, Logout, entries[0].Event)
}

func TestStoreEmpty(t *testing.T) {
	store := testStore(t)

	entries, err := store.Last(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoggerFillsDefaults(t *testing.T) {
	store := testStore(t)
	logger := NewLogger(store)

	logger.Record(Entry{
		Event:    CertIssued,
		Actor:    "admin",
		ClientIP: "10.0.0.9",
		Target:   "alice-phone",
		Outcome:  "success",
	})

	entries, err := store.Last(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Time.IsZero())
	assert.Equal(t, CertIssued, entries[0].Event)
	assert.Equal(t, "alice-phone", entries[0].Target)
}

func TestLoggerWithoutStore(t *testing.T) {
	logger := NewLogger(nil)
	// Must not panic when running log-only.
	logger.Record(Entry{Event: LoginFailure, Actor: "admin", Outcome: "failure"})
}
