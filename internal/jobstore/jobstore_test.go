package jobstore_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/jobstore"
)

func openStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func snapshot(i int, createdAt time.Time) jobs.Snapshot {
	finished := createdAt.Add(time.Second)
	return jobs.Snapshot{
		ID:         fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
		Operation:  "git.clone",
		State:      jobs.StateDone,
		CreatedAt:  createdAt,
		FinishedAt: &finished,
	}
}

func TestPutAndRecentNewestFirst(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		assert.NoError(t, store.Put(snapshot(i, base.Add(time.Duration(i)*time.Minute))))
	}

	snaps, err := store.Recent(3)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(snaps))
	assert.Equal(t, snapshot(4, base.Add(4*time.Minute)).ID, snaps[0].ID)
	assert.Equal(t, snapshot(2, base.Add(2*time.Minute)).ID, snaps[2].ID)
}

func TestPutPrunesOldestBeyondLimit(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range jobstore.MaxEntries + 10 {
		assert.NoError(t, store.Put(snapshot(i, base.Add(time.Duration(i)*time.Second))))
	}

	snaps, err := store.Recent(jobstore.MaxEntries * 2)
	assert.NoError(t, err)
	assert.Equal(t, jobstore.MaxEntries, len(snaps))
	// The oldest ten were evicted.
	oldest := snaps[len(snaps)-1]
	assert.Equal(t, snapshot(10, base.Add(10*time.Second)).ID, oldest.ID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := jobstore.Open(path)
	assert.NoError(t, err)
	snap := snapshot(1, time.Now().UTC())
	assert.NoError(t, store.Put(snap))
	assert.NoError(t, store.Close())

	reopened, err := jobstore.Open(path)
	assert.NoError(t, err)
	defer reopened.Close()
	snaps, err := reopened.Recent(10)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(snaps))
	assert.Equal(t, snap.ID, snaps[0].ID)
	assert.Equal(t, jobs.StateDone, snaps[0].State)
}
