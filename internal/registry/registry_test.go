package registry

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "sessions.json"))
}

func sampleRecord(handle string) SessionRecord {
	now := time.Now().UTC()
	return SessionRecord{
		Handle:        handle,
		InternalID:    "internal-" + handle,
		Kind:          KindTERM,
		Mode:          ModeA,
		WorkspacePath: "/tmp/proj",
		Status:        StatusActive,
		CreatedAt:     now,
		LastUsed:      now,
	}
}

func TestUpsertThenGet(t *testing.T) {
	reg := newTestRegistry(t)
	rec := sampleRecord("bright-otter")

	require.NoError(t, reg.Upsert(rec))

	got, err := reg.Get("bright-otter")
	require.NoError(t, err)
	assert.Equal(t, rec.InternalID, got.InternalID)
	assert.Equal(t, KindTERM, got.Kind)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertReplacesExisting(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Upsert(sampleRecord("a")))

	replacement := sampleRecord("a")
	replacement.Description = "updated"
	require.NoError(t, reg.Upsert(replacement))

	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "updated", list[0].Description)
}

func TestUpdateAppliesPatch(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Upsert(sampleRecord("a")))

	inProgress := true
	updated, err := reg.Update("a", Patch{TurnInProgress: &inProgress})
	require.NoError(t, err)
	require.NotNil(t, updated.TurnInProgress)
	assert.True(t, *updated.TurnInProgress)
}

func TestUpdateMissingReturnsErrNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Update("missing", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndPrune(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Upsert(sampleRecord("a")))
	require.NoError(t, reg.Upsert(sampleRecord("b")))
	require.NoError(t, reg.Upsert(sampleRecord("c")))

	require.NoError(t, reg.Delete("a"))
	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, reg.Prune([]string{"b"}))
	list, err = reg.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].Handle)
}

func TestListSortedByCreatedAt(t *testing.T) {
	reg := newTestRegistry(t)
	base := time.Now().UTC()

	older := sampleRecord("older")
	older.CreatedAt = base.Add(-time.Hour)
	newer := sampleRecord("newer")
	newer.CreatedAt = base

	require.NoError(t, reg.Upsert(newer))
	require.NoError(t, reg.Upsert(older))

	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "older", list[0].Handle)
	assert.Equal(t, "newer", list[1].Handle)
}

// TestConcurrentUpsertsPreserveAllRecords exercises the registry-atomicity
// property from many goroutines sharing one file path, the in-process
// analogue of many OS processes racing on the same lock directory.
func TestConcurrentUpsertsPreserveAllRecords(t *testing.T) {
	reg := newTestRegistry(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := sampleRecord(handleFor(i))
			if err := reg.Upsert(rec); err != nil {
				t.Errorf("upsert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	list, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, list, n)

	seen := map[string]bool{}
	for _, rec := range list {
		assert.False(t, seen[rec.Handle], "duplicate handle %s", rec.Handle)
		seen[rec.Handle] = true
	}
}

func handleFor(i int) string {
	return "handle-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
