package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/query"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type catalog []models.Center

func (c catalog) Centers() []models.Center { return c }

func (c catalog) Get(id string) (models.Center, bool) {
	for _, m := range c {
		if m.ID == id {
			return m, true
		}
	}
	return models.Center{}, false
}

func fixture() (*snapshot.Cache, *query.Service) {
	centers := catalog{{ID: "leeds", Name: "Leeds"}, {ID: "york", Name: "York"}}
	cache := snapshot.New([]string{"leeds", "york"}, snapshot.Options{Now: func() time.Time { return now }})
	return cache, query.New(centers, cache, nil)
}

func TestExportAndRead(t *testing.T) {
	cache, svc := fixture()
	slot := now.Add(72 * time.Hour)
	cache.Apply("leeds", adapter.Success(models.NewSlotResult([]time.Time{slot}, now)))
	cache.Apply("york", adapter.Temporary(adapter.ErrTimeout(nil)))

	path := filepath.Join(t.TempDir(), "nested", "slots.json")
	e := New(path)
	e.now = func() time.Time { return now }

	doc, err := e.Export(svc)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), doc.Generation)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Generation)
	assert.True(t, got.ExportedAt.Equal(now))
	require.Len(t, got.Centers, 2)
	assert.Equal(t, "leeds", got.Centers[0].ID)
	require.NotNil(t, got.Centers[0].LatestSlot)
	assert.True(t, got.Centers[0].LatestSlot.Equal(slot))
	assert.Equal(t, snapshot.Stale, got.Centers[1].Freshness)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp", "temp file left behind")
	}
}

func TestWriteEmptyListing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	require.NoError(t, New(path).Write(Document{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"centers": []`)
}

func TestWriteReplacesPreviousDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	e := New(path)

	require.NoError(t, e.Write(Document{Generation: 1}))
	require.NoError(t, e.Write(Document{Generation: 2}))

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), doc.Generation)
}

func TestWriteFailsOpenWhenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	e := New(path)

	held := flock.New(e.lockPath())
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	start := time.Now()
	require.NoError(t, e.Write(Document{Generation: 7}))
	assert.GreaterOrEqual(t, time.Since(start), LockTimeout/2)

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), doc.Generation)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Read(bad)
	assert.ErrorContains(t, err, "parse")
}

func TestFollowRewritesOnNewGeneration(t *testing.T) {
	cache, svc := fixture()
	path := filepath.Join(t.TempDir(), "slots.json")
	e := New(path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Follow(ctx, e, svc, cache, func(err error) { t.Errorf("export: %v", err) })
	}()

	generationOnDisk := func() uint64 {
		doc, err := Read(path)
		if err != nil {
			return 0
		}
		return doc.Generation
	}

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "initial export")

	cache.Apply("leeds", adapter.Success(models.NewSlotResult(nil, now)))
	require.Eventually(t, func() bool { return generationOnDisk() == 1 }, 2*time.Second, 10*time.Millisecond)

	cache.Apply("york", adapter.Success(models.NewSlotResult(nil, now)))
	require.Eventually(t, func() bool { return generationOnDisk() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}
