package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-plan/pkg/models"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

func newTestStore(t *testing.T, dir string) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(dir, "example.com", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// keysWithPrefix counts raw keys, for checking that old generations are gone
func keysWithPrefix(t *testing.T, s *BadgerStore, prefix string) int {
	t.Helper()
	count := 0
	require.NoError(t, s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	}))
	return count
}

func TestBadgerStore_LoadEmpty(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrPlanNotFound))
}

func TestBadgerStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()
	plan := samplePlan(t)
	plan.Extra = map[string]json.RawMessage{"site": json.RawMessage(`"example.com"`)}

	require.NoError(t, store.Save(ctx, plan))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	want, err := plan.Document()
	require.NoError(t, err)
	got, err := loaded.Document()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, plan.Counts(), loaded.Counts())
}

func TestBadgerStore_SaveReplacesGeneration(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, samplePlan(t)))
	smaller := models.NewCrawlPlan()
	smaller.MergeLinks([]string{"https://example.com/only"})
	require.NoError(t, store.Save(ctx, smaller))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.Equal(t, "https://example.com/only", loaded.Pages[0].URL)
	assert.Equal(t, 1, keysWithPrefix(t, store, genKeyPrefix), "previous generation dropped")
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewBadgerStore(dir, "example.com", testLogger())
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, samplePlan(t)))
	require.NoError(t, first.Close())

	second := newTestStore(t, dir)
	loaded, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, models.StateCounts{Pending: 1, Downloaded: 1, Skipped: 1, Errored: 1}, loaded.Counts())
}

func TestBadgerStore_SweepsInterruptedGeneration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewBadgerStore(dir, "example.com", testLogger())
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, samplePlan(t)))
	// A generation written without its head flip, as after a crash mid-Save
	require.NoError(t, first.writeGeneration(ctx, 99, samplePlan(t)))
	require.NoError(t, first.Close())

	second := newTestStore(t, dir)
	assert.Equal(t, 0, keysWithPrefix(t, second, string(generationPrefix(99))))
	loaded, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
}

func TestBadgerStore_ExportJSON(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	ctx := context.Background()
	plan := samplePlan(t)
	require.NoError(t, store.Save(ctx, plan))

	out := filepath.Join(dir, "export.json")
	require.NoError(t, store.ExportJSON(ctx, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want, err := plan.Document()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))

	// The export is a regular plan document
	loaded, err := NewFileStore(out, testLogger()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.Len(), loaded.Len())
}

func TestBadgerStore_ExportWithoutPlan(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	err := store.ExportJSON(context.Background(), filepath.Join(t.TempDir(), "x.json"))
	assert.True(t, errors.Is(err, utils.ErrPlanNotFound))
}

func TestBadgerStore_CloseTwice(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), "example.com", testLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestBadgerStore_CorruptPageIsParsingError(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	require.NoError(t, store.Save(context.Background(), samplePlan(t)))

	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		gen, found, err := readHead(txn)
		require.NoError(t, err)
		require.True(t, found)
		return txn.Set(pageKey(gen, 0), []byte(`{not json`))
	}))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrParsing), "got %v", err)
}
