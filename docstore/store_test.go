package docstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type counterDoc struct {
	Total int64            `json:"total"`
	Seen  map[string]int64 `json:"seen"`
}

func newCounter() counterDoc { return counterDoc{Seen: map[string]int64{}} }

func newFileStore(t *testing.T) (*docstore.Store, string) {
	dir := t.TempDir()
	backend, err := docstore.NewFileBackend(dir)
	require.NoError(t, err)
	return docstore.New(backend), dir
}

// failingBackend fails every Save after failSaves is set.
type failingBackend struct {
	*docstore.MemoryBackend
	failSaves bool
}

func (f *failingBackend) Save(ctx context.Context, key string, data []byte) error {
	if f.failSaves {
		return errors.New("no space left on device")
	}
	return f.MemoryBackend.Save(ctx, key, data)
}

// =============================================================================
// READ / WRITE
// =============================================================================

func TestRead_AbsentKey_InitializesAndPersistsDefault(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()

	got, err := store.Read(ctx, "settings", map[string]int{"min_topup": 15000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"min_topup":15000}`, string(got))

	onDisk, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"min_topup":15000}`, string(onDisk))
}

func TestWriteThenRead_RoundTripsNestedPayload(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	value := map[string]any{
		"next_id": 3.0,
		"orders": []any{
			map[string]any{"id": 1.0, "payload": map[string]any{"amount": 50000.0, "tags": []any{"a", nil, true}}},
			map[string]any{"id": 2.0, "payload": map[string]any{}},
		},
		"unicode": "رصيد",
	}
	require.NoError(t, store.Write(ctx, "orders", value))

	raw, err := store.Read(ctx, "orders", map[string]any{})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, value, got)
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Write(ctx, "wallets", map[string]int{"n": i}))
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_RejectsPathLikeKeys(t *testing.T) {
	store, _ := newFileStore(t)

	_, err := store.Read(context.Background(), "../etc/passwd", nil)
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}

func TestStore_CancelledContextDoesNotStart(t *testing.T) {
	backend := docstore.NewMemoryBackend()
	store := docstore.New(backend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Write(ctx, "wallets", map[string]int{})
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := backend.Raw("wallets")
	assert.False(t, ok)
}

// =============================================================================
// CORRUPTION RECOVERY
// =============================================================================

func TestRead_CorruptFile_IsQuarantinedAndReinitialized(t *testing.T) {
	// GIVEN: orders.json holds a truncated document
	// WHEN: Reading it
	// THEN: The default comes back, the bad bytes are preserved aside, a warning is logged

	dir := t.TempDir()
	backend, err := docstore.NewFileBackend(dir)
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	store := docstore.New(backend, docstore.WithLogger(logrus.NewEntry(logger)))

	bad := []byte(`{"next_id": 4, "orders": [`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), bad, 0o600))

	got, err := store.Read(context.Background(), "orders", map[string]any{"next_id": 1, "orders": []any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_id":1,"orders":[]}`, string(got))

	aside, err := filepath.Glob(filepath.Join(dir, "orders.json.corrupt-*"))
	require.NoError(t, err)
	require.Len(t, aside, 1)
	preserved, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, bad, preserved)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "orders", hook.LastEntry().Data["key"])
}

func TestLoad_WrongShape_IsTreatedAsCorrupt(t *testing.T) {
	backend := docstore.NewMemoryBackend()
	store := docstore.New(backend)
	backend.Put("wallets", []byte(`[1,2,3]`))

	got, err := docstore.Load(context.Background(), store, "wallets", newCounter)
	require.NoError(t, err)
	assert.Equal(t, newCounter(), got)
	assert.Equal(t, [][]byte{[]byte(`[1,2,3]`)}, backend.Quarantined("wallets"))
}

// =============================================================================
// UPDATE SEMANTICS
// =============================================================================

func TestUpdate_AppliesFunctionToCurrentValue(t *testing.T) {
	store := docstore.New(docstore.NewMemoryBackend())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Update(ctx, "counter", map[string]int{"n": 0}, func(cur json.RawMessage) (any, error) {
			var v map[string]int
			if err := json.Unmarshal(cur, &v); err != nil {
				return nil, err
			}
			v["n"]++
			return v, nil
		})
		require.NoError(t, err)
	}

	raw, err := store.Read(ctx, "counter", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":3}`, string(raw))
}

func TestMutate_FunctionErrorWritesNothing(t *testing.T) {
	backend := docstore.NewMemoryBackend()
	store := docstore.New(backend)
	ctx := context.Background()

	_, err := docstore.Mutate(ctx, store, "counter", newCounter, func(d *counterDoc) error {
		d.Total = 10
		return nil
	})
	require.NoError(t, err)
	before, _ := backend.Raw("counter")

	boom := errors.New("business rule failed")
	_, err = docstore.Mutate(ctx, store, "counter", newCounter, func(d *counterDoc) error {
		d.Total = 999
		return boom
	})
	assert.Same(t, boom, err)

	after, _ := backend.Raw("counter")
	assert.Equal(t, before, after)
}

func TestMutate_WriteFailureIsNoOpAndTyped(t *testing.T) {
	backend := &failingBackend{MemoryBackend: docstore.NewMemoryBackend()}
	store := docstore.New(backend)
	ctx := context.Background()

	_, err := docstore.Mutate(ctx, store, "counter", newCounter, func(d *counterDoc) error {
		d.Total = 1
		return nil
	})
	require.NoError(t, err)

	backend.failSaves = true
	_, err = docstore.Mutate(ctx, store, "counter", newCounter, func(d *counterDoc) error {
		d.Total = 2
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreIO)
	var ioErr *core.StoreIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "counter", ioErr.Key)

	backend.failSaves = false
	got, err := docstore.Load(ctx, store, "counter", newCounter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Total)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestMutate_ConcurrentUpdatesLoseNothing(t *testing.T) {
	// GIVEN: 40 goroutines each applying 25 increments to one document
	// WHEN: They all run at once against the file backend
	// THEN: The final total equals the sum of all deltas

	store, _ := newFileStore(t)
	ctx := context.Background()

	const workers, perWorker = 40, 25
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		delta := int64(w + 1)
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				_, err := docstore.Mutate(ctx, store, "wallets", newCounter, func(d *counterDoc) error {
					d.Total += delta
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var want int64
	for w := 0; w < workers; w++ {
		want += int64(w+1) * perWorker
	}
	got, err := docstore.Load(ctx, store, "wallets", newCounter)
	require.NoError(t, err)
	assert.Equal(t, want, got.Total)
}

func TestMutate_DifferentKeysDoNotBlock(t *testing.T) {
	store := docstore.New(docstore.NewMemoryBackend())
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = docstore.Mutate(ctx, store, "orders", newCounter, func(d *counterDoc) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan error, 1)
	go func() {
		_, err := docstore.Mutate(ctx, store, "wallets", newCounter, func(d *counterDoc) error {
			d.Total++
			return nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("update on wallets blocked behind orders")
	}
	close(release)
}
