package store_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/kvmesh/internal/store"
)

func TestPutGetDelete(t *testing.T) {
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("alpha"), []byte("1")))

	v, err := s.Get([]byte("alpha"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete([]byte("alpha")))

	_, err = s.Get([]byte("alpha"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOverwriteKeepsSingleEntry(t *testing.T) {
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("k"), []byte("a")))
	require.NoError(t, s.Put([]byte("k"), []byte("b")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
	assert.Equal(t, 1, s.Len())
}

func TestCapacityEnforced(t *testing.T) {
	s, err := store.New(t.TempDir(), false, store.WithCapacity(2))
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	err = s.Put([]byte("c"), []byte("3"))
	assert.ErrorIs(t, err, store.ErrStoreFull)

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestCapacityAllowsOverwriteWhenFull(t *testing.T) {
	s, err := store.New(t.TempDir(), false, store.WithCapacity(1))
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("a"), []byte("2")))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestListKeysPreservesInsertionOrder(t *testing.T) {
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	keys := s.ListKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, []byte("a"), keys[0])
	assert.Equal(t, []byte("b"), keys[1])
}

func TestDeleteRemovesFromListKeys(t *testing.T) {
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	require.NoError(t, s.Delete([]byte("a")))

	keys := s.ListKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, []byte("b"), keys[0])
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := store.New(dir, true)
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, s.Delete([]byte("k1")))
	require.NoError(t, s.Close()) // writes a final snapshot

	s2, err := store.New(dir, true)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get([]byte("k1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	v, err := s2.Get([]byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestRecoveryIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := store.New(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s2, err := store.New(dir, true)
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	s3, err := store.New(dir, true)
	require.NoError(t, err)
	defer s3.Close()

	v, err := s3.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, s3.Len())
}

func TestSnapshotRotationAcrossThreshold(t *testing.T) {
	dir := t.TempDir()

	s, err := store.New(dir, true)
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		require.NoError(t, s.Put([]byte{byte(i)}, []byte("v")))
	}
	require.NoError(t, s.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "snapshot_*.dat"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(matches), 1)

	s2, err := store.New(dir, true)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 150, s2.Len())
}

func TestPersistedStateMatchesLiveStateAfterReload(t *testing.T) {
	dir := t.TempDir()

	s, err := store.New(dir, true)
	require.NoError(t, err)

	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		require.NoError(t, s.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, s.Delete([]byte("b")))
	delete(want, "b")
	require.NoError(t, s.Close())

	s2, err := store.New(dir, true)
	require.NoError(t, err)
	defer s2.Close()

	got := make(map[string]string, len(want))
	for _, k := range s2.ListKeys() {
		v, err := s2.Get(k)
		require.NoError(t, err)
		got[string(k)] = string(v)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recovered state mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentPutsAllLand(t *testing.T) {
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = s.Put([]byte{byte(i)}, []byte("v"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, s.Len())
}
