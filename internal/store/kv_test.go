package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()

	dataDir := t.TempDir()
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	require.NoError(t, err)

	kv, err := Open(dataDir, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestKV_SetGetDelete(t *testing.T) {
	kv := openTestKV(t)

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("a", "1"))
	v, ok, err := kv.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// Last writer wins.
	require.NoError(t, kv.Set("a", "2"))
	v, _, _ = kv.Get("a")
	assert.Equal(t, "2", v)

	require.NoError(t, kv.Delete("a"))
	_, ok, _ = kv.Get("a")
	assert.False(t, ok)

	// Deleting an absent key is fine.
	require.NoError(t, kv.Delete("a"))
}

func TestKV_KeysByPrefix(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.Set("completed_2025-03-10", "[]"))
	require.NoError(t, kv.Set("completed_2025-03-11", "[]"))
	require.NoError(t, kv.Set("windowPhase", "idle"))

	keys, err := kv.Keys("completed_")
	require.NoError(t, err)
	assert.Equal(t, []string{"completed_2025-03-10", "completed_2025-03-11"}, keys)
}

func TestKV_SurvivesReopen(t *testing.T) {
	dataDir := t.TempDir()
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	require.NoError(t, err)

	kv, err := Open(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, kv.Set("windowPhase", "active_waiting"))
	require.NoError(t, kv.Close())

	// A second context opens the same store with the same key file.
	key2, err := EnsureKey(NewFileKeyProvider(dataDir))
	require.NoError(t, err)
	assert.Equal(t, key, key2)

	kv2, err := Open(dataDir, key2)
	require.NoError(t, err)
	defer kv2.Close()

	v, ok, err := kv2.Get("windowPhase")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "active_waiting", v)
}

func TestKV_WrongKeyFailsToOpen(t *testing.T) {
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	kv, err := Open(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Close())

	wrong, err := GenerateKey()
	require.NoError(t, err)

	kv2, err := Open(dataDir, wrong)
	if err != nil {
		return
	}
	defer kv2.Close()

	// Some sqlcipher builds defer the failure to the first query; either
	// way the data must not be readable.
	if _, ok, err := kv2.Get("a"); err == nil && ok {
		t.Fatal("store opened and read with the wrong key")
	}
}
