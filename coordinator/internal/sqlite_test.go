package internal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreGetMissingKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	values, err := store.Get(ctx, "k_abc", []string{"meta", "config"})
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = store.Get(ctx, "k_abc", nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSQLiteStorePutAtomicBatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.PutAtomic(ctx, "k_abc", map[string][]byte{
		"meta":   []byte(`{"status":"init"}`),
		"config": []byte(`{"t":2}`),
	})
	require.NoError(t, err)

	values, err := store.Get(ctx, "k_abc", []string{"meta", "config", "engine_state"})
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, []byte(`{"t":2}`), values["config"])

	// Upsert replaces, and keys stay scoped to their operation id.
	err = store.PutAtomic(ctx, "k_abc", map[string][]byte{"meta": []byte(`{"status":"ready"}`)})
	require.NoError(t, err)
	err = store.PutAtomic(ctx, "s_def", map[string][]byte{"meta": []byte(`{"status":"init"}`)})
	require.NoError(t, err)

	values, err = store.Get(ctx, "k_abc", []string{"meta"})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"ready"}`), values["meta"])
}

func TestSQLiteStoreListOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ids, err := store.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.PutAtomic(ctx, "k_one", map[string][]byte{"meta": []byte("{}"), "config": []byte("{}")}))
	require.NoError(t, store.PutAtomic(ctx, "s_two", map[string][]byte{"meta": []byte("{}")}))

	ids, err = store.ListOperations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k_one", "s_two"}, ids)
}
