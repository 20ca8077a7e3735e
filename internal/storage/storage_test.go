package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyScheme(t *testing.T) {
	assert.Equal(t, "aws-cost-reports/25-08-2025/raw_service.json",
		SnapshotKey("aws", "25-08-2025", "service"))
	assert.Equal(t, "azure-cost-reports/25-08-2025/billing_cycle_total.json",
		MetaKey("azure", "25-08-2025", "billing_cycle_total"))
	assert.Equal(t, "aws-cost-reports/25-08-2025/", DatePrefix("aws", "25-08-2025"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Trailing whitespace and odd spacing must survive untouched: the
	// normalizer sees exactly the bytes the provider returned.
	raw := []byte("{\"ResultsByTime\": [ ],\n  \"note\": \"spacing kept\"}\n")
	key := SnapshotKey("aws", "25-08-2025", "service")

	require.NoError(t, store.Put(ctx, key, raw))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "aws-cost-reports/01-01-2025/raw_service.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := SnapshotKey("azure", "25-08-2025", "resource_group")

	require.NoError(t, store.Put(ctx, key, []byte("first")))
	require.NoError(t, store.Put(ctx, key, []byte("second")))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestLocalStoreListFiltersByPrefix(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	keys := []string{
		SnapshotKey("aws", "25-08-2025", "service"),
		SnapshotKey("aws", "25-08-2025", "region"),
		SnapshotKey("aws", "24-08-2025", "service"),
		SnapshotKey("azure", "25-08-2025", "resource_group"),
	}
	for _, k := range keys {
		require.NoError(t, store.Put(ctx, k, []byte("{}")))
	}

	got, err := store.List(ctx, DatePrefix("aws", "25-08-2025"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"aws-cost-reports/25-08-2025/raw_region.json",
		"aws-cost-reports/25-08-2025/raw_service.json",
	}, got)

	got, err = store.List(ctx, DatePrefix("azure", "01-01-2025"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
