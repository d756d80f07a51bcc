package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

func record(id string, status domain.Status) *domain.IngestionRecord {
	return &domain.IngestionRecord{
		ID:               id,
		OriginalFilename: id + ".txt",
		Status:           status,
	}
}

func TestRegistrySetGetDelete(t *testing.T) {
	r := NewShardedRegistry(16, 3600)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, record("rec-1", domain.StatusScanning)))

	got, ok := r.Get(ctx, "rec-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusScanning, got.Status)

	_, ok = r.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, r.Delete(ctx, "rec-1"))
	_, ok = r.Get(ctx, "rec-1")
	assert.False(t, ok)
}

// TestRegistrySnapshotsAreIsolated verifies a stored snapshot is immune
// to later mutation of the original record.
func TestRegistrySnapshotsAreIsolated(t *testing.T) {
	r := NewShardedRegistry(16, 3600)
	ctx := context.Background()

	rec := record("rec-1", domain.StatusScanning)
	rec.Metadata = &domain.Metadata{Authors: []string{"A"}}
	require.NoError(t, r.Set(ctx, rec))

	// The owning run keeps mutating its record after the Set.
	rec.Status = domain.StatusParsing
	rec.Metadata.Authors[0] = "mutated"

	got, ok := r.Get(ctx, "rec-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusScanning, got.Status)
	assert.Equal(t, []string{"A"}, got.Metadata.Authors)
}

// TestRegistryReadPathsReturnCopies verifies a caller mutating what Get
// or Snapshot returned cannot reach the stored snapshot.
func TestRegistryReadPathsReturnCopies(t *testing.T) {
	r := NewShardedRegistry(16, 3600)
	ctx := context.Background()

	rec := record("rec-1", domain.StatusScanning)
	rec.Metadata = &domain.Metadata{Authors: []string{"A"}}
	require.NoError(t, r.Set(ctx, rec))

	got, ok := r.Get(ctx, "rec-1")
	require.True(t, ok)
	got.Status = domain.StatusError
	got.Metadata.Authors[0] = "mutated"

	snap := r.Snapshot(ctx)
	require.Len(t, snap, 1)
	snap[0].Status = domain.StatusError

	again, ok := r.Get(ctx, "rec-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusScanning, again.Status)
	assert.Equal(t, []string{"A"}, again.Metadata.Authors)
}

// TestRegistryExpiryAppliesOnlyToTerminalRecords verifies in-flight
// snapshots survive the retention window.
func TestRegistryExpiryAppliesOnlyToTerminalRecords(t *testing.T) {
	r := NewShardedRegistry(16, 1) // one second retention
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, record("done", domain.StatusComplete)))
	require.NoError(t, r.Set(ctx, record("failed", domain.StatusError)))
	require.NoError(t, r.Set(ctx, record("running", domain.StatusParsing)))

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, r.CleanExpired(ctx))

	_, ok := r.Get(ctx, "done")
	assert.False(t, ok, "terminal snapshot must expire")
	_, ok = r.Get(ctx, "failed")
	assert.False(t, ok, "terminal snapshot must expire")
	_, ok = r.Get(ctx, "running")
	assert.True(t, ok, "in-flight snapshot must never expire")
}

func TestRegistrySnapshotListing(t *testing.T) {
	r := NewShardedRegistry(4, 3600)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Set(ctx, record(fmt.Sprintf("rec-%d", i), domain.StatusParsing)))
	}

	assert.Len(t, r.Snapshot(ctx), 10)
}

func TestRegistryRespectsContext(t *testing.T) {
	r := NewShardedRegistry(4, 3600)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, r.Set(ctx, record("rec-1", domain.StatusScanning)))
	_, ok := r.Get(ctx, "rec-1")
	assert.False(t, ok)
}

// TestRegistryConcurrentAccess hammers the registry from many
// goroutines with race detection.
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewShardedRegistry(16, 3600)
	ctx := context.Background()

	numGoroutines := 50
	numOperations := 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				rec := record(fmt.Sprintf("rec-%d-%d", id, j), domain.StatusScanning)
				assert.NoError(t, r.Set(ctx, rec))
			}
		}(i)
	}

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, _ = r.Get(ctx, fmt.Sprintf("rec-%d-%d", id, j))
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = r.CleanExpired(ctx)
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
}

func TestRegistryCleanupWorkerLifecycle(t *testing.T) {
	r := NewShardedRegistry(4, 3600)

	r.StartCleanupWorker()
	r.StartCleanupWorker() // idempotent
	r.StopCleanupWorker()
	r.StopCleanupWorker() // idempotent
}
