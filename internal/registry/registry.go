package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

const (
	// Default settings
	defaultShardCount      = 16
	defaultRetention       = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// entry is one record snapshot. Terminal snapshots expire after the
// retention window; in-flight snapshots never expire.
type entry struct {
	record    *domain.IngestionRecord
	updatedAt time.Time
}

func (e *entry) expired(retention time.Duration) bool {
	if !e.record.Status.Terminal() {
		return false
	}
	return time.Now().After(e.updatedAt.Add(retention))
}

// shard is a single slice of the registry with its own lock.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// ShardedRegistry is the live, in-memory view of ingestion records.
// Each pipeline run writes a snapshot at every status transition; the
// query path reads here before falling back to the repository. Sharding
// keeps concurrent runs from contending on one lock.
type ShardedRegistry struct {
	shards     []*shard
	shardCount int
	retention  time.Duration

	cleanupInterval time.Duration

	// Cleanup worker management
	cleanupWorkerRunning bool
	cleanupWorkerMu      sync.Mutex
	cleanupWorkerStop    chan struct{}
	cleanupWorkerWg      sync.WaitGroup
}

// NewShardedRegistry creates a registry. retentionSeconds bounds how long
// terminal snapshots are kept; the repository remains the source of truth
// after eviction.
func NewShardedRegistry(shardCount int, retentionSeconds int) *ShardedRegistry {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}

	retention := time.Duration(retentionSeconds) * time.Second
	if retention <= 0 {
		retention = defaultRetention
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}

	return &ShardedRegistry{
		shards:            shards,
		shardCount:        shardCount,
		retention:         retention,
		cleanupInterval:   defaultCleanupInterval,
		cleanupWorkerStop: make(chan struct{}),
	}
}

// getShard returns the shard for a given record ID using FNV hash
func (r *ShardedRegistry) getShard(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(r.shardCount)]
}

// Get returns the current snapshot of a record (implements domain.RecordRegistry)
func (r *ShardedRegistry) Get(ctx context.Context, id string) (*domain.IngestionRecord, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	default:
	}

	s := r.getShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.expired(r.retention) {
		return nil, false
	}
	// Callers get their own copy; the stored snapshot stays shared.
	return e.record.Clone(), true
}

// Set stores a snapshot of a record (implements domain.RecordRegistry)
func (r *ShardedRegistry) Set(ctx context.Context, rec *domain.IngestionRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Snapshot so observers never see the run's later mutations.
	snapshot := rec.Clone()

	s := r.getShard(rec.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[rec.ID] = &entry{record: snapshot, updatedAt: time.Now()}
	return nil
}

// Delete removes a record snapshot (implements domain.RecordRegistry)
func (r *ShardedRegistry) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s := r.getShard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// CleanExpired removes expired terminal snapshots (implements domain.RecordRegistry)
func (r *ShardedRegistry) CleanExpired(ctx context.Context) error {
	for _, s := range r.shards {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		for id, e := range s.entries {
			if e.expired(r.retention) {
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Snapshot returns a copy of every live record, for joining the registry
// view onto repository listings.
func (r *ShardedRegistry) Snapshot(ctx context.Context) []*domain.IngestionRecord {
	var out []*domain.IngestionRecord
	for _, s := range r.shards {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		s.mu.RLock()
		for _, e := range s.entries {
			if !e.expired(r.retention) {
				out = append(out, e.record.Clone())
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// StartCleanupWorker starts a background goroutine that periodically removes expired snapshots
func (r *ShardedRegistry) StartCleanupWorker() {
	r.cleanupWorkerMu.Lock()
	defer r.cleanupWorkerMu.Unlock()

	if r.cleanupWorkerRunning {
		return // Already running
	}

	r.cleanupWorkerRunning = true
	r.cleanupWorkerStop = make(chan struct{})

	r.cleanupWorkerWg.Add(1)
	go r.cleanupWorker()
}

// StopCleanupWorker stops the background cleanup worker gracefully
func (r *ShardedRegistry) StopCleanupWorker() {
	r.cleanupWorkerMu.Lock()
	defer r.cleanupWorkerMu.Unlock()

	if !r.cleanupWorkerRunning {
		return // Not running
	}

	close(r.cleanupWorkerStop)
	r.cleanupWorkerWg.Wait()
	r.cleanupWorkerRunning = false
}

// cleanupWorker is the background goroutine that periodically cleans up expired snapshots
func (r *ShardedRegistry) cleanupWorker() {
	defer r.cleanupWorkerWg.Done()

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.cleanupWorkerStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = r.CleanExpired(ctx)
			cancel()
		}
	}
}

// Verify that ShardedRegistry implements domain.RecordRegistry interface
var _ domain.RecordRegistry = (*ShardedRegistry)(nil)
