// Package scheduler admits uploaded files into the ingestion pipeline
// under a bounded concurrency budget.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
	"github.com/c-ster/Athena-Ingestion-Module/internal/pipeline"
	"github.com/c-ster/Athena-Ingestion-Module/internal/storage"
)

// DedupePolicy decides what happens when content already known by hash
// is submitted again.
type DedupePolicy string

const (
	// DedupeReuse returns the existing record untouched and does not
	// re-run the pipeline.
	DedupeReuse DedupePolicy = "reuse"
	// DedupeVersion ingests the duplicate as a new versioned record
	// with a "hash:n" identifier.
	DedupeVersion DedupePolicy = "version"
)

// Submission is one file handed to Submit.
type Submission struct {
	Filename string
	Data     []byte
}

// BatchHandle tracks one Submit call. RecordIDs is populated before
// Submit returns; Wait blocks until every run of the batch reached a
// terminal status.
type BatchHandle struct {
	ID        uuid.UUID
	RecordIDs []string

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// Done returns a channel closed when the whole batch is terminal.
func (b *BatchHandle) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch is terminal or ctx expires.
func (b *BatchHandle) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler fans submissions out to pipeline runs, at most `workers` of
// them in flight at once. Admission is FIFO in submission order.
type Scheduler struct {
	pipeline *pipeline.Pipeline
	repo     domain.RecordRepository
	registry domain.RecordRegistry
	bus      domain.EventPublisher
	policy   DedupePolicy
	logger   *zap.Logger

	sem *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	// admitTail is the hand-off token of the most recently queued run.
	// Each run waits for its predecessor to claim a worker slot before
	// contending itself, so admission follows submission order.
	admitTail chan struct{}
}

// New builds a scheduler with the given worker budget. workers below 1
// is clamped to 1.
func New(
	p *pipeline.Pipeline,
	repo domain.RecordRepository,
	registry domain.RecordRegistry,
	bus domain.EventPublisher,
	workers int,
	policy DedupePolicy,
	logger *zap.Logger,
) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if policy != DedupeVersion {
		policy = DedupeReuse
	}
	ctx, cancel := context.WithCancel(context.Background())
	tail := make(chan struct{})
	close(tail)
	return &Scheduler{
		pipeline:  p,
		repo:      repo,
		registry:  registry,
		bus:       bus,
		policy:    policy,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(workers)),
		baseCtx:   ctx,
		cancel:    cancel,
		admitTail: tail,
	}
}

// Submit registers every file of the batch as Pending and queues its
// pipeline run. It returns as soon as all records exist; it never waits
// for a worker slot. After Stop, Submit refuses new work.
func (s *Scheduler) Submit(ctx context.Context, subs []Submission) (*BatchHandle, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is stopped")
	}

	batch := &BatchHandle{
		ID:   uuid.New(),
		done: make(chan struct{}),
	}

	type queued struct {
		rec  *domain.IngestionRecord
		data []byte
	}
	var work []queued

	for _, sub := range subs {
		hash := storage.ContentHash(sub.Data)

		if existing, ok := s.lookup(ctx, hash); ok && s.policy == DedupeReuse {
			s.logger.Info("duplicate content reused",
				zap.String("record_id", existing.ID),
				zap.String("filename", sub.Filename),
			)
			batch.RecordIDs = append(batch.RecordIDs, existing.ID)
			if !existing.Status.Terminal() {
				// The reused record may still be mid-flight from an
				// earlier batch; this batch counts it resolved only
				// once it settles.
				batch.wg.Add(1)
				s.runs.Add(1)
				go s.awaitTerminal(existing.ID, batch)
			}
			continue
		}

		id := hash
		if s.policy == DedupeVersion {
			n, err := s.repo.CountVersions(ctx, hash)
			if err != nil {
				s.mu.Unlock()
				return nil, fmt.Errorf("failed to count versions for %s: %w", sub.Filename, err)
			}
			if n > 0 {
				id = fmt.Sprintf("%s:%d", hash, n+1)
			}
		}

		now := time.Now().UTC()
		rec := &domain.IngestionRecord{
			ID:               id,
			OriginalFilename: sub.Filename,
			Status:           domain.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.registry.Set(ctx, rec); err != nil {
			s.logger.Warn("failed to register pending record",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
		}
		s.bus.Publish(domain.IngestionEvent{
			RecordID: rec.ID,
			Filename: rec.OriginalFilename,
			Status:   domain.StatusPending,
		})

		batch.RecordIDs = append(batch.RecordIDs, rec.ID)
		work = append(work, queued{rec: rec, data: sub.Data})
	}

	batch.wg.Add(len(work))
	for _, w := range work {
		turn := s.admitTail
		next := make(chan struct{})
		s.admitTail = next
		s.runs.Add(1)
		go s.run(w.rec, w.data, batch, turn, next)
	}
	s.mu.Unlock()

	go func() {
		batch.wg.Wait()
		batch.once.Do(func() { close(batch.done) })
	}()

	s.logger.Info("batch submitted",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("files", len(subs)),
		zap.Int("queued", len(work)),
	)
	return batch, nil
}

// run waits for its turn and a worker slot, executes the pipeline and
// releases the slot. The turn/next hand-off chain keeps admission in
// submission order; next must always be closed or later runs stall.
func (s *Scheduler) run(rec *domain.IngestionRecord, data []byte, batch *BatchHandle, turn, next chan struct{}) {
	defer s.runs.Done()
	defer batch.wg.Done()

	select {
	case <-turn:
	case <-s.baseCtx.Done():
		// Shutdown before this run ever started; the record stays
		// Pending.
		close(next)
		return
	}
	if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
		close(next)
		return
	}
	close(next)
	defer s.sem.Release(1)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.logger.Error("pipeline run panicked",
			zap.String("record_id", rec.ID),
			zap.Any("panic", r),
		)
		rec.ErrorDetail = string(domain.ErrKindInternal) + ": internal failure"
		rec.Status = domain.StatusError
		rec.UpdatedAt = time.Now().UTC()
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.registry.Set(persistCtx, rec); err != nil {
			s.logger.Warn("failed to update registry after panic", zap.Error(err))
		}
		if err := s.repo.Save(persistCtx, rec); err != nil {
			s.logger.Error("failed to persist record after panic", zap.Error(err))
		}
		s.bus.Publish(domain.IngestionEvent{
			RecordID: rec.ID,
			Filename: rec.OriginalFilename,
			Status:   domain.StatusError,
			Detail:   rec.ErrorDetail,
		})
	}()

	if _, err := s.pipeline.Run(s.baseCtx, data, rec); err != nil {
		s.logger.Warn("pipeline run abandoned",
			zap.String("record_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
	}
}

// awaitTerminal resolves a reused in-flight record toward batch
// completion once it reaches a terminal status. The owning run updates
// the registry at every transition, so a poll is sufficient.
func (s *Scheduler) awaitTerminal(id string, batch *BatchHandle) {
	defer s.runs.Done()
	defer batch.wg.Done()

	if s.settled(id) {
		return
	}

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-poll.C:
			if s.settled(id) {
				return
			}
		}
	}
}

// settled reports whether the record has reached a terminal status.
func (s *Scheduler) settled(id string) bool {
	if rec, ok := s.registry.Get(s.baseCtx, id); ok {
		return rec.Status.Terminal()
	}
	rec, err := s.repo.GetByID(s.baseCtx, id)
	return err == nil && rec.Status.Terminal()
}

// lookup finds an existing record by hash, registry first.
func (s *Scheduler) lookup(ctx context.Context, hash string) (*domain.IngestionRecord, bool) {
	if rec, ok := s.registry.Get(ctx, hash); ok {
		return rec, true
	}
	rec, err := s.repo.GetByID(ctx, hash)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// Stop cancels in-flight runs and waits for them to wind down or for
// ctx to expire. The scheduler accepts no submissions afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
