package domain

import "context"

// RecordRepository defines the interface for ingestion record persistence.
type RecordRepository interface {
	// Save writes the full record in a single atomic upsert.
	Save(ctx context.Context, rec *IngestionRecord) error

	// GetByID retrieves a record by ID.
	GetByID(ctx context.Context, id string) (*IngestionRecord, error)

	// List retrieves all records, newest first.
	List(ctx context.Context) ([]*IngestionRecord, error)

	// CountVersions returns how many records exist whose ID is the given
	// content hash or a version of it.
	CountVersions(ctx context.Context, hash string) (int, error)
}

// HealthChecker defines the interface for storage health checks.
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy.
	CheckConnection(ctx context.Context) error

	// EnsureSchema ensures that required tables exist.
	EnsureSchema(ctx context.Context) error
}

// RecordRegistry defines the interface for the live, in-memory view of
// records. The pipeline writes a snapshot at every transition; queries
// consult the registry before the repository.
type RecordRegistry interface {
	// Get returns the current snapshot of a record.
	Get(ctx context.Context, id string) (*IngestionRecord, bool)

	// Set stores a snapshot of a record.
	Set(ctx context.Context, rec *IngestionRecord) error

	// Delete removes a record snapshot.
	Delete(ctx context.Context, id string) error

	// CleanExpired removes expired terminal snapshots.
	CleanExpired(ctx context.Context) error
}
