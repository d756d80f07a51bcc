package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// SQLiteRepository stores ingestion records in a SQLite database.
// Each record is written in one upsert statement, so a reader never
// observes a partially written record.
type SQLiteRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteRepository opens the database with WAL mode enabled and
// verifies the schema.
func NewSQLiteRepository(path string, logger *zap.Logger) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL mode lets the status query path read while a run commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	repo := &SQLiteRepository{db: db, logger: logger}
	return repo, nil
}

// EnsureSchema creates the records table if it does not exist (implements domain.HealthChecker)
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	original_filename TEXT NOT NULL,
	stored_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	translated_path TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at DESC);
`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CheckConnection checks if the database connection is healthy (implements domain.HealthChecker)
func (r *SQLiteRepository) CheckConnection(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save writes the full record in a single atomic upsert (implements domain.RecordRepository)
func (r *SQLiteRepository) Save(ctx context.Context, rec *domain.IngestionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record with non-empty id is required")
	}

	var metaJSON sql.NullString
	if rec.Metadata != nil {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO records (id, original_filename, stored_path, status, translated_path, error_detail, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	original_filename = excluded.original_filename,
	stored_path = excluded.stored_path,
	status = excluded.status,
	translated_path = excluded.translated_path,
	error_detail = excluded.error_detail,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at
`,
		rec.ID,
		rec.OriginalFilename,
		rec.StoredPath,
		string(rec.Status),
		rec.TranslatedPath,
		rec.ErrorDetail,
		metaJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}

	r.logger.Debug("record saved",
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

// GetByID retrieves a record by ID (implements domain.RecordRepository)
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, original_filename, stored_path, status, translated_path, error_detail, metadata, created_at, updated_at
FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// List retrieves all records, newest first (implements domain.RecordRepository)
func (r *SQLiteRepository) List(ctx context.Context) ([]*domain.IngestionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, original_filename, stored_path, status, translated_path, error_detail, metadata, created_at, updated_at
FROM records ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*domain.IngestionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// CountVersions returns how many records exist for a content hash,
// counting the bare hash and any "hash:n" versions (implements domain.RecordRepository)
func (r *SQLiteRepository) CountVersions(ctx context.Context, hash string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE id = ? OR id LIKE ? || ':%'`,
		hash, hash,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions of %s: %w", hash, err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.IngestionRecord, error) {
	var (
		rec       domain.IngestionRecord
		status    string
		metaJSON  sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OriginalFilename,
		&rec.StoredPath,
		&status,
		&rec.TranslatedPath,
		&rec.ErrorDetail,
		&metaJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = domain.Status(status)
	if metaJSON.Valid && metaJSON.String != "" {
		meta := &domain.Metadata{}
		if err := json.Unmarshal([]byte(metaJSON.String), meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		rec.Metadata = meta
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// Verify that SQLiteRepository implements the domain interfaces
var (
	_ domain.RecordRepository = (*SQLiteRepository)(nil)
	_ domain.HealthChecker    = (*SQLiteRepository)(nil)
)
