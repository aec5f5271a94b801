package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cldcde/pulse/internal/platform/storage/sqlitemigrate"
	"github.com/cldcde/pulse/internal/services/activity/storage"
	"github.com/cldcde/pulse/internal/services/activity/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the activity log.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens an activity SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEvent inserts one immutable event row. A duplicate id returns
// storage.ErrConflict and leaves the existing row untouched.
func (s *Store) AppendEvent(ctx context.Context, record storage.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeEventRecord(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
	INSERT INTO activity_events (
		id, event_type, actor_user_id, actor_name, target_id, target_name, target_type, metadata_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		normalized.ID,
		normalized.EventType,
		normalized.ActorUserID,
		normalized.ActorName,
		normalized.TargetID,
		normalized.TargetName,
		normalized.TargetType,
		normalized.MetadataJSON,
		toMillis(normalized.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEventsSince lists events created at or after since, oldest first.
func (s *Store) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, event_type, actor_user_id, actor_name, target_id, target_name, target_type, metadata_json, created_at
FROM activity_events
WHERE created_at >= ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	results := make([]storage.EventRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan event row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return results, nil
}

// DeleteEventsBefore removes events strictly older than cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM activity_events WHERE created_at < ?
`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired events rows affected: %w", err)
	}
	return removed, nil
}

// PutTargetOwner upserts one target ownership row.
func (s *Store) PutTargetOwner(ctx context.Context, record storage.OwnerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.TargetType = strings.TrimSpace(record.TargetType)
	record.TargetID = strings.TrimSpace(record.TargetID)
	record.OwnerUserID = strings.TrimSpace(record.OwnerUserID)
	if record.TargetType == "" {
		return fmt.Errorf("target type is required")
	}
	if record.TargetID == "" {
		return fmt.Errorf("target id is required")
	}
	if record.OwnerUserID == "" {
		return fmt.Errorf("owner user id is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO target_owners (target_type, target_id, owner_user_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(target_type, target_id) DO UPDATE SET
		owner_user_id = excluded.owner_user_id,
		updated_at = excluded.updated_at
	`,
		record.TargetType,
		record.TargetID,
		record.OwnerUserID,
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put target owner: %w", err)
	}
	return nil
}

// GetTargetOwner loads one target ownership row.
func (s *Store) GetTargetOwner(ctx context.Context, targetType string, targetID string) (storage.OwnerRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.OwnerRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OwnerRecord{}, fmt.Errorf("storage is not configured")
	}
	targetType = strings.TrimSpace(targetType)
	targetID = strings.TrimSpace(targetID)
	if targetType == "" || targetID == "" {
		return storage.OwnerRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT target_type, target_id, owner_user_id, updated_at
FROM target_owners
WHERE target_type = ? AND target_id = ?
`, targetType, targetID)
	var record storage.OwnerRecord
	var updatedAt int64
	if err := row.Scan(&record.TargetType, &record.TargetID, &record.OwnerUserID, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OwnerRecord{}, storage.ErrNotFound
		}
		return storage.OwnerRecord{}, fmt.Errorf("get target owner: %w", err)
	}
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

type scanner func(dest ...any) error

func normalizeEventRecord(record storage.EventRecord) (storage.EventRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.EventType = strings.TrimSpace(record.EventType)
	record.ActorUserID = strings.TrimSpace(record.ActorUserID)
	record.ActorName = strings.TrimSpace(record.ActorName)
	record.TargetID = strings.TrimSpace(record.TargetID)
	record.TargetName = strings.TrimSpace(record.TargetName)
	record.TargetType = strings.TrimSpace(record.TargetType)
	record.MetadataJSON = strings.TrimSpace(record.MetadataJSON)
	if record.MetadataJSON == "" {
		record.MetadataJSON = "{}"
	}
	if record.ID == "" {
		return storage.EventRecord{}, fmt.Errorf("event id is required")
	}
	if record.EventType == "" {
		return storage.EventRecord{}, fmt.Errorf("event type is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.EventRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func scanEvent(scan scanner) (storage.EventRecord, error) {
	var record storage.EventRecord
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.EventType,
		&record.ActorUserID,
		&record.ActorName,
		&record.TargetID,
		&record.TargetName,
		&record.TargetType,
		&record.MetadataJSON,
		&createdAt,
	); err != nil {
		return storage.EventRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
