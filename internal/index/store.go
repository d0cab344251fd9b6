// Package index implements a durable, time-ranged mapping from segment id
// to wall-clock start time and duration, backed by the shared GORM/SQLite
// connection in internal/database.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/database"
)

// VideoFile is a single row of the video_files table. GORM's default
// pluralized table name ("video_files") matches the schema this store
// expects, so no explicit TableName override is needed.
type VideoFile struct {
	FileID    string    `gorm:"column:file_id"`
	StartTime time.Time `gorm:"column:start_time"`
	Duration  float64   `gorm:"column:duration"`
}

// sentinelMin and sentinelMax bound an unconstrained query endpoint: an
// omitted start or end time defaults to the year-0001 or year-9999
// sentinel, respectively.
var (
	sentinelMin = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	sentinelMax = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// Store is the durable key-range index shared between the ingest thread
// (writer) and the HTTP handlers (readers). The underlying database.DB
// already serializes access to a single connection, so Store adds no
// locking of its own.
type Store struct {
	db *database.DB
}

// New wraps db as an Index Store, migrating the video_files table if it
// does not already exist.
func New(db *database.DB) (*Store, error) {
	if err := db.AutoMigrate(&VideoFile{}); err != nil {
		return nil, fmt.Errorf("migrating video_files table: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts a single video_files row for a just-finalized segment.
// Called exactly once per successful segment end: no uniqueness
// constraint is enforced at the schema level, since the roller's id
// monotonicity is the uniqueness source.
func (s *Store) Append(ctx context.Context, fileID string, startTime time.Time, duration float64) error {
	row := VideoFile{FileID: fileID, StartTime: startTime, Duration: duration}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("appending index row for %s: %w", fileID, err)
	}
	return nil
}

// Query returns all rows whose start_time falls in [start, end] inclusive.
// A zero start or end defaults to the year-0001/year-9999 sentinel so
// either or both endpoints may be left unbounded. Rows are returned in
// insertion order, which under the single writer equals wall-clock order.
func (s *Store) Query(ctx context.Context, start, end time.Time) ([]VideoFile, error) {
	if start.IsZero() {
		start = sentinelMin
	}
	if end.IsZero() {
		end = sentinelMax
	}

	var rows []VideoFile
	err := s.db.WithContext(ctx).
		Where("start_time >= ? AND start_time <= ?", start, end).
		Order("rowid").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return rows, nil
}
