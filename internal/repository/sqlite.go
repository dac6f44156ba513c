// sqlite.go is the reference Repository implementation: one gorm-managed
// table, body is an opaque blob plus a status column for filtering.
//
// Grounded on web3guy0-polybot/internal/database/database.go: same
// gorm.Open(sqlite.Open(path))+AutoMigrate+Save/First shape, narrowed from
// that repo's many trade/market tables down to the single snapshot table
// spec.md §6 describes (algo_id, kind, status, payload, updated_at).
package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tesserun/internal/core"
)

// algoSnapshotRow is the gorm model backing the snapshot table.
type algoSnapshotRow struct {
	AlgoID        string    `gorm:"column:algo_id;primaryKey"`
	Kind          string    `gorm:"column:kind"`
	Symbol        string    `gorm:"column:symbol"`
	Status        string    `gorm:"column:status;index"`
	Payload       []byte    `gorm:"column:payload"`
	NextClientSeq uint32    `gorm:"column:next_client_seq"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (algoSnapshotRow) TableName() string { return "algo_snapshots" }

func (r algoSnapshotRow) toSnapshot() (core.AlgoSnapshot, error) {
	id, err := uuid.Parse(r.AlgoID)
	if err != nil {
		return core.AlgoSnapshot{}, fmt.Errorf("parse algo_id %q: %w", r.AlgoID, err)
	}
	return core.AlgoSnapshot{
		AlgoID:        id,
		Kind:          r.Kind,
		Symbol:        core.Symbol(r.Symbol),
		Status:        core.AlgoStatus(r.Status),
		Payload:       r.Payload,
		NextClientSeq: r.NextClientSeq,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func fromSnapshot(s core.AlgoSnapshot) algoSnapshotRow {
	return algoSnapshotRow{
		AlgoID:        s.AlgoID.String(),
		Kind:          s.Kind,
		Symbol:        string(s.Symbol),
		Status:        string(s.Status),
		Payload:       s.Payload,
		NextClientSeq: s.NextClientSeq,
		UpdatedAt:     s.UpdatedAt,
	}
}

// SQLiteRepository is a gorm/sqlite-backed Repository.
type SQLiteRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (creating parent directories and the schema if needed) a
// SQLite-backed repository at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create repository dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}

	if err := db.AutoMigrate(&algoSnapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate repository schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Put implements Repository. gorm's Save performs an upsert keyed on the
// primary key, which sqlite executes as a single transactional statement —
// a crash mid-write leaves either the prior row or the new one, never a
// partial one.
func (r *SQLiteRepository) Put(ctx context.Context, snapshot core.AlgoSnapshot) error {
	row := fromSnapshot(snapshot)
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("put snapshot %s: %w", snapshot.AlgoID, err)
	}
	return nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, algoID string) (core.AlgoSnapshot, error) {
	var row algoSnapshotRow
	err := r.db.WithContext(ctx).First(&row, "algo_id = ?", algoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.AlgoSnapshot{}, ErrNotFound
	}
	if err != nil {
		return core.AlgoSnapshot{}, fmt.Errorf("get snapshot %s: %w", algoID, err)
	}
	return row.toSnapshot()
}

// ListActive implements Repository.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]core.AlgoSnapshot, error) {
	var rows []algoSnapshotRow
	if err := r.db.WithContext(ctx).Where("status = ?", string(core.AlgoWorking)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active snapshots: %w", err)
	}

	out := make([]core.AlgoSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, algoID string) error {
	if err := r.db.WithContext(ctx).Delete(&algoSnapshotRow{}, "algo_id = ?", algoID).Error; err != nil {
		return fmt.Errorf("delete snapshot %s: %w", algoID, err)
	}
	return nil
}
