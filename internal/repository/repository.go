// Package repository defines the algorithm-state durable store contract
// and two implementations: a gorm/sqlite relational reference store, and
// a file-per-algorithm store using atomic write-then-rename.
//
// Grounded on spec.md §4.7/§6: Put overwrites atomically (prior or new
// snapshot is read on crash, never a partial record); ListActive filters
// to Working; Delete removes the snapshot for one algo_id. Delete does not
// check the status, and nothing in this module deletes snapshots after a
// retention window.
package repository

import (
	"context"
	"errors"

	"tesserun/internal/core"
)

// ErrNotFound is returned by Get when no snapshot exists for the given id.
var ErrNotFound = errors.New("repository: snapshot not found")

// Repository is the durable K/V contract the orchestrator persists
// algorithm state through, keyed by algo_id.
type Repository interface {
	// Put overwrites the snapshot for snapshot.AlgoID atomically.
	Put(ctx context.Context, snapshot core.AlgoSnapshot) error
	// Get returns ErrNotFound if no snapshot exists for algoID.
	Get(ctx context.Context, algoID string) (core.AlgoSnapshot, error)
	// ListActive returns all snapshots with Status == AlgoWorking.
	ListActive(ctx context.Context) ([]core.AlgoSnapshot, error)
	// Delete removes a terminal algorithm's snapshot.
	Delete(ctx context.Context, algoID string) error
}
