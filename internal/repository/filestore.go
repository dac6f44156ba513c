// filestore.go is an alternative Repository implementation: one JSON file
// per algorithm, written via atomic write-then-rename.
//
// Adapted from 0xtitan6-polymarket-mm/internal/store/store.go
// (SavePosition/LoadPosition): same dir+mutex+".tmp"-then-rename shape,
// generalized from one JSON position file per market to one JSON snapshot
// file per algo_id, plus ListActive (directory scan + status filter) and
// Delete, which the teacher's position-only store never needed.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tesserun/internal/core"
)

const timeLayout = time.RFC3339Nano

func parseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// FileRepository persists one JSON file per algorithm under a directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type FileRepository struct {
	dir string
	mu  sync.Mutex
}

// OpenFileRepository creates a repository backed by the given directory.
func OpenFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repository dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

type fileSnapshot struct {
	AlgoID        string `json:"algo_id"`
	Kind          string `json:"kind"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Payload       []byte `json:"payload"`
	NextClientSeq uint32 `json:"next_client_seq"`
	UpdatedAt     string `json:"updated_at"`
}

func (s fileSnapshot) path(dir string) string {
	return filepath.Join(dir, "algo_"+s.AlgoID+".json")
}

// Put implements Repository. The snapshot is written to a .tmp file and
// renamed over the target so a crash mid-write never leaves a partial
// file — the rename is atomic on the same filesystem.
func (r *FileRepository) Put(ctx context.Context, snapshot core.AlgoSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := fileSnapshot{
		AlgoID:        snapshot.AlgoID.String(),
		Kind:          snapshot.Kind,
		Symbol:        string(snapshot.Symbol),
		Status:        string(snapshot.Status),
		Payload:       snapshot.Payload,
		NextClientSeq: snapshot.NextClientSeq,
		UpdatedAt:     snapshot.UpdatedAt.Format(timeLayout),
	}

	data, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := fs.path(r.dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Get implements Repository.
func (r *FileRepository) Get(ctx context.Context, algoID string) (core.AlgoSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.readLocked(algoID)
}

func (r *FileRepository) readLocked(algoID string) (core.AlgoSnapshot, error) {
	path := filepath.Join(r.dir, "algo_"+algoID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.AlgoSnapshot{}, ErrNotFound
		}
		return core.AlgoSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var fs fileSnapshot
	if err := json.Unmarshal(data, &fs); err != nil {
		return core.AlgoSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return fs.toSnapshot()
}

func (fs fileSnapshot) toSnapshot() (core.AlgoSnapshot, error) {
	id, err := parseUUID(fs.AlgoID)
	if err != nil {
		return core.AlgoSnapshot{}, fmt.Errorf("parse algo_id %q: %w", fs.AlgoID, err)
	}
	updatedAt, err := parseTime(fs.UpdatedAt)
	if err != nil {
		return core.AlgoSnapshot{}, fmt.Errorf("parse updated_at %q: %w", fs.UpdatedAt, err)
	}
	return core.AlgoSnapshot{
		AlgoID:        id,
		Kind:          fs.Kind,
		Symbol:        core.Symbol(fs.Symbol),
		Status:        core.AlgoStatus(fs.Status),
		Payload:       fs.Payload,
		NextClientSeq: fs.NextClientSeq,
		UpdatedAt:     updatedAt,
	}, nil
}

// ListActive implements Repository by scanning the directory for algo_*.json
// files and filtering to AlgoWorking.
func (r *FileRepository) ListActive(ctx context.Context) ([]core.AlgoSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read repository dir: %w", err)
	}

	var out []core.AlgoSnapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "algo_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		algoID := strings.TrimSuffix(strings.TrimPrefix(name, "algo_"), ".json")

		snap, err := r.readLocked(algoID)
		if err != nil {
			return nil, err
		}
		if snap.Status == core.AlgoWorking {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Delete implements Repository.
func (r *FileRepository) Delete(ctx context.Context, algoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, "algo_"+algoID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
