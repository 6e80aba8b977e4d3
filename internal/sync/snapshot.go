package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"citasync/internal/core"
)

// SnapshotPayload is the full audit copy of one sync: never read back by
// the query layer, only written for history.
type SnapshotPayload struct {
	SyncedAt    time.Time                      `json:"syncedAt"`
	Window      core.SyncWindow                `json:"window"`
	PerCalendar map[string]CalendarFetchStatus `json:"perCalendar"`
	Events      []core.EventRecord             `json:"events"`
	Excluded    []core.EventKey                `json:"excluded"`
}

// SnapshotWriter persists sync payloads under <root>/snapshots as a
// timestamp-named artifact plus an overwritten "latest" artifact.
type SnapshotWriter struct {
	root string
}

func NewSnapshotWriter(root string) *SnapshotWriter {
	return &SnapshotWriter{root: root}
}

// Persist writes both artifacts. Any I/O error propagates: the written
// history is part of the sync's durability guarantee.
func (w *SnapshotWriter) Persist(payload SnapshotPayload) (snapshotPath, latestPath string, err error) {
	dir := filepath.Join(w.root, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotPath = filepath.Join(dir, fmt.Sprintf("sync_%s.json", payload.SyncedAt.UTC().Format("20060102T150405")))
	if err := os.WriteFile(snapshotPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("write snapshot %s: %w", snapshotPath, err)
	}

	latestPath = filepath.Join(dir, "latest.json")
	if err := os.WriteFile(latestPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("write latest snapshot: %w", err)
	}

	return snapshotPath, latestPath, nil
}
