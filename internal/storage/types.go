package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot files + jsonl run log)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord records one finished account run.
// Keep it compact and schema-stable.
type RunRecord struct {
	At          time.Time
	AccountID   string
	AccountName string
	Mode        string
	Source      string
	Status      string
	Earned      int
	TotalPoints int
	ReadDone    int
	ReadTotal   int
	TookMS      int64
	Error       string
}

// SnapshotInfo describes one stored backup snapshot.
type SnapshotInfo struct {
	Name    string
	Size    int64
	SavedAt time.Time
}
