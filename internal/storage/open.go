package storage

import (
	"context"
	"errors"
	"strings"

	logx "rewardbot/pkg/logx"
)

// Store is the minimal persistence API used by backup and the runner.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error

	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	ReadSnapshot(ctx context.Context, name string) ([]byte, error)
	WriteSnapshot(ctx context.Context, name string, data []byte) error
	DeleteSnapshot(ctx context.Context, name string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
