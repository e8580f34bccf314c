//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "rewardbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_audit(at, account_id, account_name, mode, source, status, earned, total_points, read_done, read_total, took_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.AccountID, nullStr(r.AccountName), r.Mode, r.Source,
		r.Status, r.Earned, r.TotalPoints, r.ReadDone, r.ReadTotal, r.TookMS, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, length(data), saved_at FROM snapshot ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var savedAt string
		if err := rows.Scan(&info.Name, &info.Size, &savedAt); err != nil {
			return nil, err
		}
		info.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ReadSnapshot(ctx context.Context, name string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshot WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *sqliteStore) WriteSnapshot(ctx context.Context, name string, data []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("invalid snapshot name")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot(name, data, saved_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at`,
		name, data, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSnapshot(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshot WHERE name = ?`, name)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
