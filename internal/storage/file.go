package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "rewardbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout under Path (a directory):
//   - runs.jsonl            (append-only JSON Lines run log)
//   - snapshots/<name>.json (one file per backup snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsFile *os.File
	snapDir  string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	snapDir := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, err
	}

	rf, err := os.OpenFile(filepath.Join(dir, "runs.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		runsFile: rf,
		snapDir:  snapDir,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run log closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

func (s *fileStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	_ = ctx
	ents, err := os.ReadDir(s.snapDir)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotInfo, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{
			Name:    e.Name(),
			Size:    fi.Size(),
			SavedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) ReadSnapshot(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	p, err := s.snapPath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (s *fileStore) WriteSnapshot(ctx context.Context, name string, data []byte) error {
	_ = ctx
	p, err := s.snapPath(name)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *fileStore) DeleteSnapshot(ctx context.Context, name string) error {
	_ = ctx
	p, err := s.snapPath(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// snapPath rejects names that would escape the snapshot directory.
func (s *fileStore) snapPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.New("invalid snapshot name")
	}
	return filepath.Join(s.snapDir, name), nil
}
