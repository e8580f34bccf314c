// Package backup exports portable snapshots of the account collection.
//
// A snapshot is a single JSON document carrying every account, the active
// configuration, and an export timestamp; the same document format is what
// cloud sync exchanges between instances.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/storage"
	logx "rewardbot/pkg/logx"
)

var ErrNoStore = errors.New("backup: no storage backend configured")

const (
	defaultKeep = 10
	namePrefix  = "rewardbot-"
	nameStamp   = "20060102-150405"
)

type Config struct {
	Enabled bool
	// Keep bounds retained snapshots; older ones are pruned after each export.
	Keep int
}

func (c Config) withDefaults() Config {
	if c.Keep <= 0 {
		c.Keep = defaultKeep
	}
	return c
}

// Snapshot is the exported document.
type Snapshot struct {
	Accounts   []account.Account `json:"accounts"`
	Config     json.RawMessage   `json:"config,omitempty"`
	ExportDate time.Time         `json:"exportDate"`
	Version    string            `json:"version"`
}

// Service renders and stores snapshots.
type Service struct {
	log     logx.Logger
	store   *account.Store
	snaps   storage.Store
	version string
	// cfgJSON renders the active configuration for embedding; nil is fine.
	cfgJSON func() ([]byte, error)
	now     func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(store *account.Store, snaps storage.Store, version string, cfgJSON func() ([]byte, error), log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log.With(logx.String("comp", "backup")),
		store:   store,
		snaps:   snaps,
		version: version,
		cfgJSON: cfgJSON,
		now:     time.Now,
		cfg:     Config{}.withDefaults(),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Render produces the snapshot document for the current state.
func (s *Service) Render() ([]byte, error) {
	snap := Snapshot{
		Accounts:   s.store.List(),
		ExportDate: s.now().UTC(),
		Version:    s.version,
	}
	if s.cfgJSON != nil {
		raw, err := s.cfgJSON()
		if err != nil {
			return nil, fmt.Errorf("render config: %w", err)
		}
		snap.Config = raw
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Export writes a timestamped snapshot and prunes old ones.
// Returns the stored snapshot name.
func (s *Service) Export(ctx context.Context) (string, error) {
	if s.snaps == nil {
		return "", ErrNoStore
	}
	data, err := s.Render()
	if err != nil {
		return "", err
	}
	name := namePrefix + s.now().UTC().Format(nameStamp) + ".json"
	if err := s.snaps.WriteSnapshot(ctx, name, data); err != nil {
		return "", err
	}

	s.mu.Lock()
	keep := s.cfg.Keep
	s.mu.Unlock()
	if err := s.prune(ctx, keep); err != nil {
		s.log.Warn("snapshot prune failed", logx.Any("err", err))
	}

	s.log.Info("snapshot exported", logx.String("name", name), logx.Int("bytes", len(data)))
	return name, nil
}

// prune deletes the oldest exported snapshots past keep. Snapshots not
// matching the export name pattern are left alone.
func (s *Service) prune(ctx context.Context, keep int) error {
	infos, err := s.snaps.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	var names []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name, namePrefix) {
			names = append(names, info.Name)
		}
	}
	if len(names) <= keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	var firstErr error
	for _, name := range names[:len(names)-keep] {
		if err := s.snaps.DeleteSnapshot(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Decode parses a snapshot document.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
