// Package cloudsync replicates account snapshots through a remote
// collaborator so several instances can share one account collection.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"rewardbot/internal/account"
	"rewardbot/internal/backup"
	logx "rewardbot/pkg/logx"
)

var ErrDisabled = errors.New("cloud sync disabled")

// Collaborator is the remote file surface. Implementations decide the wire
// (object store, WebDAV, a paired peer); the service only needs put/get.
// GetFile reports a missing remote file with an error matching fs.ErrNotExist.
type Collaborator interface {
	PutFile(ctx context.Context, path string, data []byte) error
	GetFile(ctx context.Context, path string) ([]byte, error)
}

type Config struct {
	Enabled bool
	// Folder namespaces this instance's files on the remote side.
	Folder string
	// File is the remote snapshot filename; defaults to accounts.json.
	File string
}

func (c Config) withDefaults() Config {
	c.Folder = strings.Trim(strings.TrimSpace(c.Folder), "/")
	if strings.TrimSpace(c.File) == "" {
		c.File = "accounts.json"
	}
	return c
}

// MergeResult summarizes what a pull changed.
type MergeResult struct {
	Added   int
	Updated int
	Kept    int
}

// Service uploads the local snapshot and merges remote ones.
type Service struct {
	log    logx.Logger
	col    Collaborator
	store  *account.Store
	backup *backup.Service

	mu  sync.Mutex
	cfg Config
}

func New(col Collaborator, store *account.Store, bk *backup.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "cloudsync")),
		col:    col,
		store:  store,
		backup: bk,
		cfg:    Config{}.withDefaults(),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) remotePath() (string, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled || s.col == nil {
		return "", ErrDisabled
	}
	return path.Join(cfg.Folder, cfg.File), nil
}

// Upload renders the current snapshot and puts it on the remote side.
func (s *Service) Upload(ctx context.Context) error {
	p, err := s.remotePath()
	if err != nil {
		return err
	}
	data, err := s.backup.Render()
	if err != nil {
		return err
	}
	if err := s.col.PutFile(ctx, p, data); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	s.log.Info("snapshot uploaded", logx.String("path", p), logx.Int("bytes", len(data)))
	return nil
}

// Sync is the scheduled round trip: merge the remote snapshot into the local
// store, then upload the merged state. A remote side that has no snapshot yet
// (first sync) is fine; any other pull failure aborts before the upload so a
// broken remote read can't be papered over by a fresh write.
func (s *Service) Sync(ctx context.Context) (MergeResult, error) {
	res, err := s.Pull(ctx)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return res, err
	}
	return res, s.Upload(ctx)
}

// Pull fetches the remote snapshot and merges it into the local store.
func (s *Service) Pull(ctx context.Context) (MergeResult, error) {
	p, err := s.remotePath()
	if err != nil {
		return MergeResult{}, err
	}
	data, err := s.col.GetFile(ctx, p)
	if err != nil {
		return MergeResult{}, fmt.Errorf("get %s: %w", p, err)
	}
	snap, err := backup.Decode(data)
	if err != nil {
		return MergeResult{}, err
	}
	res := s.merge(snap)
	s.log.Info("snapshot merged",
		logx.Int("added", res.Added),
		logx.Int("updated", res.Updated),
		logx.Int("kept", res.Kept))
	return res, nil
}

// merge folds a remote snapshot into the local store. Unknown accounts are
// added. For accounts present on both sides the remote copy wins only when
// the snapshot's export date is newer than the local account's last run;
// accounts currently running are never touched.
func (s *Service) merge(snap backup.Snapshot) MergeResult {
	var res MergeResult
	for i := range snap.Accounts {
		remote := snap.Accounts[i]
		local, ok := s.store.Get(remote.ID)
		if !ok {
			remote.Status = account.StatusIdle
			if err := s.store.Add(remote); err == nil {
				res.Added++
			}
			continue
		}
		if local.Status == account.StatusRunning || !snap.ExportDate.After(local.LastRunTime) {
			res.Kept++
			continue
		}
		s.store.Update(remote.ID, func(a *account.Account) {
			st := a.Status
			*a = remote.Clone()
			a.Status = st
		})
		res.Updated++
	}
	return res
}
