package account

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rewardbot/internal/syslog"
	logx "rewardbot/pkg/logx"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrAlreadyRunning = errors.New("account already running")
	ErrExists         = errors.New("account id already exists")
)

// Store owns the account collection.
//
// All mutation goes through Update/TryBeginRun/FinishRun so the `running`
// status acts as the mutual-exclusion gate: a second start request for the
// same id is rejected, never queued. Reads hand out deep copies.
type Store struct {
	log logx.Logger
	sys *syslog.Log

	mu   sync.Mutex
	byID map[string]*Account
	// runSeq increments on every accepted run start; idle-reset timers use it
	// to detect that a newer run superseded them. Not persisted.
	runSeq map[string]uint64

	path  string
	dirty bool
}

func NewStore(path string, sys *syslog.Log, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		log:    log,
		sys:    sys,
		byID:   map[string]*Account{},
		runSeq: map[string]uint64{},
		path:   strings.TrimSpace(path),
	}
}

// Load reads the persisted account collection. A missing file is not an
// error (fresh install).
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var list []Account
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Account, len(list))
	for i := range list {
		a := list[i]
		// A crash mid-run must not leave an account stuck in running.
		if a.Status == StatusRunning || a.Status == StatusWaiting {
			a.Status = StatusIdle
		}
		s.byID[a.ID] = &a
	}
	s.log.Info("accounts loaded", logx.Int("count", len(list)), logx.String("path", s.path))
	return nil
}

// Save persists the collection atomically (tmp + rename).
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	list := s.listLocked()
	s.dirty = false
	s.mu.Unlock()

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Dirty reports whether there were updates since the last Save.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) Add(a Account) error {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return errors.New("account id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; ok {
		return ErrExists
	}
	if a.Status == "" {
		a.Status = StatusIdle
	}
	cp := a.Clone()
	s.byID[a.ID] = &cp
	s.dirty = true
	return nil
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.runSeq, id)
	s.dirty = true
	return true
}

func (s *Store) Get(id string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, false
	}
	return a.Clone(), true
}

// List returns deep copies sorted by id for stable iteration order.
func (s *Store) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() []Account {
	out := make([]Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies fn to the account under the store lock and returns the
// resulting snapshot. fn must not block.
func (s *Store) Update(id string, fn func(a *Account)) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, false
	}
	fn(a)
	s.dirty = true
	return a.Clone(), true
}

// TryBeginRun transitions the account to running and returns a run sequence
// number. It fails with ErrAlreadyRunning if a run is in flight; concurrent
// triggers are rejected, not queued.
func (s *Store) TryBeginRun(id string, now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if a.Status == StatusRunning {
		return 0, ErrAlreadyRunning
	}
	a.Status = StatusRunning
	a.LastRunTime = now
	s.runSeq[id]++
	s.dirty = true
	return s.runSeq[id], nil
}

// RunSeq returns the current run sequence for id (0 when never run).
func (s *Store) RunSeq(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runSeq[id]
}

// ResetToIdle moves success/error back to idle, but only when no newer run
// superseded seq and the status is still resettable. risk stays sticky.
func (s *Store) ResetToIdle(id string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return false
	}
	if s.runSeq[id] != seq {
		return false
	}
	if a.Status != StatusSuccess && a.Status != StatusError {
		return false
	}
	a.Status = StatusIdle
	s.dirty = true
	return true
}

// AppendLog appends to the account's own log ring and mirrors the line into
// the process-wide system log tagged by source.
func (s *Store) AppendLog(id, source, level, msg string) {
	s.mu.Lock()
	if a, ok := s.byID[id]; ok {
		a.AppendLog(level, msg)
		s.dirty = true
	}
	s.mu.Unlock()

	if s.sys != nil {
		s.sys.Append(syslog.Entry{Source: source, Level: level, Account: id, Message: msg})
	}
}
