package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/backup"
	logx "rewardbot/pkg/logx"
)

type fakeCollaborator struct {
	files map[string][]byte
	puts  int
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{files: map[string][]byte{}}
}

func (f *fakeCollaborator) PutFile(_ context.Context, path string, data []byte) error {
	f.puts++
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeCollaborator) GetFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return data, nil
}

func newTestSync(t *testing.T, col Collaborator, accounts ...account.Account) (*Service, *account.Store) {
	t.Helper()
	st := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"), nil, logx.Nop())
	for _, a := range accounts {
		if err := st.Add(a); err != nil {
			t.Fatalf("Add(%s): %v", a.ID, err)
		}
	}
	bk := backup.New(st, nil, "dev", nil, logx.Nop())
	s := New(col, st, bk, logx.Nop())
	s.Apply(Config{Enabled: true, Folder: "bots/main"})
	return s, st
}

func remoteSnapshot(t *testing.T, exportDate time.Time, accounts ...account.Account) []byte {
	t.Helper()
	data, err := json.Marshal(backup.Snapshot{
		Accounts:   accounts,
		ExportDate: exportDate,
		Version:    "remote",
	})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return data
}

func TestUpload(t *testing.T) {
	t.Parallel()
	col := newFakeCollaborator()
	s, _ := newTestSync(t, col, account.Account{ID: "a1", Name: "Alice"})

	if err := s.Upload(context.Background()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, ok := col.files["bots/main/accounts.json"]
	if !ok {
		t.Fatalf("remote path missing, have %v", keys(col.files))
	}
	snap, err := backup.Decode(data)
	if err != nil {
		t.Fatalf("uploaded document invalid: %v", err)
	}
	if len(snap.Accounts) != 1 || snap.Accounts[0].ID != "a1" {
		t.Fatalf("uploaded accounts = %+v", snap.Accounts)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestPullMergeRules(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	col := newFakeCollaborator()
	s, st := newTestSync(t, col,
		// Stale locally: remote export is newer than the last local run.
		account.Account{ID: "stale", Name: "Old Name", Status: account.StatusRisk, LastRunTime: now.Add(-2 * time.Hour), TotalPoints: 100},
		// Fresh locally: ran after the remote export.
		account.Account{ID: "fresh", Name: "Fresh", LastRunTime: now.Add(time.Hour), TotalPoints: 300},
		// Mid-run: never touched regardless of timestamps.
		account.Account{ID: "busy", Name: "Busy", Status: account.StatusRunning, TotalPoints: 50},
	)

	col.files["bots/main/accounts.json"] = remoteSnapshot(t, now,
		account.Account{ID: "stale", Name: "New Name", Status: account.StatusSuccess, TotalPoints: 999},
		account.Account{ID: "fresh", Name: "Remote Fresh", TotalPoints: 1},
		account.Account{ID: "busy", Name: "Remote Busy", TotalPoints: 1},
		account.Account{ID: "incoming", Name: "Incoming", Status: account.StatusRunning},
	)

	res, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Added != 1 || res.Updated != 1 || res.Kept != 2 {
		t.Fatalf("merge = %+v, want added=1 updated=1 kept=2", res)
	}

	stale, _ := st.Get("stale")
	if stale.Name != "New Name" || stale.TotalPoints != 999 {
		t.Fatalf("stale account not updated: %+v", stale)
	}
	// Local status survives the update; remote status flags don't travel.
	if stale.Status != account.StatusRisk {
		t.Fatalf("stale status = %s, want local risk preserved", stale.Status)
	}

	fresh, _ := st.Get("fresh")
	if fresh.Name != "Fresh" || fresh.TotalPoints != 300 {
		t.Fatalf("fresh account clobbered: %+v", fresh)
	}

	busy, _ := st.Get("busy")
	if busy.Name != "Busy" || busy.TotalPoints != 50 {
		t.Fatalf("running account touched: %+v", busy)
	}

	incoming, _ := st.Get("incoming")
	if incoming.ID != "incoming" {
		t.Fatal("unknown remote account not added")
	}
	if incoming.Status != account.StatusIdle {
		t.Fatalf("added account status = %s, want idle", incoming.Status)
	}
}

func TestPullRemoteMissing(t *testing.T) {
	t.Parallel()
	s, _ := newTestSync(t, newFakeCollaborator())
	if _, err := s.Pull(context.Background()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Pull err = %v, want fs.ErrNotExist", err)
	}
}

func TestSyncMergesThenUploads(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	col := newFakeCollaborator()
	s, _ := newTestSync(t, col,
		account.Account{ID: "stale", Name: "Old Name", LastRunTime: now.Add(-2 * time.Hour), TotalPoints: 100},
	)

	col.files["bots/main/accounts.json"] = remoteSnapshot(t, now,
		account.Account{ID: "stale", Name: "New Name", TotalPoints: 999},
		account.Account{ID: "incoming", Name: "Incoming"},
	)

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Added != 1 || res.Updated != 1 {
		t.Fatalf("merge = %+v, want added=1 updated=1", res)
	}
	if col.puts != 1 {
		t.Fatalf("puts = %d, want merged state uploaded once", col.puts)
	}

	// The uploaded document carries the merged state, not the pre-merge one.
	snap, err := backup.Decode(col.files["bots/main/accounts.json"])
	if err != nil {
		t.Fatalf("uploaded document invalid: %v", err)
	}
	byID := map[string]account.Account{}
	for _, a := range snap.Accounts {
		byID[a.ID] = a
	}
	if a := byID["stale"]; a.Name != "New Name" || a.TotalPoints != 999 {
		t.Fatalf("uploaded stale account = %+v, want merged values", a)
	}
	if _, ok := byID["incoming"]; !ok {
		t.Fatal("uploaded document misses the account added by the merge")
	}
}

func TestSyncFirstRunWithoutRemote(t *testing.T) {
	t.Parallel()
	col := newFakeCollaborator()
	s, _ := newTestSync(t, col, account.Account{ID: "a1", Name: "Alice"})

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Added != 0 || res.Updated != 0 {
		t.Fatalf("merge = %+v, want empty result on first sync", res)
	}
	if _, ok := col.files["bots/main/accounts.json"]; !ok {
		t.Fatal("first sync did not seed the remote snapshot")
	}
}

func TestSyncAbortsOnPullError(t *testing.T) {
	t.Parallel()
	col := newFakeCollaborator()
	col.files["bots/main/accounts.json"] = []byte("{not json")
	s, _ := newTestSync(t, col, account.Account{ID: "a1", Name: "Alice"})

	if _, err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error for corrupt remote snapshot")
	}
	if col.puts != 0 {
		t.Fatal("broken pull must not be followed by an upload")
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	col := newFakeCollaborator()
	s, _ := newTestSync(t, col)
	s.Apply(Config{Enabled: false})

	if err := s.Upload(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Upload err = %v, want ErrDisabled", err)
	}
	if _, err := s.Pull(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Pull err = %v, want ErrDisabled", err)
	}
	if col.puts != 0 {
		t.Fatal("disabled sync still uploaded")
	}
}

func TestRemotePathDefaults(t *testing.T) {
	t.Parallel()
	col := newFakeCollaborator()
	s, _ := newTestSync(t, col)
	s.Apply(Config{Enabled: true, Folder: "/trimmed/ "})

	if err := s.Upload(context.Background()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, ok := col.files["trimmed/accounts.json"]; !ok {
		t.Fatalf("remote path = %v, want trimmed/accounts.json", keys(col.files))
	}
}
