package backup

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/storage"
	logx "rewardbot/pkg/logx"
)

func newTestService(t *testing.T, accounts ...account.Account) (*Service, storage.Store) {
	t.Helper()
	st := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"), nil, logx.Nop())
	for _, a := range accounts {
		if err := st.Add(a); err != nil {
			t.Fatalf("Add(%s): %v", a.ID, err)
		}
	}
	snaps, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = snaps.Close() })

	cfgJSON := func() ([]byte, error) { return []byte(`{"scheduler":{"enabled":true}}`), nil }
	return New(st, snaps, "1.2.3", cfgJSON, logx.Nop()), snaps
}

func TestRenderAndDecode(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t,
		account.Account{ID: "a1", Name: "Alice", RefreshToken: "M.secret", TotalPoints: 500},
		account.Account{ID: "a2", Name: "Bob"},
	)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC) }

	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	snap, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(snap.Accounts) != 2 {
		t.Fatalf("accounts = %d", len(snap.Accounts))
	}
	if snap.Version != "1.2.3" {
		t.Fatalf("version = %q", snap.Version)
	}
	if !snap.ExportDate.Equal(time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("exportDate = %v", snap.ExportDate)
	}
	// Tokens ride along: the snapshot is a full portable backup.
	if snap.Accounts[0].RefreshToken != "M.secret" {
		t.Fatal("refresh token dropped from snapshot")
	}

	var embedded struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &embedded); err != nil || len(embedded.Config) == 0 {
		t.Fatalf("embedded config missing: %v", err)
	}
}

func TestExportWritesAndPrunes(t *testing.T) {
	t.Parallel()
	s, snaps := newTestService(t, account.Account{ID: "a1"})
	s.Apply(Config{Enabled: true, Keep: 2})

	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	var names []string
	for i := 0; i < 4; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return tick }
		name, err := s.Export(ctx)
		if err != nil {
			t.Fatalf("Export #%d: %v", i, err)
		}
		if !strings.HasPrefix(name, "rewardbot-") || !strings.HasSuffix(name, ".json") {
			t.Fatalf("snapshot name = %q", name)
		}
		names = append(names, name)
	}

	infos, err := snaps.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("kept %d snapshots, want 2", len(infos))
	}
	// The two newest survive.
	if infos[0].Name != names[2] || infos[1].Name != names[3] {
		t.Fatalf("kept %v, want [%s %s]", infos, names[2], names[3])
	}
}

func TestPruneIgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	s, snaps := newTestService(t, account.Account{ID: "a1"})
	s.Apply(Config{Enabled: true, Keep: 1})
	ctx := context.Background()

	if err := snaps.WriteSnapshot(ctx, "manual-export.json", []byte("{}")); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	for i := 0; i < 3; i++ {
		tick := time.Date(2025, 3, 10, 0, i, 0, 0, time.UTC)
		s.now = func() time.Time { return tick }
		if _, err := s.Export(ctx); err != nil {
			t.Fatalf("Export: %v", err)
		}
	}

	infos, err := snaps.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	var foreign bool
	for _, info := range infos {
		if info.Name == "manual-export.json" {
			foreign = true
		}
	}
	if !foreign {
		t.Fatal("prune deleted a foreign file")
	}
	if len(infos) != 2 { // 1 kept export + the foreign file
		t.Fatalf("infos = %+v", infos)
	}
}

func TestExportWithoutStore(t *testing.T) {
	t.Parallel()
	st := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"), nil, logx.Nop())
	s := New(st, nil, "dev", nil, logx.Nop())
	if _, err := s.Export(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
