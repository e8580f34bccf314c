package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "rewardbot/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown-driver error")
	}
}

func TestAppendRunWritesJSONLines(t *testing.T) {
	t.Parallel()
	st, dir := openTestStore(t)
	ctx := context.Background()

	recs := []RunRecord{
		{AccountID: "a1", Mode: "all", Source: "scheduler", Status: "success", Earned: 30, TotalPoints: 1030},
		{AccountID: "a2", Mode: "sign_only", Source: "manual", Status: "error", Error: "token: upstream down"},
	}
	for _, r := range recs {
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "runs.jsonl"))
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	defer f.Close()

	var got []RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("run log has %d lines, want 2", len(got))
	}
	if got[0].AccountID != "a1" || got[0].Earned != 30 {
		t.Fatalf("first record = %+v", got[0])
	}
	if got[1].Status != "error" || got[1].Error == "" {
		t.Fatalf("second record = %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Fatal("zero At not defaulted to the write time")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	ctx := context.Background()

	data := []byte(`{"accounts":[]}`)
	if err := st.WriteSnapshot(ctx, "rewardbot-20250310-120500.json", data); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := st.ReadSnapshot(ctx, "rewardbot-20250310-120500.json")
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("read back %q", got)
	}

	infos, err := st.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "rewardbot-20250310-120500.json" {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Size != int64(len(data)) || infos[0].SavedAt.IsZero() {
		t.Fatalf("info = %+v", infos[0])
	}

	if err := st.DeleteSnapshot(ctx, "rewardbot-20250310-120500.json"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if _, err := st.ReadSnapshot(ctx, "rewardbot-20250310-120500.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read after delete: %v", err)
	}
}

func TestListSnapshotsSortedAndFiltered(t *testing.T) {
	t.Parallel()
	st, dir := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"rewardbot-20250312-000000.json", "rewardbot-20250310-000000.json"} {
		if err := st.WriteSnapshot(ctx, name, []byte("{}")); err != nil {
			t.Fatalf("WriteSnapshot(%s): %v", name, err)
		}
	}
	// Stray non-snapshot files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "snapshots", "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	infos, err := st.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Name > infos[1].Name {
		t.Fatal("snapshots not sorted by name")
	}
}

func TestSnapshotNameValidation(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "  ", "../escape.json", "a/b.json", ".hidden.json"} {
		if err := st.WriteSnapshot(ctx, name, []byte("{}")); err == nil {
			t.Fatalf("WriteSnapshot(%q) accepted", name)
		}
		if _, err := st.ReadSnapshot(ctx, name); err == nil {
			t.Fatalf("ReadSnapshot(%q) accepted", name)
		}
	}
}

func TestAppendRunAfterClose(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendRun(context.Background(), RunRecord{AccountID: "a1"}); err == nil {
		t.Fatal("AppendRun after Close succeeded")
	}
	// Idempotent close.
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
