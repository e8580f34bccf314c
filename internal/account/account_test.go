package account

import (
	"testing"
	"time"
)

func TestRecordPointsCoalescesSameDayValue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var a Account
	a.RecordPoints(now, 100)
	a.RecordPoints(now.Add(5*time.Minute), 100)
	if len(a.PointHistory) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(a.PointHistory))
	}
}

func TestRecordPointsOverwritesWithinWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var a Account
	a.RecordPoints(now, 100)
	a.RecordPoints(now.Add(30*time.Second), 110)
	if len(a.PointHistory) != 1 {
		t.Fatalf("expected overwrite in place, got %d entries", len(a.PointHistory))
	}
	if a.PointHistory[0].Points != 110 {
		t.Fatalf("Points = %d, want 110", a.PointHistory[0].Points)
	}
	if !a.PointHistory[0].Date.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("Date not advanced: %v", a.PointHistory[0].Date)
	}
}

func TestRecordPointsAppendsPastWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var a Account
	a.RecordPoints(now, 100)
	a.RecordPoints(now.Add(2*time.Minute), 110)
	if len(a.PointHistory) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(a.PointHistory))
	}
}

func TestRecordPointsCap(t *testing.T) {
	t.Parallel()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var a Account
	for i := 0; i < maxHistoryEntries+25; i++ {
		a.RecordPoints(start.AddDate(0, 0, i), 100+i)
	}
	if len(a.PointHistory) != maxHistoryEntries {
		t.Fatalf("expected %d entries, got %d", maxHistoryEntries, len(a.PointHistory))
	}
	// Oldest dropped, newest kept.
	last := a.PointHistory[len(a.PointHistory)-1]
	if last.Points != 100+maxHistoryEntries+24 {
		t.Fatalf("newest entry lost: %d", last.Points)
	}
}

func TestAppendLogCap(t *testing.T) {
	t.Parallel()
	var a Account
	for i := 0; i < maxLogEntries+10; i++ {
		a.AppendLog("info", "line")
	}
	if len(a.Logs) != maxLogEntries {
		t.Fatalf("expected %d log entries, got %d", maxLogEntries, len(a.Logs))
	}
}

func TestCompletedToday(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	a := Account{LastDailySuccess: time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)}
	if !a.CompletedToday(now) {
		t.Fatal("same calendar day should count as completed")
	}
	if a.CompletedToday(now.AddDate(0, 0, 1)) {
		t.Fatal("next day must not count")
	}
	var fresh Account
	if fresh.CompletedToday(now) {
		t.Fatal("zero LastDailySuccess must not count")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	a := Account{ID: "a"}
	a.RecordPoints(time.Now(), 10)
	cp := a.Clone()
	cp.PointHistory[0].Points = 999
	if a.PointHistory[0].Points == 999 {
		t.Fatal("Clone shares PointHistory backing array")
	}
}
