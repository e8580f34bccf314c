package history

import (
	"testing"
	"time"

	"rewardbot/internal/account"
)

func day(d int, points int) account.PointHistoryItem {
	return account.PointHistoryItem{
		Date:   time.Date(2025, 3, d, 14, 30, 0, 0, time.UTC),
		Points: points,
	}
}

func TestAggregateByDayEmpty(t *testing.T) {
	t.Parallel()
	if got := AggregateByDay(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestAggregateByDayGroupsAndDeltas(t *testing.T) {
	t.Parallel()
	items := []account.PointHistoryItem{
		day(1, 100),
		{Date: time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC), Points: 120},
		day(2, 150),
	}
	groups := AggregateByDay(items)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	// Most recent first.
	if groups[0].Date.Day() != 2 || groups[1].Date.Day() != 1 {
		t.Fatalf("unexpected order: %v, %v", groups[0].Date, groups[1].Date)
	}
	if groups[0].Delta != 30 {
		t.Fatalf("Delta = %d, want 30 (150-120)", groups[0].Delta)
	}
	// The earlier day keeps its final value of the day.
	if groups[1].Points != 120 {
		t.Fatalf("day-1 Points = %d, want 120", groups[1].Points)
	}
	if len(groups[1].Entries) != 2 {
		t.Fatalf("day-1 entries = %d, want 2", len(groups[1].Entries))
	}
}

func TestAggregateByDayFillsGaps(t *testing.T) {
	t.Parallel()
	items := []account.PointHistoryItem{day(1, 100), day(5, 200)}
	groups := AggregateByDay(items)
	if len(groups) != 5 {
		t.Fatalf("expected 5 contiguous days, got %d", len(groups))
	}
	// Contiguous descending calendar days.
	for i := 1; i < len(groups); i++ {
		want := groups[i-1].Date.AddDate(0, 0, -1)
		if !groups[i].Date.Equal(want) {
			t.Fatalf("gap in axis at %d: %v, want %v", i, groups[i].Date, want)
		}
	}
	// Synthesized days carry the last value forward with zero delta.
	for _, g := range groups[1:4] {
		if !g.Gap {
			t.Fatalf("expected gap day at %v", g.Date)
		}
		if g.Points != 100 || g.Delta != 0 {
			t.Fatalf("gap day %v: Points=%d Delta=%d", g.Date, g.Points, g.Delta)
		}
	}
	if groups[0].Delta != 100 {
		t.Fatalf("newest Delta = %d, want 100", groups[0].Delta)
	}
}

func TestAggregateByDaySynthesisCap(t *testing.T) {
	t.Parallel()
	// A corrupt entry years away must not synthesize unbounded days.
	items := []account.PointHistoryItem{
		{Date: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), Points: 10},
		{Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Points: 20},
	}
	groups := AggregateByDay(items)
	if len(groups) > maxSynthesizedDays+2 {
		t.Fatalf("synthesis unbounded: %d groups", len(groups))
	}
}

func TestDeltaToday(t *testing.T) {
	t.Parallel()
	if got := DeltaToday(nil); got != 0 {
		t.Fatalf("DeltaToday(nil) = %d, want 0", got)
	}
	items := []account.PointHistoryItem{day(1, 100), day(2, 175)}
	if got := DeltaToday(items); got != 75 {
		t.Fatalf("DeltaToday = %d, want 75", got)
	}
}
