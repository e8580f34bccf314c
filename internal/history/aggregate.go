// Package history turns raw point observations into per-day groups for
// charts and trend reports.
package history

import (
	"sort"
	"time"

	"rewardbot/internal/account"
)

// maxSynthesizedDays guards against runaway gap-filling when history spans
// are corrupt (e.g. a bad clock produced an entry years away).
const maxSynthesizedDays = 2000

// DayGroup is one calendar day of history.
type DayGroup struct {
	// Date is midnight (local) of the day.
	Date time.Time
	// Points is the day's final point value. For gap days it carries the
	// last known value forward.
	Points int
	// Delta is signed change versus the prior known day.
	Delta int
	// Gap marks a synthesized day with no raw entries.
	Gap bool
	// Entries are the raw observations recorded that day, oldest first.
	Entries []account.PointHistoryItem
}

// AggregateByDay groups history into contiguous calendar days, most recent
// first. Calendar days between the first and last recorded day with no
// entries are synthesized as zero-delta gap groups so the time axis renders
// continuously.
func AggregateByDay(items []account.PointHistoryItem) []DayGroup {
	if len(items) == 0 {
		return nil
	}

	sorted := append([]account.PointHistoryItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	// Group ascending by day.
	var days []DayGroup
	for _, it := range sorted {
		day := midnight(it.Date)
		if n := len(days); n > 0 && days[n-1].Date.Equal(day) {
			days[n-1].Entries = append(days[n-1].Entries, it)
			days[n-1].Points = it.Points
			continue
		}
		days = append(days, DayGroup{Date: day, Points: it.Points, Entries: []account.PointHistoryItem{it}})
	}

	// Fill calendar gaps and compute deltas against the prior known day.
	out := make([]DayGroup, 0, len(days))
	synthesized := 0
	for i, d := range days {
		if i > 0 {
			prev := out[len(out)-1]
			for cur := prev.Date.AddDate(0, 0, 1); cur.Before(d.Date) && synthesized < maxSynthesizedDays; cur = cur.AddDate(0, 0, 1) {
				out = append(out, DayGroup{Date: cur, Points: prev.Points, Gap: true})
				synthesized++
			}
			d.Delta = d.Points - prev.Points
		}
		out = append(out, d)
	}

	// Most recent first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// DeltaToday returns the change versus the prior known day for the most
// recent group, or 0 when there is no history.
func DeltaToday(items []account.PointHistoryItem) int {
	groups := AggregateByDay(items)
	if len(groups) == 0 {
		return 0
	}
	return groups[0].Delta
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
