package notify

import (
	"fmt"
	"strings"

	"rewardbot/internal/account"
	"rewardbot/internal/history"
	"rewardbot/internal/runner"
)

func statusGlyph(st account.Status) string {
	switch st {
	case account.StatusSuccess:
		return "✅"
	case account.StatusRisk:
		return "🚫"
	case account.StatusError:
		return "❌"
	case account.StatusRunning:
		return "⏳"
	default:
		return "▫️"
	}
}

// renderRun renders a single-account report block.
func (s *Service) renderRun(res runner.Result) string {
	var b strings.Builder
	b.WriteString("*Run report*\n")
	s.writeAccountLine(&b, res)
	return b.String()
}

// renderBatch renders one merged report for a target's subscribed accounts.
func (s *Service) renderBatch(results []runner.Result, skipped int, stopped bool) string {
	var b strings.Builder
	b.WriteString("*Batch report*\n")
	total := 0
	for _, res := range results {
		s.writeAccountLine(&b, res)
		total += res.Earned
	}
	fmt.Fprintf(&b, "\nTotal earned: *%+d*", total)
	if skipped > 0 {
		fmt.Fprintf(&b, " · skipped %d", skipped)
	}
	if stopped {
		b.WriteString(" · stopped early")
	}
	return b.String()
}

// writeAccountLine appends "glyph name: +earned (delta vs prior day, tasks)".
func (s *Service) writeAccountLine(b *strings.Builder, res runner.Result) {
	name := res.AccountName
	if name == "" {
		name = res.AccountID
	}
	fmt.Fprintf(b, "%s *%s*: %+d pts", statusGlyph(res.Status), name, res.Earned)

	if acc, ok := s.store.Get(res.AccountID); ok {
		if delta := history.DeltaToday(acc.PointHistory); delta != 0 {
			fmt.Fprintf(b, " (%+d today)", delta)
		}
	}
	if res.Stats.ReadMax > 0 {
		fmt.Fprintf(b, " · read %d/%d", res.Stats.ReadProgress, res.Stats.ReadMax)
	}
	if res.Sign != nil {
		fmt.Fprintf(b, " · sign %s", signSummary(*res.Sign))
	}
	if res.Status != account.StatusSuccess && res.Message != "" {
		fmt.Fprintf(b, "\n  `%s`", res.Message)
	}
	b.WriteString("\n")
}

func signSummary(o runner.SignOutcome) string {
	parts := make([]string, 0, 3)
	for _, c := range []runner.CallOutcome{o.Heartbeat, o.MobileBonus, o.CheckIn} {
		parts = append(parts, statusGlyph(c.Status))
	}
	return strings.Join(parts, "")
}
