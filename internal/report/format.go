package report

import (
	"fmt"
	"strings"

	"github.com/matheus3301/grouptrack/internal/analytics"
)

const rankingSize = 5

// Format renders the summary as the WhatsApp report message.
func Format(date string, s analytics.ReportSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily Group Report — %s*\n\n", date)
	fmt.Fprintf(&b, "Groups tracked: %d\n", s.TotalGroups)
	fmt.Fprintf(&b, "Total members: %d\n", s.TotalMembers)
	fmt.Fprintf(&b, "Joined: +%d | Left: -%d | Net: %+d\n", s.TotalJoined, s.TotalLeft, s.NetGrowth)

	if gainers := nonZero(analytics.TopGainers(s.Groups, rankingSize), func(g analytics.GroupAnalytics) int { return g.Joined }); len(gainers) > 0 {
		b.WriteString("\n*Top gainers*\n")
		for _, g := range gainers {
			fmt.Fprintf(&b, "  %s: +%d (%d members)\n", g.GroupName, g.Joined, g.CurrentMembers)
		}
	}
	if losers := nonZero(analytics.TopLosers(s.Groups, rankingSize), func(g analytics.GroupAnalytics) int { return g.Left }); len(losers) > 0 {
		b.WriteString("\n*Top losers*\n")
		for _, g := range losers {
			fmt.Fprintf(&b, "  %s: -%d (%d members)\n", g.GroupName, g.Left, g.CurrentMembers)
		}
	}

	if len(s.Anomalies) > 0 {
		b.WriteString("\n⚠️ *Anomalies*\n")
		for _, g := range s.Anomalies {
			fmt.Fprintf(&b, "  %s: %.1f%% (%d → %d)\n", g.GroupName, g.PercentChange, g.PreviousMembers, g.CurrentMembers)
		}
		if analytics.HasSignificantAnomalies(s) {
			b.WriteString("\nSignificant member loss detected. Review the groups above.\n")
		}
	}
	return b.String()
}

// nonZero drops ranking entries whose key is zero; a group that gained
// nobody is not a "top gainer".
func nonZero(groups []analytics.GroupAnalytics, key func(analytics.GroupAnalytics) int) []analytics.GroupAnalytics {
	out := groups[:0:0]
	for _, g := range groups {
		if key(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
