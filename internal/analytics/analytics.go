// Package analytics holds the pure day-over-day growth computations.
// Nothing here touches storage or the network, so every rule (cold start,
// anomaly boundary, ranking) is directly testable.
package analytics

import (
	"fmt"
	"sort"
)

// AnomalyThresholdPercent is the day-over-day drop that flags a group.
// A change strictly below -10% is anomalous; exactly -10.0% is not.
const AnomalyThresholdPercent = 10.0

// FirstDayNote marks a group with no prior measurement. No growth is
// inferred from nothing.
const FirstDayNote = "first day of tracking"

// DailyStats is the persisted-shape result of a day-over-day computation.
type DailyStats struct {
	TotalMembers int
	Joined       int
	Left         int
	NetGrowth    int
	Notes        string
}

// GroupAnalytics extends DailyStats with the report-only fields.
type GroupAnalytics struct {
	GroupJID        string
	GroupName       string
	CurrentMembers  int
	PreviousMembers int
	Joined          int
	Left            int
	NetGrowth       int
	PercentChange   float64
	Anomaly         bool
	Notes           string
}

// ComputeDailyStats derives joined/left/net from a pair of member counts.
// A nil previous means cold start: zero deltas and a first-day note.
func ComputeDailyStats(current int, previous *int) DailyStats {
	if previous == nil {
		return DailyStats{
			TotalMembers: current,
			Notes:        FirstDayNote,
		}
	}
	net := current - *previous
	joined := max(net, 0)
	left := max(-net, 0)
	return DailyStats{
		TotalMembers: current,
		Joined:       joined,
		Left:         left,
		NetGrowth:    net,
	}
}

// ComputeGroupAnalytics produces the extended per-group report record.
func ComputeGroupAnalytics(groupJID, groupName string, current int, previous *int) GroupAnalytics {
	stats := ComputeDailyStats(current, previous)
	g := GroupAnalytics{
		GroupJID:       groupJID,
		GroupName:      groupName,
		CurrentMembers: current,
		Joined:         stats.Joined,
		Left:           stats.Left,
		NetGrowth:      stats.NetGrowth,
		Notes:          stats.Notes,
	}
	if previous == nil {
		return g
	}
	g.PreviousMembers = *previous
	g.PercentChange = percentChange(current, *previous)
	if g.PercentChange < -AnomalyThresholdPercent {
		g.Anomaly = true
		g.Notes = fmt.Sprintf("anomaly: lost %.1f%% of members in one day", -g.PercentChange)
	}
	return g
}

// percentChange follows the convention that growth from zero is +100%
// and zero-to-zero is 0%.
func percentChange(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(current-previous) / float64(previous) * 100.0
}

// ReportSummary aggregates many groups into one report.
type ReportSummary struct {
	TotalGroups  int
	TotalMembers int
	TotalJoined  int
	TotalLeft    int
	NetGrowth    int
	Anomalies    []GroupAnalytics
	Groups       []GroupAnalytics
}

// GenerateReportSummary totals the per-group fields. Correct for the empty
// list: all totals zero, no anomalies.
func GenerateReportSummary(groups []GroupAnalytics) ReportSummary {
	s := ReportSummary{
		TotalGroups: len(groups),
		Groups:      groups,
	}
	for _, g := range groups {
		s.TotalMembers += g.CurrentMembers
		s.TotalJoined += g.Joined
		s.TotalLeft += g.Left
		if g.Anomaly {
			s.Anomalies = append(s.Anomalies, g)
		}
	}
	s.NetGrowth = s.TotalJoined - s.TotalLeft
	return s
}

// TopGainers ranks groups by members joined, descending.
func TopGainers(groups []GroupAnalytics, n int) []GroupAnalytics {
	return topBy(groups, n, func(g GroupAnalytics) int { return g.Joined })
}

// TopLosers ranks groups by members left, descending. Ranked independently
// of TopGainers and not by net growth.
func TopLosers(groups []GroupAnalytics, n int) []GroupAnalytics {
	return topBy(groups, n, func(g GroupAnalytics) int { return g.Left })
}

func topBy(groups []GroupAnalytics, n int, key func(GroupAnalytics) int) []GroupAnalytics {
	ranked := make([]GroupAnalytics, len(groups))
	copy(ranked, groups)
	sort.SliceStable(ranked, func(i, j int) bool {
		return key(ranked[i]) > key(ranked[j])
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// HasSignificantAnomalies reports whether the summary warrants an alert:
// more than 20% of groups anomalous, or more than 5% of total membership
// lost. Callers must guard the empty summary; the ratios assume non-zero
// group and member totals whenever anomalies exist.
func HasSignificantAnomalies(s ReportSummary) bool {
	if s.TotalGroups == 0 || s.TotalMembers == 0 {
		return false
	}
	anomalyRatio := float64(len(s.Anomalies)) / float64(s.TotalGroups)
	lossRatio := float64(s.TotalLeft) / float64(s.TotalMembers)
	return anomalyRatio > 0.2 || lossRatio > 0.05
}

// Activity levels classify a member's weekly message volume.
const (
	LevelHigh     = "high"
	LevelModerate = "moderate"
	LevelLow      = "low"
	LevelInactive = "inactive"
)

// ActivityLevel classifies a weekly message count.
func ActivityLevel(weeklyCount int64) string {
	switch {
	case weeklyCount >= 50:
		return LevelHigh
	case weeklyCount >= 20:
		return LevelModerate
	case weeklyCount >= 5:
		return LevelLow
	default:
		return LevelInactive
	}
}
