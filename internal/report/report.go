// Package report implements the daily day-over-day growth report: live
// member counts compared against yesterday's persisted stats, aggregated
// and optionally delivered as a WhatsApp message.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/analytics"
	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/pace"
	"github.com/matheus3301/grouptrack/internal/store"
)

// Messenger is the slice of the session client a report run needs:
// live member counts in, report text out.
type Messenger interface {
	GroupMemberCount(ctx context.Context, jid string) (int, error)
	SendText(ctx context.Context, jid, text string) (string, error)
}

// Result summarizes one report run. Delivery failure does not flip
// Success: the stats are persisted either way and the failure is recorded
// in Errors.
type Result struct {
	RunID           string
	TenantID        string
	Date            string
	Success         bool
	Duration        time.Duration
	GroupsProcessed int
	GroupsSkipped   int
	Errors          []string
	Summary         analytics.ReportSummary
	Sent            bool
}

// Job generates the daily report for one tenant at a time.
type Job struct {
	db            *store.DB
	b             *bus.Bus
	limiter       *pace.Limiter
	retryAttempts uint64
	reportJID     string
	logger        *zap.Logger
}

// New creates a report job. An empty reportJID disables delivery; the
// report is still computed and persisted.
func New(db *store.DB, b *bus.Bus, limiter *pace.Limiter, retryAttempts uint64, reportJID string, logger *zap.Logger) *Job {
	return &Job{
		db:            db,
		b:             b,
		limiter:       limiter,
		retryAttempts: retryAttempts,
		reportJID:     reportJID,
		logger:        logger.Named("report"),
	}
}

// Run computes today's stats for every active group the tenant tracks.
// Groups that already have a stat row for today are skipped, so a rerun
// after a partial failure only touches the groups that are missing.
func (j *Job) Run(ctx context.Context, tenantID string, client Messenger) (*Result, error) {
	start := time.Now()
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	result := &Result{
		RunID:    uuid.NewString(),
		TenantID: tenantID,
		Date:     today,
	}

	groups, err := j.db.ActiveGroups(tenantID)
	if err != nil {
		return nil, fmt.Errorf("load active groups: %w", err)
	}

	var (
		computed []analytics.GroupAnalytics
		stats    []store.DailyStat
	)
	for _, g := range groups {
		existing, err := j.db.GetDailyStat(tenantID, g.GroupJID, today)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			continue
		}
		if existing != nil {
			result.GroupsSkipped++
			continue
		}

		if err := j.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			break
		}

		current, err := j.fetchCount(ctx, client, g.GroupJID)
		result.GroupsProcessed++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			continue
		}

		var previous *int
		if prev, err := j.db.GetDailyStat(tenantID, g.GroupJID, yesterday); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			continue
		} else if prev != nil {
			previous = &prev.TotalMembers
		}

		ga := analytics.ComputeGroupAnalytics(g.GroupJID, g.Name, current, previous)
		computed = append(computed, ga)
		stats = append(stats, store.DailyStat{
			TenantID:     tenantID,
			GroupJID:     g.GroupJID,
			Date:         today,
			TotalMembers: ga.CurrentMembers,
			Joined:       ga.Joined,
			Left:         ga.Left,
			NetGrowth:    ga.NetGrowth,
			Notes:        ga.Notes,
		})
	}

	if err := j.db.UpsertDailyStats(stats); err != nil {
		return nil, fmt.Errorf("persist daily stats: %w", err)
	}

	result.Summary = analytics.GenerateReportSummary(computed)
	result.Success = len(result.Errors) == 0
	result.Sent = j.deliver(ctx, tenantID, result, client)
	result.Duration = time.Since(start)

	j.b.Publish(bus.Event{Kind: bus.KindReportGenerated, Payload: bus.SessionEvent{TenantID: tenantID}})
	j.logger.Info("report run finished",
		zap.String("run_id", result.RunID),
		zap.String("tenant", tenantID),
		zap.String("date", today),
		zap.Int("groups", result.GroupsProcessed),
		zap.Int("skipped", result.GroupsSkipped),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("sent", result.Sent),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (j *Job) fetchCount(ctx context.Context, client Messenger, jid string) (int, error) {
	var count int
	err := pace.Retry(ctx, j.retryAttempts, func() error {
		var err error
		count, err = client.GroupMemberCount(ctx, jid)
		return err
	})
	return count, err
}

// deliver sends the formatted report if a destination is configured.
// Nothing to send (no destination, no fresh groups) is not a failure.
func (j *Job) deliver(ctx context.Context, tenantID string, result *Result, client Messenger) bool {
	if j.reportJID == "" || result.Summary.TotalGroups == 0 {
		return false
	}
	text := Format(result.Date, result.Summary)
	if _, err := client.SendText(ctx, j.reportJID, text); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("send report: %v", err))
		j.b.Publish(bus.Event{Kind: bus.KindReportSendFailed, Payload: bus.SessionEvent{TenantID: tenantID, Err: err.Error()}})
		j.logger.Warn("report delivery failed", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	return true
}
