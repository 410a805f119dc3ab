// Package capture polls live member counts for a tenant's tracked groups
// and appends them to the snapshot log.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/pace"
	"github.com/matheus3301/grouptrack/internal/store"
)

// MemberCounter is the slice of the session client a capture run needs.
type MemberCounter interface {
	GroupMemberCount(ctx context.Context, jid string) (int, error)
}

// Result summarizes one capture run. Success means zero collected errors;
// individual group failures are isolated into Errors and never abort the
// run.
type Result struct {
	RunID           string
	TenantID        string
	Success         bool
	Duration        time.Duration
	GroupsProcessed int
	Errors          []string
	Snapshots       []store.Snapshot
}

// Job captures snapshots for one tenant at a time.
type Job struct {
	db            *store.DB
	limiter       *pace.Limiter
	retryAttempts uint64
	logger        *zap.Logger
}

// New creates a capture job. The limiter paces every member-count fetch;
// it is shared with the report job so the two never burst together.
func New(db *store.DB, limiter *pace.Limiter, retryAttempts uint64, logger *zap.Logger) *Job {
	return &Job{
		db:            db,
		limiter:       limiter,
		retryAttempts: retryAttempts,
		logger:        logger.Named("capture"),
	}
}

// Run captures one snapshot per active tracked group and persists them in
// a single batch at the end.
func (j *Job) Run(ctx context.Context, tenantID string, client MemberCounter) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:    uuid.NewString(),
		TenantID: tenantID,
	}

	groups, err := j.db.ActiveGroups(tenantID)
	if err != nil {
		return nil, fmt.Errorf("load active groups: %w", err)
	}

	for _, g := range groups {
		if err := j.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			break
		}

		count, err := j.fetchCount(ctx, client, g.GroupJID)
		result.GroupsProcessed++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", g.GroupJID, err))
			continue
		}
		if count == 0 {
			// Zero members almost always means the account lost access
			// to the group; record it but keep going.
			result.Errors = append(result.Errors, fmt.Sprintf("%s: zero members (group inaccessible?)", g.GroupJID))
			continue
		}

		result.Snapshots = append(result.Snapshots, store.Snapshot{
			TenantID:     tenantID,
			GroupJID:     g.GroupJID,
			TotalMembers: count,
			CapturedAt:   time.Now().UnixMilli(),
		})
	}

	if err := j.db.InsertSnapshots(result.Snapshots); err != nil {
		return nil, fmt.Errorf("persist snapshots: %w", err)
	}

	result.Duration = time.Since(start)
	result.Success = len(result.Errors) == 0

	j.logger.Info("capture run finished",
		zap.String("run_id", result.RunID),
		zap.String("tenant", tenantID),
		zap.Int("groups", result.GroupsProcessed),
		zap.Int("snapshots", len(result.Snapshots)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (j *Job) fetchCount(ctx context.Context, client MemberCounter, jid string) (int, error) {
	var count int
	err := pace.Retry(ctx, j.retryAttempts, func() error {
		var err error
		count, err = client.GroupMemberCount(ctx, jid)
		return err
	})
	return count, err
}
