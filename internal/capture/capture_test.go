package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/pace"
	"github.com/matheus3301/grouptrack/internal/store"
)

type fakeCounter struct {
	counts map[string]int
	errs   map[string]error
	calls  int
}

func (f *fakeCounter) GroupMemberCount(_ context.Context, jid string) (int, error) {
	f.calls++
	if err := f.errs[jid]; err != nil {
		return 0, err
	}
	return f.counts[jid], nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedGroups(t *testing.T, db *store.DB, tenantID string, jids ...string) {
	t.Helper()
	for _, jid := range jids {
		require.NoError(t, db.UpsertTrackedGroup(&store.TrackedGroup{
			TenantID: tenantID,
			GroupJID: jid,
			Name:     jid,
			IsActive: true,
		}))
	}
}

func newJob(db *store.DB) *Job {
	return New(db, pace.NewLimiter(0), 1, zap.NewNop())
}

func TestRunCapturesAllGroups(t *testing.T) {
	db := testDB(t)
	seedGroups(t, db, "t1", "g1@g.us", "g2@g.us")
	fc := &fakeCounter{counts: map[string]int{"g1@g.us": 120, "g2@g.us": 45}}

	res, err := newJob(db).Run(context.Background(), "t1", fc)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.GroupsProcessed)
	assert.Len(t, res.Snapshots, 2)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)

	snaps, err := db.SnapshotsForGroup("t1", "g1@g.us", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 120, snaps[0].TotalMembers)
}

func TestRunIsolatesPerGroupFailures(t *testing.T) {
	db := testDB(t)
	seedGroups(t, db, "t1", "bad@g.us", "good@g.us")
	fc := &fakeCounter{
		counts: map[string]int{"good@g.us": 30},
		errs:   map[string]error{"bad@g.us": errors.New("fetch failed")},
	}

	res, err := newJob(db).Run(context.Background(), "t1", fc)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.GroupsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bad@g.us")

	// The healthy group's snapshot is still persisted.
	snaps, err := db.SnapshotsForGroup("t1", "good@g.us", 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRunTreatsZeroMembersAsSoftError(t *testing.T) {
	db := testDB(t)
	seedGroups(t, db, "t1", "empty@g.us")
	fc := &fakeCounter{counts: map[string]int{"empty@g.us": 0}}

	res, err := newJob(db).Run(context.Background(), "t1", fc)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.Snapshots)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "zero members")
}

func TestRunWithNoGroupsSucceeds(t *testing.T) {
	db := testDB(t)
	fc := &fakeCounter{}

	res, err := newJob(db).Run(context.Background(), "t1", fc)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, res.GroupsProcessed)
	assert.Zero(t, fc.calls)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	db := testDB(t)
	seedGroups(t, db, "t1", "flaky@g.us")

	attempts := 0
	fc := &flakyCounter{fail: 1, count: 77, attempts: &attempts}
	job := New(db, pace.NewLimiter(0), 3, zap.NewNop())

	res, err := job.Run(context.Background(), "t1", fc)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, 77, res.Snapshots[0].TotalMembers)
	assert.Equal(t, 2, attempts)
}

type flakyCounter struct {
	fail     int
	count    int
	attempts *int
}

func (f *flakyCounter) GroupMemberCount(context.Context, string) (int, error) {
	*f.attempts++
	if *f.attempts <= f.fail {
		return 0, errors.New("transient")
	}
	return f.count, nil
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	db := testDB(t)
	seedGroups(t, db, "t1", "g1@g.us", "g2@g.us", "g3@g.us")
	fc := &fakeCounter{counts: map[string]int{"g1@g.us": 1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := New(db, pace.NewLimiter(time.Second), 1, zap.NewNop())
	res, err := job.Run(ctx, "t1", fc)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}
