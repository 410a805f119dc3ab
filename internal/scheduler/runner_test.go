package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/capture"
	"github.com/matheus3301/grouptrack/internal/pace"
	"github.com/matheus3301/grouptrack/internal/registry"
	"github.com/matheus3301/grouptrack/internal/report"
	"github.com/matheus3301/grouptrack/internal/store"
	"github.com/matheus3301/grouptrack/internal/wa"
)

type stubClient struct {
	count int
}

func (s *stubClient) IsLoggedIn() bool { return true }
func (s *stubClient) Connect() error   { return nil }
func (s *stubClient) Disconnect()      {}
func (s *stubClient) Close()           {}
func (s *stubClient) SendText(context.Context, string, string) (string, error) {
	return "srv-1", nil
}
func (s *stubClient) GroupMemberCount(context.Context, string) (int, error) { return s.count, nil }
func (s *stubClient) JoinedGroups(context.Context) ([]wa.GroupInfo, error)  { return nil, nil }
func (s *stubClient) StartPairing(context.Context) error                    { return nil }

type stubSessions struct {
	tenants map[string]registry.Client
}

func (s *stubSessions) ReadyTenants() []string {
	out := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		out = append(out, id)
	}
	return out
}

func (s *stubSessions) ClientFor(tenantID string) (registry.Client, error) {
	c, ok := s.tenants[tenantID]
	if !ok {
		return nil, errors.New("not ready")
	}
	return c, nil
}

func runnerDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunnerFansOutOverReadyTenants(t *testing.T) {
	db := runnerDB(t)
	for _, tenantID := range []string{"t1", "t2"} {
		require.NoError(t, db.UpsertTrackedGroup(&store.TrackedGroup{
			TenantID: tenantID,
			GroupJID: "g1@g.us",
			Name:     "Group One",
			IsActive: true,
		}))
	}

	sessions := &stubSessions{tenants: map[string]registry.Client{
		"t1": &stubClient{count: 10},
		"t2": &stubClient{count: 20},
	}}
	limiter := pace.NewLimiter(0)
	runner := NewTenantRunner(
		sessions,
		capture.New(db, limiter, 1, zap.NewNop()),
		report.New(db, bus.New(), limiter, 1, "", zap.NewNop()),
		zap.NewNop(),
	)

	runner.RunCapture(context.Background())

	s1, err := db.SnapshotsForGroup("t1", "g1@g.us", 10)
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, 10, s1[0].TotalMembers)

	s2, err := db.SnapshotsForGroup("t2", "g1@g.us", 10)
	require.NoError(t, err)
	require.Len(t, s2, 1)
	assert.Equal(t, 20, s2[0].TotalMembers)
}

func TestRunnerSkipsDroppedTenant(t *testing.T) {
	db := runnerDB(t)
	sessions := &stubSessions{tenants: map[string]registry.Client{}}

	limiter := pace.NewLimiter(0)
	runner := NewTenantRunner(
		sessions,
		capture.New(db, limiter, 1, zap.NewNop()),
		report.New(db, bus.New(), limiter, 1, "", zap.NewNop()),
		zap.NewNop(),
	)

	// No ready tenants: both runs are no-ops and must not panic.
	runner.RunCapture(context.Background())
	runner.RunReport(context.Background())
}
