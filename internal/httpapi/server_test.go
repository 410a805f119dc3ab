package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/capture"
	"github.com/matheus3301/grouptrack/internal/ingest"
	"github.com/matheus3301/grouptrack/internal/registry"
	"github.com/matheus3301/grouptrack/internal/status"
	"github.com/matheus3301/grouptrack/internal/store"
	"github.com/matheus3301/grouptrack/internal/wa"
)

// fakeSessions scripts the registry surface without a real client.
type fakeSessions struct {
	state       status.State
	qr          registry.QRStatus
	inits       int
	disconnects int
	retries     int
	syncErr     error
}

func (f *fakeSessions) Init(string) status.State {
	f.inits++
	f.state = status.Initializing
	return f.state
}
func (f *fakeSessions) QR(string) registry.QRStatus { return f.qr }
func (f *fakeSessions) State(string) status.State   { return f.state }
func (f *fakeSessions) Disconnect(string)           { f.disconnects++; f.state = status.Idle }
func (f *fakeSessions) Retry(string) status.State {
	f.retries++
	f.state = status.Initializing
	return f.state
}
func (f *fakeSessions) Status(string) registry.SessionStatus {
	return registry.SessionStatus{IsConnected: f.state == status.Ready}
}
func (f *fakeSessions) SyncNow(context.Context, string) error { return f.syncErr }

type fakeTriggers struct {
	captureOK bool
	reportOK  bool
	captures  int
	reports   int
}

func (f *fakeTriggers) RunCaptureNow(context.Context) bool { f.captures++; return f.captureOK }
func (f *fakeTriggers) RunReportNow(context.Context) bool  { f.reports++; return f.reportOK }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeTenantCapture struct {
	result *capture.Result
	err    error
}

func (f *fakeTenantCapture) CaptureTenant(_ context.Context, tenantID string) (*capture.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &capture.Result{RunID: "run-1", TenantID: tenantID, Success: true}, nil
	}
	return f.result, nil
}

func newTestServer(t *testing.T) (*Server, *fakeSessions, *fakeTriggers, *store.DB, *ingest.Pipeline) {
	t.Helper()
	db := testDB(t)
	sessions := &fakeSessions{state: status.Idle}
	triggers := &fakeTriggers{captureOK: true, reportOK: true}
	pipeline := ingest.New(db, bus.New(), zap.NewNop(), 100, time.Hour)
	t.Cleanup(pipeline.Stop)
	srv := New("127.0.0.1:0", sessions, pipeline, triggers, &fakeTenantCapture{}, db, zap.NewNop())
	return srv, sessions, triggers, db, pipeline
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealth(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionInit(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/t1/init", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sessions.inits)
	assert.Equal(t, "INITIALIZING", decode(t, rec)["state"])
}

func TestSessionInitRejectsBadTenantID(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/bad%20id/init", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, sessions.inits)
}

func TestSessionQRStates(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)

	sessions.qr = registry.QRStatus{Status: "pending", QRCode: "qr-data"}
	rec := do(t, srv, http.MethodGet, "/api/v1/sessions/t1/qr", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "qr-data", body["qrCode"])

	sessions.qr = registry.QRStatus{Status: "ready"}
	body = decode(t, do(t, srv, http.MethodGet, "/api/v1/sessions/t1/qr", nil))
	assert.Equal(t, "ready", body["status"])
	assert.NotContains(t, body, "qrCode")
}

func TestSessionQRAsPNG(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)

	sessions.qr = registry.QRStatus{Status: "pending", QRCode: "qr-data"}
	rec := do(t, srv, http.MethodGet, "/api/v1/sessions/t1/qr?format=png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	// Without a pending QR there is nothing to render.
	sessions.qr = registry.QRStatus{Status: "authenticated"}
	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/t1/qr?format=png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionDisconnectAndRetry(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/t1/disconnect", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sessions.disconnects)

	rec = do(t, srv, http.MethodPost, "/api/v1/sessions/t1/retry", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sessions.retries)
}

func TestSessionSyncNotReady(t *testing.T) {
	srv, sessions, _, _, _ := newTestServer(t)
	sessions.syncErr = fmt.Errorf("tenant t1 has no ready session")

	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/t1/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionSyncReturnsCaptureCounts(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	srv.tenantCap = &fakeTenantCapture{result: &capture.Result{
		RunID: "run-9", TenantID: "t1", Success: true, GroupsProcessed: 3,
		Snapshots: []store.Snapshot{{}, {}, {}},
	}}

	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/t1/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["groupsProcessed"])
	assert.Equal(t, float64(3), body["snapshots"])
	assert.Equal(t, true, body["success"])
}

func TestMessagesSingleObject(t *testing.T) {
	srv, _, _, _, pipeline := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/messages", map[string]any{
		"tenantId":  "t1",
		"messageId": "m1",
		"groupId":   "g1@g.us",
		"senderId": "u1@s.whatsapp.net",
		"timestamp": time.Now().UnixMilli(),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["processed"])
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, 1, pipeline.Pending())
}

func TestMessagesArrayWithPartialFailure(t *testing.T) {
	srv, _, _, _, pipeline := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/messages", []map[string]any{
		{"tenantId": "t1", "messageId": "m1", "groupId": "g1@g.us", "senderId": "u1@s.whatsapp.net"},
		{"tenantId": "t1", "messageId": "", "groupId": "g1@g.us", "senderId": "u1@s.whatsapp.net"},
		{"tenantId": "t1", "messageId": "m3", "groupId": "g1@g.us", "senderId": "u2@s.whatsapp.net"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, float64(3), body["total"])
	require.Len(t, body["errors"], 1)
	assert.Contains(t, body["errors"].([]any)[0], "message 1")
	assert.Equal(t, 2, pipeline.Pending())
}

func TestMessagesAllInvalid(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/messages", map[string]any{
		"tenantId": "t1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesMalformedBody(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupsRead(t *testing.T) {
	srv, _, _, db, _ := newTestServer(t)
	require.NoError(t, db.UpsertTrackedGroup(&store.TrackedGroup{
		TenantID: "t1", GroupJID: "g1@g.us", Name: "Group One", IsActive: true,
	}))

	rec := do(t, srv, http.MethodGet, "/api/v1/tenants/t1/groups", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Len(t, body["groups"], 1)
}

func TestGroupStatsRead(t *testing.T) {
	srv, _, _, db, _ := newTestServer(t)
	require.NoError(t, db.UpsertDailyStats([]store.DailyStat{{
		TenantID: "t1", GroupJID: "g1@g.us", Date: "2026-08-27",
		TotalMembers: 100, Joined: 5, Left: 2, NetGrowth: 3,
	}}))

	rec := do(t, srv, http.MethodGet, "/api/v1/tenants/t1/groups/g1@g.us/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Len(t, body["dailyStats"], 1)
}

func TestJobRun(t *testing.T) {
	srv, _, triggers, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/jobs/capture/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, triggers.captures)

	rec = do(t, srv, http.MethodPost, "/api/v1/jobs/report/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, triggers.reports)

	rec = do(t, srv, http.MethodPost, "/api/v1/jobs/unknown/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobRunConflict(t *testing.T) {
	srv, _, triggers, _, _ := newTestServer(t)
	triggers.captureOK = false

	rec := do(t, srv, http.MethodPost, "/api/v1/jobs/capture/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminReset(t *testing.T) {
	srv, _, _, db, _ := newTestServer(t)
	require.NoError(t, db.ApplyMessageBatch([]store.GroupMessage{{
		TenantID: "t1", MsgID: "m1", GroupJID: "g1@g.us", SenderJID: "u1@s.whatsapp.net",
		MessageType: "text", Timestamp: time.Now().UnixMilli(),
	}}))

	rec := do(t, srv, http.MethodPost, "/api/v1/admin/reset/daily", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["affected"])

	a, err := db.GetMemberActivity("t1", "g1@g.us", "u1@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Zero(t, a.MessagesToday)
	assert.Equal(t, int64(1), a.MessagesWeek)

	rec = do(t, srv, http.MethodPost, "/api/v1/admin/reset/monthly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// pairingClient reports the context its pairing was started with, so tests
// can tell whether it was bound to the request or to the registry.
type pairingClient struct {
	pairCtxErr chan error
}

func (c *pairingClient) IsLoggedIn() bool { return false }
func (c *pairingClient) Connect() error   { return nil }
func (c *pairingClient) Disconnect()      {}
func (c *pairingClient) Close()           {}
func (c *pairingClient) SendText(context.Context, string, string) (string, error) {
	return "", nil
}
func (c *pairingClient) GroupMemberCount(context.Context, string) (int, error) { return 0, nil }
func (c *pairingClient) JoinedGroups(context.Context) ([]wa.GroupInfo, error)  { return nil, nil }
func (c *pairingClient) StartPairing(ctx context.Context) error {
	c.pairCtxErr <- ctx.Err()
	return ctx.Err()
}

// TestSessionInitOutlivesRequestContext drives an init through a real
// listener, where net/http cancels the request context the moment the
// handler returns. Client construction and pairing start after that and
// must keep running on a live context instead of erroring out.
func TestSessionInitOutlivesRequestContext(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	pipeline := ingest.New(db, b, zap.NewNop(), 100, time.Hour)
	t.Cleanup(pipeline.Stop)

	client := &pairingClient{pairCtxErr: make(chan error, 1)}
	factoryCtxErr := make(chan error, 1)
	factory := func(ctx context.Context, _ string) (registry.Client, error) {
		// By now the handler has answered 202 and the request is done.
		time.Sleep(50 * time.Millisecond)
		factoryCtxErr <- ctx.Err()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return client, nil
	}
	reg := registry.New(factory, db, b, zap.NewNop(), time.Hour)
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	srv := New("127.0.0.1:0", reg, pipeline, &fakeTriggers{}, &fakeTenantCapture{}, db, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/v1/sessions/t1/init", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case err := <-factoryCtxErr:
		assert.NoError(t, err, "construction context died with the request")
	case <-time.After(2 * time.Second):
		t.Fatal("client was never constructed")
	}
	select {
	case err := <-client.pairCtxErr:
		assert.NoError(t, err, "pairing context died with the request")
	case <-time.After(2 * time.Second):
		t.Fatal("pairing was never started")
	}
	assert.Equal(t, status.Initializing, reg.State("t1"))
}
