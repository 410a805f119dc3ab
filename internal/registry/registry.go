// Package registry owns the per-tenant WhatsApp session lifecycle. All
// session state lives behind one lock and is mutated either by API calls
// (init, disconnect, retry) or by the single bus consumer loop; the
// underlying client is never shared while a teardown is in progress.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/status"
	"github.com/matheus3301/grouptrack/internal/store"
	"github.com/matheus3301/grouptrack/internal/wa"
)

// Client is the narrow view of a WhatsApp connection the registry needs.
// *wa.Adapter satisfies it; tests substitute fakes.
type Client interface {
	IsLoggedIn() bool
	Connect() error
	Disconnect()
	Close()
	SendText(ctx context.Context, jid, text string) (string, error)
	GroupMemberCount(ctx context.Context, jid string) (int, error)
	JoinedGroups(ctx context.Context) ([]wa.GroupInfo, error)
	StartPairing(ctx context.Context) error
}

// Factory constructs a client for a tenant. Construction failures are
// mapped to the error state, never propagated to callers of Init.
type Factory func(ctx context.Context, tenantID string) (Client, error)

// session is the registry's record for one tenant. At most one live
// client exists per tenant at any time.
type session struct {
	machine  *status.Machine
	client   Client
	qr       string
	lastErr  string
	lastSeen time.Time
	stopSync chan struct{}
}

// Registry tracks every tenant session in the process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	factory      Factory
	db           *store.DB
	bus          *bus.Bus
	logger       *zap.Logger
	syncInterval time.Duration
	runCtx       context.Context
	cancel       context.CancelFunc
}

// New creates a registry. syncInterval is the recurring roster sync cadence
// for ready sessions.
func New(factory Factory, db *store.DB, b *bus.Bus, logger *zap.Logger, syncInterval time.Duration) *Registry {
	return &Registry{
		sessions:     make(map[string]*session),
		factory:      factory,
		db:           db,
		bus:          b,
		logger:       logger.Named("registry"),
		syncInterval: syncInterval,
	}
}

// Start launches the bus consumer loop that drives session transitions.
// The derived context also bounds client construction and pairing started
// by later Init calls.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()
	ch, unsub := r.bus.Subscribe("session.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the consumer loop and tears down every session.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for tenantID, s := range r.sessions {
		r.teardownLocked(tenantID, s)
	}
}

// Init starts (or reports) a tenant session. When a session is already
// ready or mid-pairing the current state is returned without creating a
// second client; a stale idle or errored handle is torn down first.
//
// Client construction and pairing run on the registry's own context, not
// the caller's: the HTTP handler that triggers an init returns long before
// pairing completes, and its request context is cancelled on return.
func (r *Registry) Init(tenantID string) status.State {
	r.mu.Lock()
	if s, ok := r.sessions[tenantID]; ok {
		switch st := s.machine.Current(); st {
		case status.Ready, status.Initializing, status.QRReady, status.Authenticated:
			r.mu.Unlock()
			return st
		default:
			r.teardownLocked(tenantID, s)
		}
	}

	s := &session{machine: status.NewMachine(tenantID, r.bus)}
	_ = s.machine.Transition(status.Initializing)
	r.sessions[tenantID] = s
	ctx := r.runCtx
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	go r.startClient(ctx, tenantID, s)
	return status.Initializing
}

func (r *Registry) startClient(ctx context.Context, tenantID string, s *session) {
	client, err := r.factory(ctx, tenantID)
	if err != nil {
		r.logger.Error("client construction failed", zap.String("tenant", tenantID), zap.Error(err))
		r.fail(tenantID, err)
		return
	}

	r.mu.Lock()
	cur, ok := r.sessions[tenantID]
	if !ok || cur != s || s.machine.Current() != status.Initializing {
		// Torn down while the client was being built.
		r.mu.Unlock()
		client.Close()
		return
	}
	s.client = client
	r.mu.Unlock()

	if client.IsLoggedIn() {
		err = client.Connect()
	} else {
		err = client.StartPairing(ctx)
	}
	if err != nil {
		r.logger.Error("client start failed", zap.String("tenant", tenantID), zap.Error(err))
		r.fail(tenantID, err)
	}
}

// fail moves a tenant to the error state and releases its handle. The
// session entry survives so pollers see "error" until an explicit retry.
func (r *Registry) fail(tenantID string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return
	}
	r.stopAutoSyncLocked(s)
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.qr = ""
	s.lastErr = cause.Error()
	_ = s.machine.Transition(status.Error)
}

// Disconnect forces teardown regardless of state. Idempotent.
func (r *Registry) Disconnect(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID]; ok {
		r.teardownLocked(tenantID, s)
	}
}

// Retry forces teardown then re-runs Init.
func (r *Registry) Retry(tenantID string) status.State {
	r.Disconnect(tenantID)
	return r.Init(tenantID)
}

// teardownLocked releases the client handle and removes the session. The
// auto-sync timer is cancelled before the handle goes away so no timer
// callback can fire against a torn-down session.
func (r *Registry) teardownLocked(tenantID string, s *session) {
	r.stopAutoSyncLocked(s)
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.qr = ""
	_ = s.machine.Transition(status.Idle)
	delete(r.sessions, tenantID)
}

// State returns the lifecycle state for a tenant; Idle when unknown.
func (r *Registry) State(tenantID string) status.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID]; ok {
		return s.machine.Current()
	}
	return status.Idle
}

// QRStatus is the poller-facing pairing status.
type QRStatus struct {
	Status string `json:"status"`
	QRCode string `json:"qrCode,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QR returns the pairing payload when one is pending, or a sentinel status
// so the dashboard poller can distinguish every other phase.
func (r *Registry) QR(tenantID string) QRStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return QRStatus{Status: "idle"}
	}
	switch s.machine.Current() {
	case status.Initializing:
		if s.client == nil {
			return QRStatus{Status: "initializing"}
		}
		return QRStatus{Status: "waiting"}
	case status.QRReady:
		return QRStatus{Status: "pending", QRCode: s.qr}
	case status.Authenticated:
		return QRStatus{Status: "authenticated"}
	case status.Ready:
		return QRStatus{Status: "ready"}
	case status.Error:
		return QRStatus{Status: "error", Error: s.lastErr}
	default:
		return QRStatus{Status: "idle"}
	}
}

// SessionStatus is the dashboard-facing connection summary.
type SessionStatus struct {
	IsConnected   bool `json:"isConnected"`
	IsInitialized bool `json:"isInitialized"`
	HasQR         bool `json:"hasQR"`
}

// Status summarizes a tenant's connection for the dashboard.
func (r *Registry) Status(tenantID string) SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return SessionStatus{}
	}
	st := s.machine.Current()
	return SessionStatus{
		IsConnected:   st == status.Ready,
		IsInitialized: st != status.Idle && st != status.Error,
		HasQR:         s.qr != "",
	}
}

// ReadyTenants lists tenants with a ready session.
func (r *Registry) ReadyTenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tenants []string
	for tenantID, s := range r.sessions {
		if s.machine.Current() == status.Ready {
			tenants = append(tenants, tenantID)
		}
	}
	return tenants
}

// ClientFor returns the live client for a ready tenant session.
func (r *Registry) ClientFor(tenantID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok || s.machine.Current() != status.Ready || s.client == nil {
		return nil, fmt.Errorf("tenant %s has no ready session", tenantID)
	}
	return s.client, nil
}

// SyncNow runs an immediate roster sync for a ready tenant.
func (r *Registry) SyncNow(ctx context.Context, tenantID string) error {
	client, err := r.ClientFor(tenantID)
	if err != nil {
		return err
	}
	r.syncRoster(ctx, tenantID, client)
	return nil
}

func (r *Registry) handleEvent(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(bus.SessionEvent)
	if !ok {
		return
	}

	switch evt.Kind {
	case bus.KindSessionQR:
		r.handleQR(payload)
	case bus.KindSessionAuthenticated:
		r.handleAuthenticated(payload)
	case bus.KindSessionReady:
		r.handleReady(ctx, payload)
	case bus.KindSessionDisconnected:
		r.handleDisconnected(payload)
	case bus.KindSessionAuthFailed:
		r.logger.Warn("session auth failed", zap.String("tenant", payload.TenantID), zap.String("error", payload.Err))
		r.fail(payload.TenantID, fmt.Errorf("%s", payload.Err))
	}
}

func (r *Registry) handleQR(evt bus.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[evt.TenantID]
	if !ok {
		return
	}
	s.qr = evt.QR
	if s.machine.Current() == status.Initializing {
		_ = s.machine.Transition(status.QRReady)
	}
}

func (r *Registry) handleAuthenticated(evt bus.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[evt.TenantID]
	if !ok {
		return
	}
	s.qr = ""
	_ = s.machine.Transition(status.Authenticated)
}

func (r *Registry) handleReady(ctx context.Context, evt bus.SessionEvent) {
	r.mu.Lock()
	s, ok := r.sessions[evt.TenantID]
	if !ok || s.client == nil {
		// No attached client: the session was torn down, or the event
		// raced client construction. Either way there is no handle to
		// run against.
		r.mu.Unlock()
		return
	}
	// A returning tenant connects without the QR steps; walk the machine
	// through authenticated so the transition stays legal.
	if cur := s.machine.Current(); cur == status.Initializing || cur == status.QRReady {
		s.qr = ""
		_ = s.machine.Transition(status.Authenticated)
	}
	if err := s.machine.Transition(status.Ready); err != nil {
		r.mu.Unlock()
		return
	}
	s.lastSeen = time.Now()
	client := s.client
	r.startAutoSyncLocked(ctx, evt.TenantID, s, client)
	r.mu.Unlock()

	r.logger.Info("session ready", zap.String("tenant", evt.TenantID))
}

func (r *Registry) handleDisconnected(evt bus.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[evt.TenantID]
	if !ok {
		return
	}
	r.logger.Warn("session disconnected", zap.String("tenant", evt.TenantID))
	r.teardownLocked(evt.TenantID, s)
}

// startAutoSyncLocked runs one immediate roster sync and then a recurring
// one until the session is torn down.
func (r *Registry) startAutoSyncLocked(ctx context.Context, tenantID string, s *session, client Client) {
	if s.stopSync != nil || client == nil {
		return
	}
	stop := make(chan struct{})
	s.stopSync = stop

	go func() {
		r.syncRoster(ctx, tenantID, client)
		ticker := time.NewTicker(r.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.syncRoster(ctx, tenantID, client)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Registry) stopAutoSyncLocked(s *session) {
	if s.stopSync != nil {
		close(s.stopSync)
		s.stopSync = nil
	}
}

// syncRoster refreshes the tenant's tracked groups from the account's
// joined groups, deactivating groups the account has left.
func (r *Registry) syncRoster(ctx context.Context, tenantID string, client Client) {
	groups, err := client.JoinedGroups(ctx)
	if err != nil {
		r.logger.Warn("roster sync failed", zap.String("tenant", tenantID), zap.Error(err))
		return
	}

	seen := make([]string, 0, len(groups))
	for _, g := range groups {
		seen = append(seen, g.JID)
		if err := r.db.UpsertTrackedGroup(&store.TrackedGroup{
			TenantID: tenantID,
			GroupJID: g.JID,
			Name:     g.Name,
			IsActive: true,
		}); err != nil {
			r.logger.Error("failed to upsert tracked group", zap.String("tenant", tenantID), zap.String("group", g.JID), zap.Error(err))
		}
	}
	deactivated, err := r.db.DeactivateMissingGroups(tenantID, seen)
	if err != nil {
		r.logger.Error("failed to deactivate missing groups", zap.String("tenant", tenantID), zap.Error(err))
	}

	r.mu.Lock()
	if s, ok := r.sessions[tenantID]; ok {
		s.lastSeen = time.Now()
	}
	r.mu.Unlock()

	r.logger.Info("roster synced",
		zap.String("tenant", tenantID),
		zap.Int("groups", len(groups)),
		zap.Int64("deactivated", deactivated))
}
