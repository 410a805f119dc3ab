package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/capture"
	"github.com/matheus3301/grouptrack/internal/registry"
	"github.com/matheus3301/grouptrack/internal/report"
)

// Sessions is the slice of the registry the runner needs.
type Sessions interface {
	ReadyTenants() []string
	ClientFor(tenantID string) (registry.Client, error)
}

// TenantRunner fans each job trigger out across every ready tenant,
// sequentially. Tenants that drop out of READY between listing and
// execution are skipped.
type TenantRunner struct {
	sessions Sessions
	capture  *capture.Job
	report   *report.Job
	logger   *zap.Logger
}

// NewTenantRunner wires the per-tenant jobs to the session registry.
func NewTenantRunner(sessions Sessions, captureJob *capture.Job, reportJob *report.Job, logger *zap.Logger) *TenantRunner {
	return &TenantRunner{
		sessions: sessions,
		capture:  captureJob,
		report:   reportJob,
		logger:   logger.Named("runner"),
	}
}

// CaptureTenant runs a capture for one tenant outside the fan-out,
// backing the manual sync endpoint.
func (r *TenantRunner) CaptureTenant(ctx context.Context, tenantID string) (*capture.Result, error) {
	client, err := r.sessions.ClientFor(tenantID)
	if err != nil {
		return nil, err
	}
	return r.capture.Run(ctx, tenantID, client)
}

// RunCapture captures snapshots for every ready tenant.
func (r *TenantRunner) RunCapture(ctx context.Context) {
	for _, tenantID := range r.sessions.ReadyTenants() {
		client, err := r.sessions.ClientFor(tenantID)
		if err != nil {
			r.logger.Warn("tenant no longer ready, skipping capture", zap.String("tenant", tenantID))
			continue
		}
		if _, err := r.capture.Run(ctx, tenantID, client); err != nil {
			r.logger.Error("capture run failed", zap.String("tenant", tenantID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// RunReport generates the daily report for every ready tenant.
func (r *TenantRunner) RunReport(ctx context.Context) {
	for _, tenantID := range r.sessions.ReadyTenants() {
		client, err := r.sessions.ClientFor(tenantID)
		if err != nil {
			r.logger.Warn("tenant no longer ready, skipping report", zap.String("tenant", tenantID))
			continue
		}
		if _, err := r.report.Run(ctx, tenantID, client); err != nil {
			r.logger.Error("report run failed", zap.String("tenant", tenantID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
