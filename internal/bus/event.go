package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the WhatsApp adapter and consumed by the
// session registry ("session." namespace) and the ingestion pipeline
// ("message." namespace). Kinds are dot-namespaced so subscribers can
// filter by prefix.
const (
	KindSessionQR            = "session.qr"
	KindSessionAuthenticated = "session.authenticated"
	KindSessionReady         = "session.ready"
	KindSessionDisconnected  = "session.disconnected"
	KindSessionAuthFailed    = "session.auth_failed"
	KindSessionStatusChanged = "session.status_changed"

	KindMessageGroup = "message.group"

	KindReportGenerated  = "report.generated"
	KindReportSendFailed = "report.send_failed"
)

// SessionEvent is the payload for session.* events. QR is set only for
// session.qr, Err only for session.auth_failed.
type SessionEvent struct {
	TenantID string
	QR       string
	Err      string
}
