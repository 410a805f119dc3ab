package wa

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/tenant"

	_ "github.com/mattn/go-sqlite3"
)

// GroupInfo is a normalized joined-group record.
type GroupInfo struct {
	JID     string
	Name    string
	Members int
}

// Adapter wraps one tenant's whatsmeow client. Each tenant gets its own
// credential store, so sessions are fully independent.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	tenantID  string
}

// NewAdapter creates a WhatsApp adapter for the given tenant. The event
// handler is registered immediately; Close removes it again.
func NewAdapter(ctx context.Context, dataDir, tenantID string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("GroupTrack", [3]uint32{0, 1, 0})

	if err := tenant.EnsureDir(dataDir, tenantID); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}
	dbPath := tenant.SessionDBPath(dataDir, tenantID)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logger.Named("wa").With(zap.String("tenant", tenantID)),
		tenantID:  tenantID,
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection without releasing the handle.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Close removes all event handlers, disconnects, and releases the
// credential store. The adapter must not be used afterwards.
func (a *Adapter) Close() {
	a.client.RemoveEventHandlers()
	a.client.Disconnect()
	if err := a.container.Close(); err != nil {
		a.logger.Warn("failed to close session store", zap.Error(err))
	}
}

// SendText sends a text message to the given JID. Returns the server message ID.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (string, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// GroupMemberCount fetches the live participant count for a group.
func (a *Adapter) GroupMemberCount(ctx context.Context, jid string) (int, error) {
	gjid, err := types.ParseJID(jid)
	if err != nil {
		return 0, fmt.Errorf("parse group JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, gjid)
	if err != nil {
		return 0, fmt.Errorf("get group info: %w", err)
	}
	return len(info.Participants), nil
}

// JoinedGroups returns the groups the tenant's account participates in.
func (a *Adapter) JoinedGroups(ctx context.Context) ([]GroupInfo, error) {
	groups, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	infos := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		infos = append(infos, GroupInfo{
			JID:     g.JID.String(),
			Name:    g.Name,
			Members: len(g.Participants),
		})
	}
	return infos, nil
}

// StartPairing begins the QR pairing flow: it streams QR codes and the
// auth outcome onto the bus as session events. Must only be called when
// the adapter has no stored credentials.
func (a *Adapter) StartPairing(ctx context.Context) error {
	if a.IsLoggedIn() {
		return fmt.Errorf("already logged in")
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}

	// Connect must be called after GetQRChannel.
	if err := a.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go a.pumpQR(qrChan)
	return nil
}

func (a *Adapter) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			a.publishSession(bus.KindSessionQR, bus.SessionEvent{TenantID: a.tenantID, QR: item.Code})
		case "success":
			a.publishSession(bus.KindSessionAuthenticated, bus.SessionEvent{TenantID: a.tenantID})
			return
		case "timeout":
			a.publishSession(bus.KindSessionAuthFailed, bus.SessionEvent{TenantID: a.tenantID, Err: "QR code timeout"})
			return
		default:
			if item.Error != nil {
				a.publishSession(bus.KindSessionAuthFailed, bus.SessionEvent{TenantID: a.tenantID, Err: item.Error.Error()})
				return
			}
		}
	}
}
