package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/ingest"
)

// handleEvent is the whatsmeow event handler. It publishes typed bus
// events; the session registry and the ingestion pipeline subscribe
// independently, so the adapter never calls either directly.
func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		a.handleMessage(evt)
	case *events.Connected:
		a.logger.Info("WhatsApp connected")
		a.publishSession(bus.KindSessionReady, bus.SessionEvent{TenantID: a.tenantID})
	case *events.Disconnected:
		a.logger.Warn("WhatsApp disconnected")
		a.publishSession(bus.KindSessionDisconnected, bus.SessionEvent{TenantID: a.tenantID})
	case *events.LoggedOut:
		a.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		a.publishSession(bus.KindSessionAuthFailed, bus.SessionEvent{TenantID: a.tenantID, Err: "logged out: " + evt.Reason.String()})
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	// Only inbound group traffic feeds the activity aggregates.
	if evt.Info.Chat.Server != types.GroupServer || evt.Info.IsFromMe {
		return
	}

	a.bus.Publish(bus.Event{
		Kind:      bus.KindMessageGroup,
		Timestamp: time.Now(),
		Payload: ingest.Event{
			MessageID:   evt.Info.ID,
			TenantID:    a.tenantID,
			GroupJID:    evt.Info.Chat.String(),
			SenderJID:   evt.Info.Sender.ToNonAD().String(),
			SenderName:  evt.Info.PushName,
			MessageType: detectMessageType(evt.Message),
			// Admin status is not carried on live message events; the
			// dashboard sets it on batch-submitted events instead.
			IsAdmin:   false,
			Timestamp: evt.Info.Timestamp,
		},
	})
}

func (a *Adapter) publishSession(kind string, payload bus.SessionEvent) {
	a.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
