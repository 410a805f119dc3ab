package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matheus3301/grouptrack/internal/ingest"
	"github.com/matheus3301/grouptrack/internal/tenant"
)

const maxMessageBody = 1 << 20 // 1 MiB

// messagePayload is a dashboard-submitted group message. The dashboard
// forwards messages in batches; timestamps are unix milliseconds.
type messagePayload struct {
	TenantID    string `json:"tenantId"`
	MessageID   string `json:"messageId"`
	GroupJID    string `json:"groupId"`
	SenderJID   string `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderPhone string `json:"senderPhone"`
	MessageType string `json:"messageType"`
	IsAdmin     bool   `json:"isAdmin"`
	Timestamp   int64  `json:"timestamp"`
}

// handleMessages accepts a single message object or an array of them.
// Valid messages are enqueued; invalid ones are reported per-index without
// failing the rest of the batch.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	payloads, err := decodeMessages(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		processed int
		errs      []string
	)
	for i, p := range payloads {
		if err := validateMessage(&p); err != nil {
			errs = append(errs, fmt.Sprintf("message %d: %v", i, err))
			continue
		}
		s.pipeline.Enqueue(ingest.Event{
			MessageID:   p.MessageID,
			TenantID:    p.TenantID,
			GroupJID:    p.GroupJID,
			SenderJID:   p.SenderJID,
			SenderName:  p.SenderName,
			SenderPhone: p.SenderPhone,
			MessageType: messageType(p.MessageType),
			IsAdmin:     p.IsAdmin,
			Timestamp:   messageTime(p.Timestamp),
		})
		processed++
	}

	code := http.StatusOK
	if processed == 0 && len(errs) > 0 {
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]any{
		"processed": processed,
		"total":     len(payloads),
		"errors":    errs,
	})
}

// decodeMessages accepts either `{...}` or `[{...}, ...]`.
func decodeMessages(body []byte) ([]messagePayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] == '[' {
		var batch []messagePayload
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return batch, nil
	}
	var single messagePayload
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return []messagePayload{single}, nil
}

func validateMessage(p *messagePayload) error {
	if err := tenant.ValidateID(p.TenantID); err != nil {
		return err
	}
	if p.MessageID == "" {
		return fmt.Errorf("messageId is required")
	}
	if p.GroupJID == "" {
		return fmt.Errorf("groupId is required")
	}
	if p.SenderJID == "" {
		return fmt.Errorf("senderId is required")
	}
	return nil
}

func messageType(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

// messageTime treats a missing timestamp as "now".
func messageTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
