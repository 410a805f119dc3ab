package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/matheus3301/grouptrack/internal/tenant"
)

// tenantID extracts and validates the tenant path variable. A validation
// failure writes the 400 and returns false.
func (s *Server) tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["tenantId"]
	if err := tenant.ValidateID(id); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	st := s.sessions.Init(tenantID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"tenantId": tenantID,
		"state":    string(st),
	})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	qr := s.sessions.QR(tenantID)

	if r.URL.Query().Get("format") == "png" {
		if qr.Status != "pending" {
			s.writeError(w, http.StatusNotFound, "no QR code pending")
			return
		}
		png, err := qrcode.Encode(qr.QRCode, qrcode.Medium, 256)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to render QR code")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
		return
	}
	s.writeJSON(w, http.StatusOK, qr)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	st := s.sessions.Status(tenantID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":      tenantID,
		"state":         string(s.sessions.State(tenantID)),
		"isConnected":   st.IsConnected,
		"isInitialized": st.IsInitialized,
		"hasQR":         st.HasQR,
	})
}

func (s *Server) handleSessionDisconnect(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	s.sessions.Disconnect(tenantID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"tenantId": tenantID,
		"state":    string(s.sessions.State(tenantID)),
	})
}

func (s *Server) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	st := s.sessions.Retry(tenantID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"tenantId": tenantID,
		"state":    string(st),
	})
}

// handleSessionSync refreshes the tenant's tracked-group roster and runs
// an immediate capture, returning the run's counts.
func (s *Server) handleSessionSync(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.SyncNow(r.Context(), tenantID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	result, err := s.tenantCap.CaptureTenant(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":        tenantID,
		"runId":           result.RunID,
		"success":         result.Success,
		"groupsProcessed": result.GroupsProcessed,
		"snapshots":       len(result.Snapshots),
		"errors":          result.Errors,
	})
}
