package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	groups, err := s.db.ActiveGroups(tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load groups")
		return
	}

	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, map[string]any{
			"groupJid":  g.GroupJID,
			"name":      g.Name,
			"isActive":  g.IsActive,
			"updatedAt": g.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"groups":   out,
	})
}

func (s *Server) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	groupJID := mux.Vars(r)["groupJid"]
	limit := queryInt(r, "limit", 30)

	daily, err := s.db.DailyStatsForGroup(tenantID, groupJID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load daily stats")
		return
	}
	snapshots, err := s.db.SnapshotsForGroup(tenantID, groupJID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	messages, err := s.db.MessageStats(tenantID, groupJID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load message stats")
		return
	}

	resp := map[string]any{
		"tenantId":     tenantID,
		"groupJid":     groupJID,
		"dailyStats":   daily,
		"snapshots":    snapshots,
		"messageStats": messages,
	}
	if date := r.URL.Query().Get("date"); date != "" {
		hourly, err := s.db.HourlyStats(tenantID, groupJID, date)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to load hourly stats")
			return
		}
		resp["hourlyStats"] = hourly
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	groupJID := mux.Vars(r)["groupJid"]
	limit := queryInt(r, "limit", 50)

	members, err := s.db.TopMembers(tenantID, groupJID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"groupJid": groupJID,
		"members":  members,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
