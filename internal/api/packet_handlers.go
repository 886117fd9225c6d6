// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"
	"time"

	"grimm.is/nautscan/internal/storage"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// handlePacketHistory queries persisted packets with filters and
// offset+limit pagination.
func (s *Server) handlePacketHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	packets, err := s.store.QueryPackets(filter)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	total, err := s.store.CountPackets(filter)
	if err != nil {
		WriteKindError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"packets": packets,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetPacket(r.PathValue("id"))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ev)
}

type markMaliciousRequest struct {
	ThreatCategory  *string  `json:"threat_category,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
}

// handleMarkMalicious flags a persisted packet as malicious, which also
// exempts it from retention expiry.
func (s *Server) handleMarkMalicious(w http.ResponseWriter, r *http.Request) {
	var req markMaliciousRequest
	if r.ContentLength != 0 && !BindJSON(w, r, &req) {
		return
	}
	if req.ConfidenceScore != nil && (*req.ConfidenceScore < 0 || *req.ConfidenceScore > 1) {
		WriteError(w, http.StatusBadRequest, "confidence_score must be between 0 and 1")
		return
	}

	ev, err := s.store.MarkMalicious(r.PathValue("id"), req.ThreatCategory, req.ConfidenceScore, req.Notes)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ev)
}

func (s *Server) handleMaliciousIPs(w http.ResponseWriter, r *http.Request) {
	ips, err := s.store.MaliciousIPs()
	if err != nil {
		WriteKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ips":   ips,
		"count": len(ips),
	})
}

func historyFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		Protocol:      q.Get("protocol"),
		SourceIP:      q.Get("source_ip"),
		DestinationIP: q.Get("destination_ip"),
		ConnectionID:  q.Get("connection_id"),
		Limit:         queryInt(r, "limit", defaultHistoryLimit),
		Offset:        queryInt(r, "offset", 0),
	}

	if f.Limit < 1 || f.Limit > maxHistoryLimit {
		f.Limit = defaultHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	if raw := q.Get("is_malicious"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, err
		}
		f.IsMalicious = &v
	}
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, err
		}
		f.StartTime = &t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, err
		}
		f.EndTime = &t
	}
	return f, nil
}
