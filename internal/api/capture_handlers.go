// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"grimm.is/nautscan/internal/event"
)

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	var patch *event.SettingsPatch
	if r.ContentLength != 0 {
		var p event.SettingsPatch
		if !BindJSON(w, r, &p) {
			return
		}
		patch = &p
	}
	if patch != nil && patch.MaxPackets != nil && *patch.MaxPackets < 1 {
		WriteError(w, http.StatusBadRequest, "max_packets must be positive")
		return
	}

	if err := s.engine.Start(patch); err != nil {
		WriteKindError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	WriteJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch event.SettingsPatch
	if !BindJSON(w, r, &patch) {
		return
	}
	if patch.MaxPackets != nil && *patch.MaxPackets < 1 {
		WriteError(w, http.StatusBadRequest, "max_packets must be positive")
		return
	}
	WriteJSON(w, http.StatusOK, s.engine.UpdateSettings(patch))
}

func (s *Server) handleCaptureStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleRecentPackets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 {
		WriteError(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	packets := s.engine.Recent(limit)
	WriteJSON(w, http.StatusOK, map[string]any{
		"packets": packets,
		"count":   len(packets),
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
