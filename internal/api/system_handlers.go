// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"grimm.is/nautscan/internal/capture"
)

type interfaceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// handleInterfaces enumerates capture-capable network interfaces.
func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	devs, err := capture.Interfaces()
	if err != nil {
		WriteKindError(w, err)
		return
	}

	infos := make([]interfaceInfo, 0, len(devs))
	for _, dev := range devs {
		info := interfaceInfo{Name: dev.Name, Description: dev.Description}
		for _, addr := range dev.Addresses {
			if addr.IP != nil {
				info.Addresses = append(info.Addresses, addr.IP.String())
			}
		}
		infos = append(infos, info)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"interfaces": infos,
		"count":      len(infos),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"capture": s.engine.State(),
	})
}
