// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package heuristic holds the malicious-traffic policy check. It is a
// deliberately narrow, replaceable classifier, not a detection engine:
// one synchronous call per event, no I/O.
package heuristic

import (
	"grimm.is/nautscan/internal/event"
)

// DefaultCategory is reported for every heuristic match.
const DefaultCategory = "suspicious_traffic"

// Config lists the port numbers and TCP flag combinations that mark a
// frame as suspicious.
type Config struct {
	SuspiciousPorts []int    `json:"suspicious_ports"`
	SuspiciousFlags []string `json:"suspicious_flags"`
}

// DefaultConfig returns the built-in suspicious port and flag sets.
func DefaultConfig() Config {
	return Config{
		SuspiciousPorts: []int{4444, 31337, 8080},
		SuspiciousFlags: []string{"RST,ACK", "SYN,RST"},
	}
}

// Detector classifies packet events against configured indicator sets.
type Detector struct {
	ports map[int]struct{}
	flags map[string]struct{}
}

// NewDetector builds a detector from the given configuration.
func NewDetector(cfg Config) *Detector {
	d := &Detector{
		ports: make(map[int]struct{}, len(cfg.SuspiciousPorts)),
		flags: make(map[string]struct{}, len(cfg.SuspiciousFlags)),
	}
	for _, p := range cfg.SuspiciousPorts {
		d.ports[p] = struct{}{}
	}
	for _, f := range cfg.SuspiciousFlags {
		d.flags[f] = struct{}{}
	}
	return d
}

// Classify reports whether the event matches a suspicious indicator and,
// if so, the threat category.
func (d *Detector) Classify(ev *event.PacketEvent) (bool, string) {
	if ev.SourcePort != nil {
		if _, ok := d.ports[*ev.SourcePort]; ok {
			return true, DefaultCategory
		}
	}
	if ev.DestinationPort != nil {
		if _, ok := d.ports[*ev.DestinationPort]; ok {
			return true, DefaultCategory
		}
	}
	if ev.Flags != nil {
		if _, ok := d.flags[*ev.Flags]; ok {
			return true, DefaultCategory
		}
	}
	return false, ""
}
