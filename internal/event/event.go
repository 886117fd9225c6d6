// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package event defines the packet event data model shared by the capture
// pipeline, the persistence layer and the broadcast hub.
package event

import (
	"time"
)

// Protocol identifies the transport layer of a captured frame.
type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolICMP  Protocol = "ICMP"
	ProtocolOther Protocol = "Other"
)

// IPVersion identifies the network layer of a captured frame.
type IPVersion string

const (
	IPv4 IPVersion = "IPv4"
	IPv6 IPVersion = "IPv6"
)

// PacketEvent is one decoded network frame with classification metadata.
// Ports and flags are pointers because they do not exist for every
// transport (ICMP has no ports, only TCP has flags).
//
// Invariant: IsMalicious implies ExpireAt == nil. Malicious events are
// retained forever; everything else is eligible for housekeeping once
// ExpireAt has passed.
type PacketEvent struct {
	ID                  string     `json:"id"`
	Timestamp           time.Time  `json:"timestamp"`
	SourceIP            string     `json:"source_ip"`
	SourcePort          *int       `json:"source_port,omitempty"`
	SourceDeviceName    *string    `json:"source_device_name,omitempty"`
	DestinationIP       string     `json:"destination_ip"`
	DestinationPort     *int       `json:"destination_port,omitempty"`
	DestinationDevName  *string    `json:"destination_device_name,omitempty"`
	Protocol            Protocol   `json:"protocol"`
	IPVersion           IPVersion  `json:"protocol_version"`
	Length              int        `json:"length"`
	TTL                 *int       `json:"ttl,omitempty"`
	Flags               *string    `json:"flags,omitempty"`
	ApplicationProtocol *string    `json:"application_protocol,omitempty"`
	PayloadExcerpt      *string    `json:"payload_excerpt,omitempty"`
	RawPacket           []byte     `json:"raw_packet,omitempty"`
	IsMalicious         bool       `json:"is_malicious"`
	ThreatCategory      *string    `json:"threat_category,omitempty"`
	ConfidenceScore     *float64   `json:"confidence_score,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
	ConnectionID        *string    `json:"connection_id,omitempty"`
	ExpireAt            *time.Time `json:"expire_at,omitempty"`
}

// CaptureLimit bounds a capture run by packet count and/or duration.
type CaptureLimit struct {
	Enabled  bool          `json:"enabled"`
	Packets  int           `json:"packets"`
	Duration time.Duration `json:"duration"`
}

// CaptureSettings configures a capture session. All fields may be updated
// while capture is running; the capture loop observes changes at the start
// of its next batch iteration.
type CaptureSettings struct {
	Interface       string       `json:"interface"` // "" or "any" captures on all interfaces
	Filter          string       `json:"filter"`
	Promiscuous     bool         `json:"promiscuous"`
	Monitor         bool         `json:"monitor"`
	EnableIPv6      bool         `json:"enable_ipv6"`
	MaxPackets      int          `json:"max_packets"`
	CaptureLimit    CaptureLimit `json:"capture_limit"`
	StoreRawPackets bool         `json:"store_raw_packets"`
	SaveToDatabase  bool         `json:"save_to_database"`
}

// DefaultCaptureSettings mirrors the daemon's out-of-the-box behavior.
func DefaultCaptureSettings() CaptureSettings {
	return CaptureSettings{
		Interface:   "",
		Filter:      "tcp or udp",
		Promiscuous: true,
		EnableIPv6:  true,
		MaxPackets:  1000,
		CaptureLimit: CaptureLimit{
			Enabled:  false,
			Packets:  10000,
			Duration: 5 * time.Minute,
		},
		StoreRawPackets: false,
		SaveToDatabase:  true,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	Interface       *string       `json:"interface,omitempty"`
	Filter          *string       `json:"filter,omitempty"`
	Promiscuous     *bool         `json:"promiscuous,omitempty"`
	Monitor         *bool         `json:"monitor,omitempty"`
	EnableIPv6      *bool         `json:"enable_ipv6,omitempty"`
	MaxPackets      *int          `json:"max_packets,omitempty"`
	CaptureLimit    *CaptureLimit `json:"capture_limit,omitempty"`
	StoreRawPackets *bool         `json:"store_raw_packets,omitempty"`
	SaveToDatabase  *bool         `json:"save_to_database,omitempty"`
}

// Apply merges the patch into settings and returns the result.
func (p SettingsPatch) Apply(s CaptureSettings) CaptureSettings {
	if p.Interface != nil {
		s.Interface = *p.Interface
	}
	if p.Filter != nil {
		s.Filter = *p.Filter
	}
	if p.Promiscuous != nil {
		s.Promiscuous = *p.Promiscuous
	}
	if p.Monitor != nil {
		s.Monitor = *p.Monitor
	}
	if p.EnableIPv6 != nil {
		s.EnableIPv6 = *p.EnableIPv6
	}
	if p.MaxPackets != nil {
		s.MaxPackets = *p.MaxPackets
	}
	if p.CaptureLimit != nil {
		s.CaptureLimit = *p.CaptureLimit
	}
	if p.StoreRawPackets != nil {
		s.StoreRawPackets = *p.StoreRawPackets
	}
	if p.SaveToDatabase != nil {
		s.SaveToDatabase = *p.SaveToDatabase
	}
	return s
}

// TrafficStats holds counters aggregated since capture start. Rates are
// computed on demand from the running counters, never replayed from
// history.
type TrafficStats struct {
	TotalPackets     int64     `json:"total_packets"`
	TCPPackets       int64     `json:"tcp_packets"`
	UDPPackets       int64     `json:"udp_packets"`
	ICMPPackets      int64     `json:"icmp_packets"`
	OtherPackets     int64     `json:"other_packets"`
	BytesReceived    int64     `json:"bytes_received"`
	PacketsPerSecond float64   `json:"packets_per_second"`
	BytesPerSecond   float64   `json:"bytes_per_second"`
	IsCapturing      bool      `json:"is_capturing"`
	StartTime        time.Time `json:"start_time,omitzero"`
}

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Alert is pushed to the alerts channel when the heuristic flags a frame.
type Alert struct {
	ID        string       `json:"id"`
	Level     AlertLevel   `json:"level"`
	Category  string       `json:"category"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Event     *PacketEvent `json:"event,omitempty"`
}
