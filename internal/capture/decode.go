// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/nautscan/internal/event"
)

// payloadExcerptLimit bounds the hex payload excerpt stored per event.
const payloadExcerptLimit = 100

// wellKnownPorts maps ports to the application protocol inferred for
// traffic on either side. Inference is strictly port-based; there is no
// payload inspection.
var wellKnownPorts = map[int]string{
	21:   "FTP",
	22:   "SSH",
	25:   "SMTP",
	53:   "DNS",
	80:   "HTTP",
	110:  "POP3",
	143:  "IMAP",
	443:  "HTTPS",
	3389: "RDP",
}

// decodeFrame turns one raw frame into a PacketEvent. Frames without an
// IP layer return nil, as do IPv6 frames when IPv6 capture is disabled.
func decodeFrame(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo, settings event.CaptureSettings) *event.PacketEvent {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)

	ev := event.PacketEvent{
		ID:       uuid.NewString(),
		Protocol: event.ProtocolOther,
		Length:   ci.Length,
	}
	if ev.Length == 0 {
		ev.Length = len(data)
	}
	ev.Timestamp = ci.Timestamp
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		ev.IPVersion = event.IPv4
		ev.SourceIP = ip.SrcIP.String()
		ev.DestinationIP = ip.DstIP.String()
		ttl := int(ip.TTL)
		ev.TTL = &ttl
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		if !settings.EnableIPv6 {
			return nil
		}
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		ev.IPVersion = event.IPv6
		ev.SourceIP = ip.SrcIP.String()
		ev.DestinationIP = ip.DstIP.String()
		hops := int(ip.HopLimit)
		ev.TTL = &hops
	default:
		return nil
	}

	// Transport classification by layer presence: TCP > UDP > ICMP > Other.
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		ev.Protocol = event.ProtocolTCP
		src, dst := int(tcp.SrcPort), int(tcp.DstPort)
		ev.SourcePort = &src
		ev.DestinationPort = &dst
		if flags := tcpFlags(tcp); flags != "" {
			ev.Flags = &flags
		}
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		ev.Protocol = event.ProtocolUDP
		src, dst := int(udp.SrcPort), int(udp.DstPort)
		ev.SourcePort = &src
		ev.DestinationPort = &dst
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
		ev.Protocol = event.ProtocolICMP
	}

	if app := applicationProtocol(ev.SourcePort, ev.DestinationPort); app != "" {
		ev.ApplicationProtocol = &app
	}

	if settings.StoreRawPackets {
		raw := make([]byte, len(data))
		copy(raw, data)
		ev.RawPacket = raw
		if app := packet.ApplicationLayer(); app != nil && len(app.Payload()) > 0 {
			payload := app.Payload()
			if len(payload) > payloadExcerptLimit {
				payload = payload[:payloadExcerptLimit]
			}
			excerpt := hex.EncodeToString(payload)
			ev.PayloadExcerpt = &excerpt
		}
	}

	return &ev
}

// tcpFlags renders the flag bitmask in FIN SYN RST PSH ACK URG order.
func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	if tcp.FIN {
		flags = append(flags, "FIN")
	}
	if tcp.SYN {
		flags = append(flags, "SYN")
	}
	if tcp.RST {
		flags = append(flags, "RST")
	}
	if tcp.PSH {
		flags = append(flags, "PSH")
	}
	if tcp.ACK {
		flags = append(flags, "ACK")
	}
	if tcp.URG {
		flags = append(flags, "URG")
	}
	return strings.Join(flags, ",")
}

func applicationProtocol(srcPort, dstPort *int) string {
	if dstPort != nil {
		if app, ok := wellKnownPorts[*dstPort]; ok {
			return app
		}
	}
	if srcPort != nil {
		if app, ok := wellKnownPorts[*srcPort]; ok {
			return app
		}
	}
	return ""
}
