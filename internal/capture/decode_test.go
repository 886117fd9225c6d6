// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nautscan/internal/event"
)

var testMACSrc = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
var testMACDst = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func tcpFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort int, mutate func(*layers.TCP), payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testMACSrc, DstMAC: testMACDst, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true}
	if mutate != nil {
		tcp.SYN = false
		mutate(tcp)
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

func udpFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort int) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testMACSrc, DstMAC: testMACDst, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, udp, gopacket.Payload([]byte("query")))
}

func icmpFrame(t *testing.T, srcIP, dstIP string) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testMACSrc, DstMAC: testMACDst, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4(),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	return serialize(t, eth, ip, icmp)
}

func tcp6Frame(t *testing.T, srcIP, dstIP string, srcPort, dstPort int) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testMACSrc, DstMAC: testMACDst, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(srcIP), DstIP: net.ParseIP(dstIP),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func decode(data []byte, settings event.CaptureSettings) *event.PacketEvent {
	return decodeFrame(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{Length: len(data), CaptureLength: len(data)}, settings)
}

func TestDecodeFrame_TCP(t *testing.T) {
	data := tcpFrame(t, "10.0.0.5", "93.184.216.34", 51000, 443, func(tcp *layers.TCP) {
		tcp.SYN = true
		tcp.ACK = true
	}, nil)

	ev := decode(data, event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, event.ProtocolTCP, ev.Protocol)
	assert.Equal(t, event.IPv4, ev.IPVersion)
	assert.Equal(t, "10.0.0.5", ev.SourceIP)
	assert.Equal(t, "93.184.216.34", ev.DestinationIP)
	assert.Equal(t, 51000, *ev.SourcePort)
	assert.Equal(t, 443, *ev.DestinationPort)
	assert.Equal(t, 64, *ev.TTL)
	assert.Equal(t, "SYN,ACK", *ev.Flags)
	assert.Equal(t, "HTTPS", *ev.ApplicationProtocol)
	assert.Equal(t, len(data), ev.Length)
}

func TestDecodeFrame_FlagOrder(t *testing.T) {
	data := tcpFrame(t, "10.0.0.5", "10.0.0.6", 1234, 5678, func(tcp *layers.TCP) {
		tcp.FIN = true
		tcp.URG = true
		tcp.ACK = true
	}, nil)

	ev := decode(data, event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	// Always FIN SYN RST PSH ACK URG order, regardless of bit positions.
	assert.Equal(t, "FIN,ACK,URG", *ev.Flags)
}

func TestDecodeFrame_UDPWellKnownPort(t *testing.T) {
	ev := decode(udpFrame(t, "10.0.0.5", "8.8.8.8", 40000, 53), event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	assert.Equal(t, event.ProtocolUDP, ev.Protocol)
	assert.Equal(t, "DNS", *ev.ApplicationProtocol)
	assert.Nil(t, ev.Flags)
}

func TestDecodeFrame_SourcePortInference(t *testing.T) {
	// App protocol falls back to the source port when the destination is
	// ephemeral.
	ev := decode(tcpFrame(t, "93.184.216.34", "10.0.0.5", 443, 51000, nil, nil), event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	assert.Equal(t, "HTTPS", *ev.ApplicationProtocol)
}

func TestDecodeFrame_ICMPHasNoPorts(t *testing.T) {
	ev := decode(icmpFrame(t, "10.0.0.5", "10.0.0.1"), event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	assert.Equal(t, event.ProtocolICMP, ev.Protocol)
	assert.Nil(t, ev.SourcePort)
	assert.Nil(t, ev.DestinationPort)
	assert.Nil(t, ev.Flags)
	assert.Nil(t, ev.ApplicationProtocol)
}

func TestDecodeFrame_IPv6(t *testing.T) {
	ev := decode(tcp6Frame(t, "2001:db8::1", "2001:db8::2", 41000, 22), event.DefaultCaptureSettings())
	require.NotNil(t, ev)
	assert.Equal(t, event.IPv6, ev.IPVersion)
	assert.Equal(t, "2001:db8::1", ev.SourceIP)
	assert.Equal(t, "SSH", *ev.ApplicationProtocol)
	assert.Equal(t, 64, *ev.TTL)
}

func TestDecodeFrame_IPv6DisabledSkips(t *testing.T) {
	settings := event.DefaultCaptureSettings()
	settings.EnableIPv6 = false
	assert.Nil(t, decode(tcp6Frame(t, "2001:db8::1", "2001:db8::2", 41000, 22), settings))
}

func TestDecodeFrame_NonIPReturnsNil(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: testMACSrc, DstMAC: testMACDst, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: testMACSrc, SourceProtAddress: []byte{10, 0, 0, 5},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 1},
	}
	data := serialize(t, eth, arp)
	assert.Nil(t, decode(data, event.DefaultCaptureSettings()))
}

func TestDecodeFrame_PayloadExcerpt(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	settings := event.DefaultCaptureSettings()
	data := tcpFrame(t, "10.0.0.5", "10.0.0.6", 1234, 9999, func(tcp *layers.TCP) { tcp.PSH = true }, payload)

	// Raw retention disabled: no excerpt, no raw frame.
	ev := decode(data, settings)
	require.NotNil(t, ev)
	assert.Nil(t, ev.PayloadExcerpt)
	assert.Nil(t, ev.RawPacket)

	// Enabled: excerpt is bounded to 100 payload bytes, hex encoded.
	settings.StoreRawPackets = true
	ev = decode(data, settings)
	require.NotNil(t, ev)
	require.NotNil(t, ev.PayloadExcerpt)
	assert.Equal(t, hex.EncodeToString(payload[:payloadExcerptLimit]), *ev.PayloadExcerpt)
	assert.Equal(t, data, ev.RawPacket)
}
