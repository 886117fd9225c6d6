// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/event"
)

const (
	snapshotLen = 65535

	// batchTimeout bounds every read on the capture handle so the stop
	// signal and capture limits are polled at bounded latency. Never use
	// pcap.BlockForever here.
	batchTimeout = 500 * time.Millisecond
)

// ErrReadTimeout is returned by a FrameSource when no frame arrived
// within the batch timeout. The capture loop treats it as a normal poll.
var ErrReadTimeout = pcap.NextErrorTimeoutExpired

// FrameSource yields raw frames. *pcap.Handle satisfies it; tests supply
// synthetic sources.
type FrameSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// OpenFunc opens a frame source for the given settings. Replaceable for
// tests.
type OpenFunc func(settings event.CaptureSettings) (FrameSource, error)

// openLive opens a pcap handle on the configured interface.
func openLive(settings event.CaptureSettings) (FrameSource, error) {
	iface := settings.Interface
	if iface == "" {
		iface = "any"
	}

	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCaptureBackend, "failed to create handle for %s", iface)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapshotLen); err != nil {
		return nil, errors.Wrap(err, errors.KindCaptureBackend, "failed to set snap length")
	}
	if err := inactive.SetPromisc(settings.Promiscuous); err != nil {
		return nil, errors.Wrap(err, errors.KindCaptureBackend, "failed to set promiscuous mode")
	}
	if err := inactive.SetTimeout(batchTimeout); err != nil {
		return nil, errors.Wrap(err, errors.KindCaptureBackend, "failed to set batch timeout")
	}
	if settings.Monitor {
		if err := inactive.SetRFMon(true); err != nil {
			return nil, errors.Wrap(err, errors.KindCaptureBackend, "failed to set monitor mode")
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCaptureBackend, "failed to open %s", iface)
	}

	if settings.Filter != "" {
		if err := handle.SetBPFFilter(settings.Filter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, errors.KindCaptureBackend, "failed to set filter %q", settings.Filter)
		}
	}
	return handle, nil
}

// Interfaces enumerates capture-capable devices on the host.
func Interfaces() ([]pcap.Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCaptureBackend, "failed to enumerate interfaces")
	}
	return devs, nil
}
