/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nic

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/wire"
)

const (
	pcapPromiscuous = false
	pcapSnapshotLen = 1600
	pcapReadTimeout = 10 * time.Millisecond
)

// PcapEngine is a concrete Engine backed by libpcap, sending and receiving
// raw Ethernet frames tagged with wire.EtherType on a named interface.
type PcapEngine struct {
	device string
	mac    wire.PhysicalAddress

	mu     sync.Mutex
	handle *pcap.Handle
	done   chan struct{}
}

// NewPcapEngine returns an engine bound to device, which must already have
// mac as its hardware address (PcapEngine does not look it up itself — the
// caller, typically a config loader, supplies it).
func NewPcapEngine(device string, mac wire.PhysicalAddress) *PcapEngine {
	return &PcapEngine{device: device, mac: mac}
}

// MACAddress implements Engine.
func (e *PcapEngine) MACAddress() wire.PhysicalAddress {
	return e.mac
}

// Start implements Engine: opens the interface, installs a BPF filter for
// this stack's ether-type, and runs the receive loop on its own goroutine
// until Stop is called.
func (e *PcapEngine) Start(handler FrameHandler) error {
	handle, err := pcap.OpenLive(e.device, pcapSnapshotLen, pcapPromiscuous, pcapReadTimeout)
	if err != nil {
		return fmt.Errorf("nic: opening device %q: %w", e.device, err)
	}
	filter := fmt.Sprintf("ether proto 0x%x", wire.EtherType)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("nic: setting BPF filter %q: %w", filter, err)
	}

	e.mu.Lock()
	e.handle = handle
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.receiveLoop(handle, handler)
	return nil
}

func (e *PcapEngine) receiveLoop(handle *pcap.Handle, handler FrameHandler) {
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()
	for {
		select {
		case <-e.done:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			handler(pkt.Data())
		}
	}
}

// Send implements Engine.
func (e *PcapEngine) Send(raw []byte) (int, error) {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle == nil {
		return 0, fmt.Errorf("nic: engine not started")
	}
	if err := handle.WritePacketData(raw); err != nil {
		return 0, fmt.Errorf("nic: write: %w", err)
	}
	return len(raw), nil
}

// Stop implements Engine.
func (e *PcapEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return nil
	}
	close(e.done)
	e.handle.Close()
	e.handle = nil
	logrus.Debugf("nic: pcap engine on %s stopped", e.device)
	return nil
}
