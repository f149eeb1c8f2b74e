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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/wire"
	"github.com/fleetmesh/v2x/xobserver"
)

// ErrStopped is returned by Alloc and Send once the NIC has been stopped.
var ErrStopped = errors.New("nic: stopped")

// Config configures a NIC's buffer pool and MTU.
type Config struct {
	SendBuffers    int
	ReceiveBuffers int
	MTU            int
}

// DefaultConfig returns the default buffer pool sizing and MTU.
func DefaultConfig() Config {
	return Config{
		SendBuffers:    DefaultSendBuffers,
		ReceiveBuffers: DefaultReceiveBuffers,
		MTU:            wire.DefaultMTU,
	}
}

// NIC owns the buffer pool, drives the engine's receive callback, and
// publishes received frames to the Conditional observer fabric keyed by
// ether-type.
type NIC struct {
	engine Engine
	cfg    Config

	sem  chan struct{}
	mu   sync.Mutex
	free []*Buffer
	pool []Buffer

	observers *xobserver.Subject
	running   atomic.Bool

	packetsSent atomic.Int64
	txDrops     atomic.Int64
	rxDrops     atomic.Int64
}

// New constructs a NIC over engine with cfg's buffer pool sizing.
func New(engine Engine, cfg Config) *NIC {
	n := cfg.SendBuffers + cfg.ReceiveBuffers
	nic := &NIC{
		engine:    engine,
		cfg:       cfg,
		sem:       make(chan struct{}, n),
		pool:      make([]Buffer, n),
		observers: xobserver.NewSubject(),
	}
	for i := range nic.pool {
		nic.free = append(nic.free, &nic.pool[i])
		nic.sem <- struct{}{}
	}
	return nic
}

// Observers exposes the Subject frames are published to, keyed by
// ether-type, so the Protocol layer can attach itself.
func (n *NIC) Observers() *xobserver.Subject {
	return n.observers
}

// MACAddress returns the underlying engine's hardware address.
func (n *NIC) MACAddress() wire.PhysicalAddress {
	return n.engine.MACAddress()
}

// MTU returns the configured frame MTU.
func (n *NIC) MTU() int {
	return n.cfg.MTU
}

// FreeCount returns the number of buffers currently available in the pool.
// Used by tests to assert property P1 (buffer conservation) at quiescence.
func (n *NIC) FreeCount() int {
	return len(n.sem)
}

// Start begins receiving frames from the engine.
func (n *NIC) Start() error {
	n.running.Store(true)
	return n.engine.Start(n.handle)
}

// Stop unblocks any pending Alloc calls and stops the engine.
func (n *NIC) Stop() error {
	n.running.Store(false)
	capacity := cap(n.sem)
	for i := 0; i < capacity; i++ {
		select {
		case n.sem <- struct{}{}:
		default:
		}
	}
	return n.engine.Stop()
}

func (n *NIC) allocBuffer() *Buffer {
	if !n.running.Load() {
		return nil
	}
	<-n.sem
	n.mu.Lock()
	if len(n.free) == 0 {
		n.mu.Unlock()
		// Stop() over-posted the semaphore to unblock waiters; nothing to
		// hand out.
		return nil
	}
	buf := n.free[len(n.free)-1]
	n.free = n.free[:len(n.free)-1]
	n.mu.Unlock()
	return buf
}

func (n *NIC) freeBuffer(buf *Buffer) {
	buf.reset()
	n.mu.Lock()
	n.free = append(n.free, buf)
	n.mu.Unlock()
	select {
	case n.sem <- struct{}{}:
	default:
		// Stop() already topped the semaphore up to capacity.
	}
}

// Free returns buf to the pool. Every buffer handed to an observer via
// Notify must eventually be passed here exactly once.
func (n *NIC) Free(buf *Buffer) {
	n.freeBuffer(buf)
}

// Alloc reserves a buffer and pre-fills the frame header. Returns nil if the
// NIC is stopped.
func (n *NIC) Alloc(dst wire.PhysicalAddress, etherType uint16, payloadSize int) *Buffer {
	buf := n.allocBuffer()
	if buf == nil {
		return nil
	}
	buf.Frame = &wire.Frame{
		Dst:       dst,
		Src:       n.engine.MACAddress(),
		EtherType: etherType,
		Payload:   make([]byte, payloadSize),
	}
	return buf
}

// Send writes the TX hardware timestamp into the packet at the fixed offset
// the MAC excludes, hands the frame to the engine, and always frees buf
// before returning.
func (n *NIC) Send(buf *Buffer, packetSize int) (int, error) {
	defer n.freeBuffer(buf)

	if !n.running.Load() {
		n.txDrops.Add(1)
		return 0, ErrStopped
	}
	if packetSize > len(buf.Frame.Payload) {
		n.txDrops.Add(1)
		return 0, errors.New("nic: packetSize exceeds allocated buffer")
	}

	ts := time.Now().UnixMicro()
	if err := wire.StampTxTimestamp(buf.Frame.Payload[:packetSize], ts); err != nil {
		n.txDrops.Add(1)
		return 0, err
	}

	raw := buf.Frame.Encode()
	written, err := n.engine.Send(raw)
	if err != nil || written == 0 {
		n.txDrops.Add(1)
		if err == nil {
			err = errors.New("nic: engine wrote 0 bytes")
		}
		return 0, err
	}
	n.packetsSent.Add(1)
	return written, nil
}

// handle is the engine's receive callback.
func (n *NIC) handle(raw []byte) {
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		n.rxDrops.Add(1)
		return
	}
	if frame.Src == n.engine.MACAddress() {
		return
	}
	if len(frame.Payload) == 0 {
		n.rxDrops.Add(1)
		return
	}

	buf := n.allocBuffer()
	if buf == nil {
		n.rxDrops.Add(1)
		return
	}
	buf.Frame = frame
	buf.RxTimestamp = time.Now().UnixMicro()

	if p, err := wire.DecodePacket(frame.Payload); err == nil {
		latency := buf.RxTimestamp - p.Timestamps.TxTimestamp
		logrus.Tracef("nic: rx latency %dus from %s", latency, frame.Src)
	}

	if !n.observers.Notify(frame.EtherType, buf) {
		n.freeBuffer(buf)
	}
}

// PacketsSent returns the count of successfully transmitted packets.
func (n *NIC) PacketsSent() int64 { return n.packetsSent.Load() }

// TxDrops returns the count of send-side failures.
func (n *NIC) TxDrops() int64 { return n.txDrops.Load() }

// RxDrops returns the count of receive-side failures (malformed frame,
// empty payload, pool exhaustion). Frames from this NIC's own MAC are
// dropped without being counted.
func (n *NIC) RxDrops() int64 { return n.rxDrops.Load() }
