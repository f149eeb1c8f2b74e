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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/v2x/wire"
)

// fakeEngine is an in-memory Engine used for testing the NIC layer without
// a real network device.
type fakeEngine struct {
	mu      sync.Mutex
	mac     wire.PhysicalAddress
	sent    [][]byte
	handler FrameHandler
}

func newFakeEngine(mac wire.PhysicalAddress) *fakeEngine {
	return &fakeEngine{mac: mac}
}

func (f *fakeEngine) Start(handler FrameHandler) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Stop() error { return nil }

func (f *fakeEngine) Send(raw []byte) (int, error) {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), raw...))
	f.mu.Unlock()
	return len(raw), nil
}

func (f *fakeEngine) MACAddress() wire.PhysicalAddress { return f.mac }

// deliver simulates a frame arriving on the wire.
func (f *fakeEngine) deliver(raw []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(raw)
}

func testConfig() Config {
	return Config{SendBuffers: 4, ReceiveBuffers: 4, MTU: wire.DefaultMTU}
}

// TestBufferConservation is property P1: at quiescence, FreeCount equals
// SendBuffers+ReceiveBuffers.
func TestBufferConservation(t *testing.T) {
	eng := newFakeEngine(wire.PhysicalAddress{1})
	n := New(eng, testConfig())
	require.NoError(t, n.Start())
	require.Equal(t, 8, n.FreeCount())

	buf := n.Alloc(wire.PhysicalAddress{2}, wire.EtherType, wire.FixedPacketOverhead)
	require.NotNil(t, buf)
	require.Equal(t, 7, n.FreeCount())

	_, err := n.Send(buf, wire.FixedPacketOverhead)
	require.NoError(t, err)
	require.Equal(t, 8, n.FreeCount())
}

func TestAllocReturnsNilWhenStopped(t *testing.T) {
	eng := newFakeEngine(wire.PhysicalAddress{1})
	n := New(eng, testConfig())
	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())

	buf := n.Alloc(wire.PhysicalAddress{2}, wire.EtherType, 10)
	require.Nil(t, buf)
}

func TestHandleDropsOwnMAC(t *testing.T) {
	mac := wire.PhysicalAddress{1}
	eng := newFakeEngine(mac)
	n := New(eng, testConfig())
	require.NoError(t, n.Start())

	f := &wire.Frame{Dst: wire.BroadcastAddress, Src: mac, EtherType: wire.EtherType, Payload: []byte("x")}
	eng.deliver(f.Encode())

	require.Equal(t, int64(0), n.RxDrops())
	require.Equal(t, 8, n.FreeCount())
}

func TestHandleDropsEmptyPayload(t *testing.T) {
	eng := newFakeEngine(wire.PhysicalAddress{1})
	n := New(eng, testConfig())
	require.NoError(t, n.Start())

	f := &wire.Frame{Dst: wire.BroadcastAddress, Src: wire.PhysicalAddress{9}, EtherType: wire.EtherType}
	eng.deliver(f.Encode())

	require.Equal(t, int64(1), n.RxDrops())
}

func TestHandlePublishesToObserver(t *testing.T) {
	eng := newFakeEngine(wire.PhysicalAddress{1})
	n := New(eng, testConfig())
	require.NoError(t, n.Start())

	received := make(chan *Buffer, 1)
	sub := recordingObserverFunc(func(cond uint16, data any) {
		received <- data.(*Buffer)
	})
	n.Observers().Attach(wire.EtherType, sub)

	f := &wire.Frame{Dst: wire.BroadcastAddress, Src: wire.PhysicalAddress{9}, EtherType: wire.EtherType, Payload: []byte("hello")}
	eng.deliver(f.Encode())

	buf := <-received
	require.Equal(t, []byte("hello"), buf.Frame.Payload)
	n.Observers().Detach(wire.EtherType, sub)
}

func TestHandleFreesBufferWhenNoObserver(t *testing.T) {
	eng := newFakeEngine(wire.PhysicalAddress{1})
	n := New(eng, testConfig())
	require.NoError(t, n.Start())

	f := &wire.Frame{Dst: wire.BroadcastAddress, Src: wire.PhysicalAddress{9}, EtherType: wire.EtherType, Payload: []byte("hello")}
	eng.deliver(f.Encode())

	require.Equal(t, 8, n.FreeCount())
}

type recordingObserverFunc func(cond uint16, data any)

func (f recordingObserverFunc) Update(cond uint16, data any) { f(cond, data) }
