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

package comm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/location"
	"github.com/fleetmesh/v2x/nic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/v2xproto"
	"github.com/fleetmesh/v2x/wire"
)

// loopbackEngine discards everything it sends; deliver injects a raw frame
// into its receive handler as if another node on the same physical segment
// had sent it.
type loopbackEngine struct {
	mu      sync.Mutex
	mac     wire.PhysicalAddress
	handler nic.FrameHandler
}

func (e *loopbackEngine) Start(h nic.FrameHandler) error {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return nil
}
func (e *loopbackEngine) Stop() error                      { return nil }
func (e *loopbackEngine) Send([]byte) (int, error)         { return 0, nil }
func (e *loopbackEngine) MACAddress() wire.PhysicalAddress { return e.mac }

func (e *loopbackEngine) deliver(raw []byte) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	h(raw)
}

func newTestProtocol(t *testing.T) (*v2xproto.Protocol, *loopbackEngine) {
	t.Helper()
	mac := wire.PhysicalAddress{1}
	eng := &loopbackEngine{mac: mac}
	n := nic.New(eng, nic.Config{SendBuffers: 4, ReceiveBuffers: 4, MTU: wire.DefaultMTU})
	require.NoError(t, n.Start())
	storage := leaderkey.New()
	clk := ptpclock.New(storage)
	loc := location.NewService()
	p := v2xproto.New(n, clk, loc, storage, v2xproto.Config{Self: mac, Entity: v2xproto.EntityVehicle, Radius: 1000})
	return p, eng
}

func TestReceiveDeliversPublishedMessage(t *testing.T) {
	p, eng := newTestProtocol(t)
	c := New(p, wire.ProtocolAddress{Phys: wire.PhysicalAddress{1}, Port: 7}, 0)
	defer c.Release()

	msg := &wire.InterestMessage{
		MessageHeader: wire.MessageHeader{Type: wire.MessageInterest, Timestamp: time.Now().UnixMicro()},
		PeriodMicros:  1000,
	}
	payload, err := wire.Bytes(msg)
	require.NoError(t, err)

	header := wire.Header{FromPort: 7, ToPort: 7, Size: uint32(len(payload))}
	coords := wire.Coordinates{X: 0, Y: 0, Radius: 1000}
	pkt := &wire.Packet{Header: header, Coordinates: coords, Payload: payload}
	encoded, err := pkt.Encode()
	require.NoError(t, err)
	frame := &wire.Frame{Dst: wire.BroadcastAddress, Src: wire.PhysicalAddress{2}, EtherType: wire.EtherType, Payload: encoded}
	eng.deliver(frame.Encode())

	received, err := c.Receive()
	require.NoError(t, err)
	interest, ok := received.(*wire.InterestMessage)
	require.True(t, ok)
	require.Equal(t, int64(1000), interest.PeriodMicros)
}

func TestReleaseUnblocksReceive(t *testing.T) {
	p, _ := newTestProtocol(t)
	c := New(p, wire.ProtocolAddress{Phys: wire.PhysicalAddress{1}, Port: 7}, 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		done <- err
	}()

	c.Release()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrReleased)
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Release")
	}
}
