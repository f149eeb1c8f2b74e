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

package statusmanager

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

// pairEngine wires two NICs together point-to-point, delivering everything
// one side sends straight to the other's handler, simulating a shared
// broadcast medium of exactly two peers.
type pairEngine struct {
	mu      sync.Mutex
	mac     wire.PhysicalAddress
	peer    *pairEngine
	handler nic.FrameHandler
}

func (e *pairEngine) Start(h nic.FrameHandler) error {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return nil
}
func (e *pairEngine) Stop() error { return nil }
func (e *pairEngine) Send(raw []byte) (int, error) {
	e.peer.mu.Lock()
	h := e.peer.handler
	e.peer.mu.Unlock()
	if h != nil {
		h(raw)
	}
	return len(raw), nil
}
func (e *pairEngine) MACAddress() wire.PhysicalAddress { return e.mac }

func newTestManager(t *testing.T, mac byte, period time.Duration) (*Manager, *leaderkey.Storage, *pairEngine) {
	t.Helper()
	eng := &pairEngine{mac: wire.PhysicalAddress{mac}}
	n := nic.New(eng, nic.Config{SendBuffers: 8, ReceiveBuffers: 8, MTU: wire.DefaultMTU})
	require.NoError(t, n.Start())
	storage := leaderkey.New()
	clk := ptpclock.New(storage)
	loc := location.NewService()
	protocol := v2xproto.New(n, clk, loc, storage, v2xproto.Config{Self: eng.mac, Entity: v2xproto.EntityVehicle, Radius: 1000})

	key := wire.Key{mac}
	m := New(protocol, storage, Config{
		Self:            wire.ProtocolAddress{Phys: eng.mac, Port: 3},
		Key:             key,
		BroadcastPeriod: period,
		StaleTimeout:    time.Second,
	})
	return m, storage, eng
}

func TestElectsHighestAgeAsLeader(t *testing.T) {
	a, aStorage, _ := newTestManager(t, 1, time.Hour)
	base := time.Now()
	a.Now = func() time.Time { return base }
	a.started = base

	a.observe(wire.ProtocolAddress{Phys: wire.PhysicalAddress{2}, Port: 3}, int64(10*time.Second), wire.Key{2})
	a.pruneAndElect()

	leader, key := aStorage.Leader()
	require.Equal(t, wire.PhysicalAddress{2}, leader)
	require.Equal(t, wire.Key{2}, key)
}

func TestTieBreaksOnLexicographicMaxKey(t *testing.T) {
	a, aStorage, _ := newTestManager(t, 1, time.Hour)
	base := time.Now()
	a.Now = func() time.Time { return base }
	a.started = base
	a.key = wire.Key{1}

	a.observe(wire.ProtocolAddress{Phys: wire.PhysicalAddress{2}, Port: 3}, 0, wire.Key{2})

	a.pruneAndElect()

	leader, key := aStorage.Leader()
	require.Equal(t, wire.PhysicalAddress{2}, leader)
	require.Equal(t, wire.Key{2}, key)
}

func TestStartBroadcastsAndPopulatesPeerTable(t *testing.T) {
	a, _, aEng := newTestManager(t, 1, 5*time.Millisecond)
	b, _, bEng := newTestManager(t, 2, 5*time.Millisecond)
	aEng.peer = bEng
	bEng.peer = aEng

	a.Start()
	defer a.Stop()
	b.Start()
	defer b.Stop()

	require.Eventually(t, func() bool {
		_, ok := a.KnownPeers()[wire.ProtocolAddress{Phys: wire.PhysicalAddress{2}, Port: 3}]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestPruneRemovesStalePeerAndFallsBackToSelf(t *testing.T) {
	a, aStorage, _ := newTestManager(t, 1, time.Hour)
	base := time.Now()
	a.Now = func() time.Time { return base }
	a.started = base

	a.observe(wire.ProtocolAddress{Phys: wire.PhysicalAddress{2}, Port: 3}, int64(999*time.Second), wire.Key{9})
	a.pruneAndElect()

	leader, _ := aStorage.Leader()
	require.Equal(t, wire.PhysicalAddress{2}, leader)

	a.Now = func() time.Time { return base.Add(2 * time.Hour) }
	a.pruneAndElect()

	leader, _ = aStorage.Leader()
	require.Equal(t, wire.PhysicalAddress{1}, leader)
	require.Empty(t, a.KnownPeers())
}
