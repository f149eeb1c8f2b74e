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

package rsumanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/location"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/wire"
)

func addr(id byte, port uint16) wire.ProtocolAddress {
	return wire.ProtocolAddress{Phys: wire.PhysicalAddress{0, 0, 0, 0, 0, id}, Port: port}
}

func TestProcessRSUStatusSelectsClosestLeader(t *testing.T) {
	loc := location.NewService()
	loc.SetCurrentCoordinates(0, 0)
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{})

	m.ProcessRSUStatus(addr(1, 1), 100, 0, 50, wire.Key{1})
	require.True(t, m.HasAnyKnownRSU())
	leader, ok := m.CurrentLeaderAddress()
	require.True(t, ok)
	require.Equal(t, addr(1, 1).Phys, leader)

	m.ProcessRSUStatus(addr(2, 1), 10, 0, 50, wire.Key{2})
	leader, ok = m.CurrentLeaderAddress()
	require.True(t, ok)
	require.Equal(t, addr(2, 1).Phys, leader)

	leaderAddr, leaderKey := storage.Leader()
	require.Equal(t, addr(2, 1).Phys, leaderAddr)
	require.Equal(t, wire.Key{2}, leaderKey)
	require.Equal(t, int16(2), clock.GetCurrentLeader())
}

func TestProcessRSUStatusUpdatesExistingRecord(t *testing.T) {
	loc := location.NewService()
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{})

	m.ProcessRSUStatus(addr(1, 1), 100, 0, 50, wire.Key{1})
	m.ProcessRSUStatus(addr(1, 1), 5, 0, 50, wire.Key{9})

	known := m.KnownRSUs()
	require.Len(t, known, 1)
	require.Equal(t, wire.Key{9}, known[0].Key)
	require.Equal(t, wire.Key{9}, m.KnownKeys()[0])
}

func TestProcessRSUStatusRemovesMatchingNeighborKey(t *testing.T) {
	loc := location.NewService()
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{})

	m.AddNeighborKey(wire.Key{5})
	require.Len(t, m.NeighborKeys(), 1)

	m.ProcessRSUStatus(addr(1, 1), 0, 0, 50, wire.Key{5})
	require.Empty(t, m.NeighborKeys())
}

func TestAddNeighborKeyDeduplicates(t *testing.T) {
	loc := location.NewService()
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{})

	m.AddNeighborKey(wire.Key{1})
	m.AddNeighborKey(wire.Key{1})
	require.Len(t, m.NeighborKeys(), 1)
}

func TestCurrentLeaderAddressEmptyWithNoKnownRSU(t *testing.T) {
	loc := location.NewService()
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{})

	_, ok := m.CurrentLeaderAddress()
	require.False(t, ok)
}

func TestPruneStaleRemovesOldRecordsAndReselectsLeader(t *testing.T) {
	loc := location.NewService()
	storage := leaderkey.New()
	clock := ptpclock.New(storage)
	m := New(loc, storage, clock, Config{StaleTimeout: time.Minute})

	base := time.Unix(1000, 0)
	m.Now = func() time.Time { return base }
	m.ProcessRSUStatus(addr(1, 1), 0, 0, 50, wire.Key{1})

	m.Now = func() time.Time { return base.Add(2 * time.Minute) }
	m.pruneStale()

	require.False(t, m.HasAnyKnownRSU())
	_, ok := m.CurrentLeaderAddress()
	require.False(t, ok)
}
