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

// Package rsumanager implements the vehicle-side VehicleRSUManager: the
// known-RSU table, distance-ranked leader selection, and the neighbor-key
// cache fed by REQ/KEY_RESPONSE escalation.
package rsumanager

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/geo"
	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/location"
	"github.com/fleetmesh/v2x/periodic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/wire"
)

// DefaultStaleTimeout is the age at which a known-RSU record is pruned.
const DefaultStaleTimeout = 10 * time.Second

// DefaultPruneInterval is how often the stale-prune task runs.
const DefaultPruneInterval = 5 * time.Second

// KnownRSU is a vehicle's record of one RSU it has heard a STATUS from.
type KnownRSU struct {
	Address  wire.ProtocolAddress
	X, Y     float64
	Radius   float64
	Key      wire.Key
	LastSeen time.Time
	Distance float64
}

// Manager is the vehicle-side VehicleRSUManager (C7).
type Manager struct {
	location *location.Service
	storage  *leaderkey.Storage
	clock    *ptpclock.Clock

	staleTimeout time.Duration
	geographic   bool

	mu     sync.Mutex
	known  []*KnownRSU
	leader *KnownRSU

	neighborMu   sync.Mutex
	neighborKeys []wire.Key

	prune *periodic.Task

	// Now returns the current steady-clock time. Overridable for tests.
	Now func() time.Time
}

// Config configures a Manager.
type Config struct {
	// StaleTimeout is the age after which a known-RSU record is pruned.
	// Zero selects DefaultStaleTimeout.
	StaleTimeout time.Duration
	// Geographic selects Haversine (lat/lon) distance instead of the
	// default Euclidean (Cartesian) distance for leader ranking.
	Geographic bool
}

// New constructs a Manager. Call Start to launch the stale-prune task.
func New(loc *location.Service, storage *leaderkey.Storage, clock *ptpclock.Clock, cfg Config) *Manager {
	timeout := cfg.StaleTimeout
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	m := &Manager{
		location:     loc,
		storage:      storage,
		clock:        clock,
		staleTimeout: timeout,
		geographic:   cfg.Geographic,
		Now:          time.Now,
	}
	m.prune = periodic.New(m.pruneStale)
	return m
}

// Start launches the periodic stale-record prune task at DefaultPruneInterval.
func (m *Manager) Start() {
	m.prune.Start(DefaultPruneInterval)
}

// Stop terminates the prune task.
func (m *Manager) Stop() {
	m.prune.Stop()
}

// ProcessRSUStatus implements 4.7: merge a STATUS observation into the
// known-RSU table and re-run leader selection.
func (m *Manager) ProcessRSUStatus(addr wire.ProtocolAddress, x, y, radius float64, key wire.Key) {
	m.removeNeighborKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	for _, r := range m.known {
		if r.Address == addr {
			r.X, r.Y, r.Radius, r.Key = x, y, radius, key
			r.LastSeen = now
			m.updateLeaderSelectionLocked()
			return
		}
	}
	m.known = append(m.known, &KnownRSU{Address: addr, X: x, Y: y, Radius: radius, Key: key, LastSeen: now})
	m.updateLeaderSelectionLocked()
}

// updateLeaderSelectionLocked implements 4.7's update_leader_selection. Must
// be called with mu held.
func (m *Manager) updateLeaderSelectionLocked() {
	if len(m.known) == 0 {
		m.leader = nil
		return
	}

	x, y := m.location.CurrentCoordinates(m.Now().UnixMilli())
	for _, r := range m.known {
		if m.geographic {
			r.Distance = geo.HaversineDistance(y, x, r.Y, r.X)
		} else {
			r.Distance = geo.EuclideanDistance(x, y, r.X, r.Y)
		}
	}

	sort.Slice(m.known, func(i, j int) bool { return m.known[i].Distance < m.known[j].Distance })
	newLeader := m.known[0]

	if m.leader == nil || m.leader.Address != newLeader.Address {
		m.leader = newLeader
		m.storage.Set(newLeader.Address.Phys, newLeader.Key)
		if m.clock != nil {
			m.clock.SetSelfID(newLeader.Address.Phys.LastByte())
			m.clock.Activate(nil)
		}
		logrus.Debugf("rsumanager: leader changed to %s (distance %.2f)", newLeader.Address, newLeader.Distance)
	}
}

// pruneStale removes known-RSU records older than staleTimeout and re-runs
// leader selection if anything was removed.
func (m *Manager) pruneStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	kept := m.known[:0]
	removed := false
	for _, r := range m.known {
		if now.Sub(r.LastSeen) > m.staleTimeout {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	m.known = kept
	if removed {
		m.updateLeaderSelectionLocked()
	}
}

func (m *Manager) removeNeighborKey(key wire.Key) {
	m.neighborMu.Lock()
	defer m.neighborMu.Unlock()
	for i, k := range m.neighborKeys {
		if k == key {
			m.neighborKeys = append(m.neighborKeys[:i], m.neighborKeys[i+1:]...)
			return
		}
	}
}

// AddNeighborKey caches a key learned from a KEY_RESPONSE, deduplicated.
func (m *Manager) AddNeighborKey(key wire.Key) {
	m.neighborMu.Lock()
	defer m.neighborMu.Unlock()
	for _, k := range m.neighborKeys {
		if k == key {
			return
		}
	}
	m.neighborKeys = append(m.neighborKeys, key)
}

// NeighborKeys returns a snapshot of the cached neighbor-RSU keys.
func (m *Manager) NeighborKeys() []wire.Key {
	m.neighborMu.Lock()
	defer m.neighborMu.Unlock()
	return append([]wire.Key(nil), m.neighborKeys...)
}

// KnownKeys returns a snapshot of every known-RSU's key.
func (m *Manager) KnownKeys() []wire.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]wire.Key, len(m.known))
	for i, r := range m.known {
		keys[i] = r.Key
	}
	return keys
}

// HasAnyKnownRSU reports whether at least one RSU record is known.
func (m *Manager) HasAnyKnownRSU() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.known) > 0
}

// CurrentLeaderAddress returns the current leader's physical address, or
// false if no leader is selected.
func (m *Manager) CurrentLeaderAddress() (wire.PhysicalAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leader == nil {
		return wire.PhysicalAddress{}, false
	}
	return m.leader.Address.Phys, true
}

// KnownRSUs returns a snapshot of every known-RSU record, for diagnostics.
func (m *Manager) KnownRSUs() []KnownRSU {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KnownRSU, len(m.known))
	for i, r := range m.known {
		out[i] = *r
	}
	return out
}
