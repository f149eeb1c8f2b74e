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

// Package leaderkey holds the process-wide {leader address, group key} pair
// that the Protocol layer signs and verifies RESPONSE messages against, and
// that Clock uses to identify the PTP master.
package leaderkey

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetmesh/v2x/wire"
)

// Storage holds the current leader's physical address and group key. All
// reads and writes are serialized by a single mutex; LastUpdate is exposed
// separately through an atomic so callers can poll it without contending on
// the main lock.
type Storage struct {
	mu         sync.Mutex
	leader     wire.PhysicalAddress
	key        wire.Key
	lastUpdate atomic.Int64 // unix nanoseconds
}

// New returns an empty Storage with no leader set.
func New() *Storage {
	return &Storage{}
}

// Leader returns the current leader address and group key.
func (s *Storage) Leader() (wire.PhysicalAddress, wire.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader, s.key
}

// LeaderAddress returns just the current leader address.
func (s *Storage) LeaderAddress() wire.PhysicalAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// Key returns just the current group key.
func (s *Storage) Key() wire.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// HasKey reports whether a non-zero group key has been set.
func (s *Storage) HasKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != wire.Key{}
}

// Set overwrites the leader address and key unconditionally. LastUpdate is
// bumped only when the new values differ from the old ones.
func (s *Storage) Set(leader wire.PhysicalAddress, key wire.Key) {
	s.mu.Lock()
	changed := s.leader != leader || s.key != key
	s.leader = leader
	s.key = key
	s.mu.Unlock()

	if changed {
		s.lastUpdate.Store(time.Now().UnixNano())
	}
}

// LastUpdate returns the wall-clock time of the last value-changing Set
// call, or the zero Time if never set.
func (s *Storage) LastUpdate() time.Time {
	ns := s.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
