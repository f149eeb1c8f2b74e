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

// Package statusmanager implements the StatusManager (C11): an
// experimental, peer-elected alternative to rsumanager's RSU-rooted leader
// model. Peers broadcast their own {age, key} on a configured interval; the
// leader is the peer with the highest age, lexicographic-max key as
// tie-break. Not wired into the default vehicle runtime — see DESIGN.md.
package statusmanager

import (
	"bytes"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/comm"
	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/periodic"
	"github.com/fleetmesh/v2x/v2xproto"
	"github.com/fleetmesh/v2x/wire"
)

// DefaultStaleTimeout is how long a peer's entry survives without a refresh.
const DefaultStaleTimeout = 10 * time.Second

// DefaultPruneInterval is how often stale entries are swept and the leader
// re-elected.
const DefaultPruneInterval = 5 * time.Second

type peer struct {
	age      int64
	key      wire.Key
	lastSeen time.Time
}

// Config configures a Manager.
type Config struct {
	Self            wire.ProtocolAddress
	Key             wire.Key
	BroadcastPeriod time.Duration
	StaleTimeout    time.Duration
}

// Manager is the C11 peer-elected leader model.
type Manager struct {
	self wire.ProtocolAddress
	key  wire.Key

	storage         *leaderkey.Storage
	comm            *comm.Communicator
	broadcastPeriod time.Duration
	staleTimeout    time.Duration
	started         time.Time

	mu    sync.Mutex
	peers map[wire.ProtocolAddress]*peer

	broadcast *periodic.Task
	prune     *periodic.Task

	Now func() time.Time
}

// New constructs a Manager bound to protocol via a Communicator on
// cfg.Self, writing elected leaders to storage.
func New(protocol *v2xproto.Protocol, storage *leaderkey.Storage, cfg Config) *Manager {
	staleTimeout := cfg.StaleTimeout
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	m := &Manager{
		self:            cfg.Self,
		key:             cfg.Key,
		storage:         storage,
		comm:            comm.New(protocol, cfg.Self, 0),
		broadcastPeriod: cfg.BroadcastPeriod,
		staleTimeout:    staleTimeout,
		peers:           make(map[wire.ProtocolAddress]*peer),
		Now:             time.Now,
	}
	m.broadcast = periodic.New(m.announce)
	m.prune = periodic.New(m.pruneAndElect)
	return m
}

// Start begins broadcasting this peer's age/key at cfg.BroadcastPeriod and
// pruning/electing at DefaultPruneInterval, and launches the receive loop.
func (m *Manager) Start() {
	m.started = m.Now()
	go m.receiveLoop()
	m.broadcast.Start(m.broadcastPeriod)
	m.prune.Start(DefaultPruneInterval)
}

// Stop terminates both periodic tasks and releases the Communicator,
// unblocking the receive loop.
func (m *Manager) Stop() {
	m.broadcast.Stop()
	m.prune.Stop()
	m.comm.Release()
}

func (m *Manager) age() int64 {
	return int64(m.Now().Sub(m.started))
}

func (m *Manager) announce() {
	msg := &wire.JoinMessage{
		MessageHeader: wire.MessageHeader{
			Type:      wire.MessageJoin,
			Origin:    m.self,
			Timestamp: m.Now().UnixMicro(),
		},
		Age: m.age(),
		Key: m.key,
	}
	if _, err := m.comm.Send(msg); err != nil {
		logrus.Warnf("statusmanager: failed to send JOIN: %v", err)
	}
}

func (m *Manager) receiveLoop() {
	for {
		msg, err := m.comm.Receive()
		if err != nil {
			return
		}
		join, ok := msg.(*wire.JoinMessage)
		if !ok {
			continue
		}
		m.observe(join.Origin, join.Age, join.Key)
	}
}

func (m *Manager) observe(addr wire.ProtocolAddress, age int64, key wire.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[addr] = &peer{age: age, key: key, lastSeen: m.Now()}
}

func (m *Manager) pruneAndElect() {
	now := m.Now()
	m.mu.Lock()
	for addr, p := range m.peers {
		if now.Sub(p.lastSeen) > m.staleTimeout {
			delete(m.peers, addr)
		}
	}

	leaderAddr := m.self
	leaderAge := m.age()
	leaderKey := m.key
	for addr, p := range m.peers {
		if p.age > leaderAge || (p.age == leaderAge && bytes.Compare(p.key[:], leaderKey[:]) > 0) {
			leaderAddr = addr
			leaderAge = p.age
			leaderKey = p.key
		}
	}
	m.mu.Unlock()

	m.storage.Set(leaderAddr.Phys, leaderKey)
}

// KnownPeers returns a snapshot of the current peer table, for diagnostics.
func (m *Manager) KnownPeers() map[wire.ProtocolAddress]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[wire.ProtocolAddress]time.Time, len(m.peers))
	for addr, p := range m.peers {
		out[addr] = p.lastSeen
	}
	return out
}
