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

// Package v2xproto implements the Protocol layer: packet framing, MAC
// computation and verification, radius-based collision-domain filtering,
// the PTP extraction hook, and the REQ/KEY_RESPONSE escalation exchange. It
// is the sole observer the NIC layer publishes frames to, and itself
// republishes application messages to Communicators by destination port.
package v2xproto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/geo"
	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/location"
	"github.com/fleetmesh/v2x/nic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/wire"
	"github.com/fleetmesh/v2x/xobserver"
)

// EntityType gates which message types a node's Protocol layer accepts.
type EntityType int

// Recognized entity types.
const (
	EntityUnknown EntityType = iota
	EntityVehicle
	EntityRSU
)

func (e EntityType) String() string {
	switch e {
	case EntityVehicle:
		return "VEHICLE"
	case EntityRSU:
		return "RSU"
	default:
		return "UNKNOWN"
	}
}

// RSUKeyProvider is the subset of VehicleRSUManager the Protocol layer
// depends on. Declared here, on the consumer side, so this package does not
// need to import rsumanager.
type RSUKeyProvider interface {
	KnownKeys() []wire.Key
	NeighborKeys() []wire.Key
	AddNeighborKey(key wire.Key)
	ProcessRSUStatus(addr wire.ProtocolAddress, x, y, radius float64, key wire.Key)
	HasAnyKnownRSU() bool
	CurrentLeaderAddress() (wire.PhysicalAddress, bool)
}

// NeighborRSU is a {id, key, address} record used only to match failed MACs
// when handling a REQ as an RSU.
type NeighborRSU struct {
	ID      byte
	Key     wire.Key
	Address wire.ProtocolAddress
}

// Protocol is the C6 Protocol layer.
type Protocol struct {
	nic      *nic.NIC
	clock    *ptpclock.Clock
	location *location.Service
	storage  *leaderkey.Storage
	self     wire.PhysicalAddress
	entity   EntityType
	radius   float64

	rsuManager RSUKeyProvider

	ports *xobserver.Subject

	neighborsMu sync.Mutex
	neighbors   []NeighborRSU

	rxDrops atomic.Int64
}

// Config configures a Protocol instance.
type Config struct {
	Self       wire.PhysicalAddress
	Entity     EntityType
	Radius     float64
	RSUManager RSUKeyProvider // nil for RSUs
}

// New constructs a Protocol layer and registers it as the NIC's sole
// observer for this stack's ether-type.
func New(n *nic.NIC, clock *ptpclock.Clock, loc *location.Service, storage *leaderkey.Storage, cfg Config) *Protocol {
	p := &Protocol{
		nic:        n,
		clock:      clock,
		location:   loc,
		storage:    storage,
		self:       cfg.Self,
		entity:     cfg.Entity,
		radius:     cfg.Radius,
		rsuManager: cfg.RSUManager,
		ports:      xobserver.NewSubject(),
	}
	n.Observers().Attach(wire.EtherType, p)
	return p
}

// Ports exposes the Subject application messages are published to, keyed by
// destination port, for Communicators to attach to.
func (p *Protocol) Ports() *xobserver.Subject {
	return p.ports
}

// AddNeighborRSU registers a neighbor RSU's key for REQ matching. Duplicates
// (by ID) are skipped.
func (p *Protocol) AddNeighborRSU(id byte, key wire.Key, addr wire.ProtocolAddress) {
	p.neighborsMu.Lock()
	defer p.neighborsMu.Unlock()
	for _, existing := range p.neighbors {
		if existing.ID == id {
			return
		}
	}
	p.neighbors = append(p.neighbors, NeighborRSU{ID: id, Key: key, Address: addr})
}

// ClearNeighborRSUs empties the neighbor registry.
func (p *Protocol) ClearNeighborRSUs() {
	p.neighborsMu.Lock()
	defer p.neighborsMu.Unlock()
	p.neighbors = nil
}

func (p *Protocol) neighborSnapshot() []NeighborRSU {
	p.neighborsMu.Lock()
	defer p.neighborsMu.Unlock()
	return append([]NeighborRSU(nil), p.neighbors...)
}

// RxDrops returns the count of packets dropped on receive (malformed or
// empty packet, radius filter, RSU-role mismatch, MAC verification failure,
// REQ matching no neighbor key, no consumer on the destination port).
func (p *Protocol) RxDrops() int64 { return p.rxDrops.Load() }

func nowMicros() int64 { return time.Now().UnixMicro() }

func (p *Protocol) logDrop(reason string) {
	p.rxDrops.Add(1)
	logrus.Tracef("v2xproto: dropping packet: %s", reason)
}
