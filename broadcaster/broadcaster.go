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

// Package broadcaster implements the RSU periodic STATUS broadcaster (C8):
// on start it marks itself as PTP leader, loads its neighbor-RSU registry,
// and launches a periodic.Task that emits a STATUS broadcast every period.
package broadcaster

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/comm"
	"github.com/fleetmesh/v2x/leaderkey"
	"github.com/fleetmesh/v2x/nic"
	"github.com/fleetmesh/v2x/periodic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/v2xproto"
	"github.com/fleetmesh/v2x/wire"
)

// Neighbor describes one neighbor RSU to seed the Protocol layer's
// neighbor-RSU registry with at start. Loaded from configuration rather
// than a hardcoded enumeration.
type Neighbor struct {
	ID      byte
	Key     wire.Key
	Address wire.ProtocolAddress
}

// Config configures a Broadcaster.
type Config struct {
	Self   wire.PhysicalAddress
	Port   uint16
	RSUID  byte
	Unit   uint32
	Period time.Duration
	X, Y   float64
	Radius float64
	Key    wire.Key
	Data   []byte

	Neighbors []Neighbor
}

// Broadcaster is the C8 RSU periodic STATUS broadcaster.
type Broadcaster struct {
	cfg Config

	nic      *nic.NIC
	protocol *v2xproto.Protocol
	storage  *leaderkey.Storage
	clock    *ptpclock.Clock

	comm *comm.Communicator
	task *periodic.Task
}

// New constructs a Broadcaster. Call Start to begin broadcasting.
func New(n *nic.NIC, protocol *v2xproto.Protocol, storage *leaderkey.Storage, clock *ptpclock.Clock, cfg Config) *Broadcaster {
	return &Broadcaster{
		cfg:      cfg,
		nic:      n,
		protocol: protocol,
		storage:  storage,
		clock:    clock,
	}
}

// Start marks this node as PTP leader, registers its neighbor-RSU registry,
// and launches the periodic STATUS broadcast.
func (b *Broadcaster) Start() {
	b.storage.Set(b.cfg.Self, b.cfg.Key)
	b.clock.SetSelfID(b.cfg.RSUID)
	b.clock.Activate(nil)

	b.protocol.ClearNeighborRSUs()
	for _, nb := range b.cfg.Neighbors {
		b.protocol.AddNeighborRSU(nb.ID, nb.Key, nb.Address)
	}

	b.comm = comm.New(b.protocol, wire.ProtocolAddress{Phys: b.cfg.Self, Port: b.cfg.Port}, 0)
	b.task = periodic.New(b.broadcast)
	b.task.Start(b.cfg.Period)
}

func (b *Broadcaster) broadcast() {
	msg := &wire.StatusMessage{
		MessageHeader: wire.MessageHeader{
			Type:      wire.MessageStatus,
			Origin:    wire.ProtocolAddress{Phys: b.cfg.Self, Port: b.cfg.Port},
			Timestamp: time.Now().UnixMicro(),
			Unit:      b.cfg.Unit,
		},
		X:      b.cfg.X,
		Y:      b.cfg.Y,
		Radius: b.cfg.Radius,
		Key:    b.cfg.Key,
		Data:   b.cfg.Data,
	}
	if _, err := b.comm.Send(msg); err != nil {
		logrus.Warnf("broadcaster: failed to send STATUS: %v", err)
	}
}

// Stop terminates the broadcast task, releases the communicator, and stops
// the NIC.
func (b *Broadcaster) Stop() error {
	if b.task != nil {
		b.task.Stop()
	}
	if b.comm != nil {
		b.comm.Release()
	}
	return b.nic.Stop()
}
