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

// Package comm implements the Communicator (C9): an application-facing
// send/receive endpoint bound to one port, backed by a ConcurrentObserver
// attached to the Protocol layer's port fabric.
package comm

import (
	"errors"
	"fmt"

	"github.com/fleetmesh/v2x/v2xproto"
	"github.com/fleetmesh/v2x/wire"
	"github.com/fleetmesh/v2x/xobserver"
)

// ErrReleased is returned by Receive after Release has been called.
var ErrReleased = errors.New("comm: communicator released")

// Communicator is an application's send/receive endpoint for one protocol
// address. Application messages are always physically broadcast and scoped
// by the sender's radius; the port is the addressing unit that matters.
type Communicator struct {
	protocol *v2xproto.Protocol
	address  wire.ProtocolAddress
	obs      *xobserver.ConcurrentObserver
}

// New attaches a ConcurrentObserver to protocol's port fabric, keyed by
// address.Port, with the given receive queue capacity (0 selects
// xobserver.DefaultQueueSize).
func New(protocol *v2xproto.Protocol, address wire.ProtocolAddress, queueSize int) *Communicator {
	c := &Communicator{
		protocol: protocol,
		address:  address,
		obs:      xobserver.NewConcurrentObserver(queueSize),
	}
	protocol.Ports().Attach(address.Port, c.obs)
	return c
}

// Address returns the protocol address this Communicator is bound to.
func (c *Communicator) Address() wire.ProtocolAddress {
	return c.address
}

// Send serializes message and broadcasts it from this endpoint's port.
func (c *Communicator) Send(message wire.Message) (int, error) {
	payload, err := wire.Bytes(message)
	if err != nil {
		return 0, fmt.Errorf("comm: encode message: %w", err)
	}
	return c.protocol.Send(c.address.Port, c.address.Port, wire.BroadcastAddress, payload), nil
}

// Receive blocks until a message is published to this endpoint's port, or
// until Release is called, in which case it returns ErrReleased.
func (c *Communicator) Receive() (wire.Message, error) {
	data, ok := c.obs.Updated()
	if !ok {
		return nil, ErrReleased
	}
	payload, ok := data.([]byte)
	if !ok {
		return nil, fmt.Errorf("comm: unexpected payload type %T", data)
	}
	msg, err := wire.DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("comm: decode message: %w", err)
	}
	return msg, nil
}

// Release detaches from the Protocol layer and unblocks any pending or
// future Receive call. Safe to call more than once.
func (c *Communicator) Release() {
	c.protocol.Ports().Detach(c.address.Port, c.obs)
	c.obs.Release()
}
