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

package v2xproto

import (
	"github.com/sirupsen/logrus"

	"github.com/fleetmesh/v2x/wire"
)

// Send frames payload (a serialized wire.Message, its first byte already
// the type tag) as a Packet from (self) port to the physical/port pair to,
// and hands it to the NIC. Returns the number of bytes written, or 0 if the
// message was dropped by the authentication gate or the NIC.
func (p *Protocol) Send(fromPort, toPort uint16, to wire.PhysicalAddress, payload []byte) int {
	if len(payload) == 0 {
		return 0
	}
	msgType := wire.MessageType(payload[0])

	key, ok := p.signingKey()
	if msgType.IsAuthenticated() && !ok {
		logrus.Trace("v2xproto: dropping send: authenticated message with no available key")
		return 0
	}

	packetSize := wire.FixedPacketOverhead + len(payload)
	buf := p.nic.Alloc(to, wire.EtherType, packetSize)
	if buf == nil {
		return 0
	}

	_, synced := p.clock.GetSynchronizedTime()
	x, y := p.location.CurrentCoordinates(nowMicros() / 1000)

	header := wire.Header{FromPort: fromPort, ToPort: toPort, Size: uint32(len(payload))}
	timestamps := wire.TimestampFields{IsClockSynchronized: synced}
	coordinates := wire.Coordinates{X: x, Y: y, Radius: p.radius}

	var auth wire.AuthFields
	if msgType.IsAuthenticated() {
		auth.MAC = wire.ComputeMAC(header, timestamps, coordinates, payload, key)
		auth.HasMAC = true
	}

	pkt := &wire.Packet{
		Header:      header,
		Timestamps:  timestamps,
		Coordinates: coordinates,
		Auth:        auth,
		Payload:     payload,
	}
	encoded, err := pkt.Encode()
	if err != nil {
		logrus.Tracef("v2xproto: dropping send: %v", err)
		return 0
	}
	copy(buf.Frame.Payload, encoded)

	written, err := p.nic.Send(buf, len(encoded))
	if err != nil {
		logrus.Tracef("v2xproto: send failed: %v", err)
		return 0
	}
	return written
}

// signingKey returns the group key this node currently signs with: the
// active leader/group key from LeaderKeyStorage, shared by vehicles and
// RSUs alike once a vehicle has learned it from a STATUS broadcast.
func (p *Protocol) signingKey() (wire.Key, bool) {
	if p.entity == EntityRSU {
		if !p.storage.HasKey() {
			return wire.Key{}, false
		}
		return p.storage.Key(), true
	}
	if p.rsuManager == nil || !p.rsuManager.HasAnyKnownRSU() {
		return wire.Key{}, false
	}
	return p.storage.Key(), true
}
