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
	"github.com/fleetmesh/v2x/geo"
	"github.com/fleetmesh/v2x/nic"
	"github.com/fleetmesh/v2x/ptpclock"
	"github.com/fleetmesh/v2x/wire"
)

// Update implements xobserver.Observer: it is the NIC's sole callback for
// this stack's ether-type.
func (p *Protocol) Update(_ uint16, data any) {
	buf, ok := data.(*nic.Buffer)
	if !ok {
		return
	}
	defer p.nic.Free(buf)

	pkt, err := wire.DecodePacket(buf.Frame.Payload)
	if err != nil {
		p.logDrop("malformed packet: " + err.Error())
		return
	}
	if len(pkt.Payload) == 0 {
		p.logDrop("empty message payload")
		return
	}

	// Radius filter (P6): drop anything outside the sender's advertised
	// collision domain.
	myX, myY := p.location.CurrentCoordinates(nowMicros() / 1000)
	if geo.EuclideanDistance(pkt.Coordinates.X, pkt.Coordinates.Y, myX, myY) > pkt.Coordinates.Radius {
		p.logDrop("outside sender radius")
		return
	}

	msgType := wire.MessageType(pkt.Payload[0])

	// RSU-role filter: RSUs drop INTEREST, RESPONSE, STATUS and KEY_RESPONSE;
	// REQ is the message type an RSU handles from peers.
	if p.entity == EntityRSU {
		switch msgType {
		case wire.MessageInterest, wire.MessageResponse, wire.MessageStatus, wire.MessageKeyResponse:
			p.logDrop("RSU does not consume " + msgType.String())
			return
		}
	}

	// PTP hook.
	p.clock.Activate(&ptpclock.Input{
		SenderID:    buf.Frame.Src.LastByte(),
		TxAtSender:  pkt.Timestamps.TxTimestamp,
		LocalRxTime: buf.RxTimestamp,
	})

	if msgType.IsAuthenticated() {
		if !p.verifyMAC(pkt) {
			if p.entity == EntityVehicle && p.rsuManager != nil {
				p.sendREQ(pkt, buf.Frame.Src)
			}
			p.logDrop("MAC verification failed")
			return
		}
	}

	switch msgType {
	case wire.MessageStatus:
		p.handleStatus(pkt, buf.Frame.Src)
		return
	case wire.MessageReq:
		if p.entity == EntityRSU {
			p.handleReq(pkt, buf.Frame.Src)
		}
		return
	case wire.MessageKeyResponse:
		if p.entity == EntityVehicle {
			p.handleKeyResponse(pkt)
		}
		return
	}

	if !p.ports.Notify(pkt.Header.ToPort, pkt.Payload) {
		p.logDrop("no consumer for port")
	}
}

// verifyMAC tries the current leader/group key (RSU) or every known-RSU and
// cached-neighbor key in turn (vehicle), accepting on first match.
func (p *Protocol) verifyMAC(pkt *wire.Packet) bool {
	if p.entity == EntityRSU {
		return wire.VerifyMAC(pkt.Header, pkt.Timestamps, pkt.Coordinates, pkt.Payload, pkt.Auth.MAC, p.storage.Key())
	}
	if p.rsuManager == nil {
		return false
	}
	for _, key := range p.rsuManager.KnownKeys() {
		if wire.VerifyMAC(pkt.Header, pkt.Timestamps, pkt.Coordinates, pkt.Payload, pkt.Auth.MAC, key) {
			return true
		}
	}
	for _, key := range p.rsuManager.NeighborKeys() {
		if wire.VerifyMAC(pkt.Header, pkt.Timestamps, pkt.Coordinates, pkt.Payload, pkt.Auth.MAC, key) {
			return true
		}
	}
	return false
}

// handleStatus implements 4.6.5: an RSU's self-advertisement is forwarded
// to the vehicle's VehicleRSUManager for leader re-ranking.
func (p *Protocol) handleStatus(pkt *wire.Packet, src wire.PhysicalAddress) {
	if p.rsuManager == nil {
		return
	}
	msg, err := wire.DecodeMessage(pkt.Payload)
	if err != nil {
		p.logDrop("malformed STATUS: " + err.Error())
		return
	}
	status, ok := msg.(*wire.StatusMessage)
	if !ok {
		return
	}
	addr := wire.ProtocolAddress{Phys: src, Port: pkt.Header.FromPort}
	p.rsuManager.ProcessRSUStatus(addr, status.X, status.Y, status.Radius, status.Key)
}

// handleReq implements 4.6.6: an RSU tries every registered neighbor's key
// against the failed fields, replying with a KEY_RESPONSE on first match.
func (p *Protocol) handleReq(pkt *wire.Packet, src wire.PhysicalAddress) {
	msg, err := wire.DecodeMessage(pkt.Payload)
	if err != nil {
		p.logDrop("malformed REQ: " + err.Error())
		return
	}
	req, ok := msg.(*wire.ReqMessage)
	if !ok {
		return
	}

	for _, neighbor := range p.neighborSnapshot() {
		if wire.VerifyMAC(req.FailedHeader, req.FailedTimestamps, req.FailedCoordinates, req.Original, req.FailedMAC, neighbor.Key) {
			p.sendKeyResponse(src, pkt.Header.FromPort, neighbor.Key)
			return
		}
	}
	p.logDrop("REQ matched no neighbor key")
}

// handleKeyResponse implements 4.6.7: add the learned key to the vehicle's
// neighbor-key cache.
func (p *Protocol) handleKeyResponse(pkt *wire.Packet) {
	msg, err := wire.DecodeMessage(pkt.Payload)
	if err != nil {
		p.logDrop("malformed KEY_RESPONSE: " + err.Error())
		return
	}
	resp, ok := msg.(*wire.KeyResponseMessage)
	if !ok {
		return
	}
	if p.rsuManager != nil {
		p.rsuManager.AddNeighborKey(resp.Key)
	}
}
