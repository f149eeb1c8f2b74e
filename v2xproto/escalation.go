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

// ControlPort is the reserved port REQ and KEY_RESPONSE messages are framed
// with. Message-type interception happens ahead of port dispatch, so the
// value only matters for logs.
const ControlPort uint16 = 1

// sendREQ implements 4.6.4: on MAC verification failure, a vehicle emits a
// REQ unicast to its current leader RSU carrying everything needed to
// recompute the failed MAC against a candidate neighbor key. REQ itself
// carries no MAC.
func (p *Protocol) sendREQ(pkt *wire.Packet, _ wire.PhysicalAddress) {
	leader, ok := p.rsuManager.CurrentLeaderAddress()
	if !ok {
		logrus.Debug("v2xproto: MAC verification failed with no current leader, cannot escalate")
		return
	}

	req := &wire.ReqMessage{
		MessageHeader: wire.MessageHeader{
			Type:      wire.MessageReq,
			Origin:    wire.ProtocolAddress{Phys: p.self, Port: ControlPort},
			Timestamp: nowMicros(),
		},
		FailedHeader:      pkt.Header,
		FailedTimestamps:  pkt.Timestamps,
		FailedCoordinates: pkt.Coordinates,
		Original:          pkt.Payload,
		FailedMAC:         pkt.Auth.MAC,
	}
	payload, err := wire.Bytes(req)
	if err != nil {
		logrus.Warnf("v2xproto: failed to encode REQ: %v", err)
		return
	}
	p.Send(ControlPort, ControlPort, leader, payload)
}

// sendKeyResponse implements the RSU side of 4.6.6: reply to toPort on the
// requesting vehicle's physical address with the matched neighbor's key.
func (p *Protocol) sendKeyResponse(to wire.PhysicalAddress, toPort uint16, key wire.Key) {
	resp := &wire.KeyResponseMessage{
		MessageHeader: wire.MessageHeader{
			Type:      wire.MessageKeyResponse,
			Origin:    wire.ProtocolAddress{Phys: p.self, Port: ControlPort},
			Timestamp: nowMicros(),
		},
		Key: key,
	}
	payload, err := wire.Bytes(resp)
	if err != nil {
		logrus.Warnf("v2xproto: failed to encode KEY_RESPONSE: %v", err)
		return
	}
	p.Send(ControlPort, toPort, to, payload)
}
