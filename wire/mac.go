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

package wire

import (
	"encoding/binary"
	"math"
)

// Key is a 16-byte group key shared between an RSU and the vehicles that
// trust it.
type Key [16]byte

// ComputeMAC computes the "hybrid" MAC described by the protocol: an
// XOR-fold of {from_port, to_port, is_clock_synchronized, Coordinates,
// payload} into a 16-byte accumulator, then a per-byte XOR with key.
//
// tx_timestamp, Header.Size, and the AuthFields themselves are deliberately
// excluded, so the NIC can stamp the TX hardware timestamp after the MAC has
// already been computed (see StampTxTimestamp) and so REQ can carry a
// reconstructed header without forcing MAC recomputation.
//
// This is not a cryptographically strong MAC — see the design notes. Its
// guarantees rest entirely on the secrecy of key, not on the algorithm.
func ComputeMAC(h Header, ts TimestampFields, c Coordinates, payload []byte, key Key) [16]byte {
	var acc [16]byte
	pos := 0
	xorByte := func(b byte) {
		acc[pos%16] ^= b
		pos++
	}
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], h.FromPort)
	xorByte(tmp[0])
	xorByte(tmp[1])
	binary.BigEndian.PutUint16(tmp[:2], h.ToPort)
	xorByte(tmp[0])
	xorByte(tmp[1])
	if ts.IsClockSynchronized {
		xorByte(1)
	} else {
		xorByte(0)
	}
	binary.BigEndian.PutUint64(tmp[:8], math.Float64bits(c.X))
	for _, b := range tmp {
		xorByte(b)
	}
	binary.BigEndian.PutUint64(tmp[:8], math.Float64bits(c.Y))
	for _, b := range tmp {
		xorByte(b)
	}
	binary.BigEndian.PutUint64(tmp[:8], math.Float64bits(c.Radius))
	for _, b := range tmp {
		xorByte(b)
	}
	for _, b := range payload {
		xorByte(b)
	}

	var mac [16]byte
	for i := range mac {
		mac[i] = acc[i] ^ key[i]
	}
	return mac
}

// VerifyMAC reports whether mac is the correct MAC for the given fields
// under key.
func VerifyMAC(h Header, ts TimestampFields, c Coordinates, payload []byte, mac [16]byte, key Key) bool {
	return ComputeMAC(h, ts, c, payload, key) == mac
}
