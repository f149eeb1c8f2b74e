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

// Package wire defines the bit-exact on-the-wire layout of the v2x stack:
// physical/protocol addresses, the Ethernet frame carrying it, the Packet
// payload layout, and the Message types carried inside a Packet.
package wire

import "fmt"

// PhysicalAddress is a 6-byte link-layer identifier.
type PhysicalAddress [6]byte

// BroadcastAddress is the reserved all-ones physical address.
var BroadcastAddress = PhysicalAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String renders the address as "AA:BB:CC:DD:EE:FF", for logs only.
func (a PhysicalAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsBroadcast reports whether a is the reserved broadcast address.
func (a PhysicalAddress) IsBroadcast() bool {
	return a == BroadcastAddress
}

// LastByte returns the last octet of the address, used throughout the stack
// as a compact node identifier (e.g. Clock.currentLeaderID).
func (a PhysicalAddress) LastByte() byte {
	return a[5]
}

// PortBroadcast is the reserved port used for broadcast/gateway traffic.
const PortBroadcast uint16 = 0

// ProtocolAddress is a (PhysicalAddress, port) pair identifying an endpoint
// above the NIC layer.
type ProtocolAddress struct {
	Phys PhysicalAddress
	Port uint16
}

// NullAddress is the zero-value protocol address.
var NullAddress = ProtocolAddress{}

// BroadcastAddr returns the broadcast protocol address for the given port.
func BroadcastAddr(port uint16) ProtocolAddress {
	return ProtocolAddress{Phys: BroadcastAddress, Port: port}
}

// Equal compares both the physical address and the port.
func (a ProtocolAddress) Equal(b ProtocolAddress) bool {
	return a.Phys == b.Phys && a.Port == b.Port
}

// IsNull reports whether a is the zero-value address.
func (a ProtocolAddress) IsNull() bool {
	return a == NullAddress
}

// String renders the address as "AA:BB:CC:DD:EE:FF:port", for logs only.
func (a ProtocolAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Phys, a.Port)
}
