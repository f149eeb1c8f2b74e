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

// Package nic implements the buffer pool, frame TX/RX path, and hardware
// timestamp stamping shared by every node, plus a gopacket/pcap-backed
// Engine for raw Ethernet transport.
package nic

import "github.com/fleetmesh/v2x/wire"

// DefaultSendBuffers and DefaultReceiveBuffers are the pool sizing defaults.
const (
	DefaultSendBuffers    = 512
	DefaultReceiveBuffers = 512
)

// Buffer holds one in-flight Frame plus the RX hardware timestamp the NIC
// attaches on reception. Buffers are recycled through the NIC's pool rather
// than garbage collected per frame.
type Buffer struct {
	Frame       *wire.Frame
	RxTimestamp int64 // microseconds, set by the NIC on receive
}

func (b *Buffer) reset() {
	b.Frame = nil
	b.RxTimestamp = 0
}
