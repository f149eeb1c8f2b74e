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

package nic

import "github.com/fleetmesh/v2x/wire"

// FrameHandler is invoked by an Engine for every received frame, on the
// engine's own receive thread. It must not block for long: the NIC's
// implementation only does a buffer-pool allocation and an observer
// dispatch before returning.
type FrameHandler func(raw []byte)

// Engine is the transport an NIC is generic over. Any Ethernet-frame
// transport implementing this contract is acceptable; PcapEngine is the one
// concrete implementation this module ships.
type Engine interface {
	// Start begins receiving frames, calling handler for each one, until
	// Stop is called.
	Start(handler FrameHandler) error
	// Stop ends reception and releases any underlying resources.
	Stop() error
	// Send transmits a raw frame and returns the number of bytes written.
	Send(raw []byte) (int, error)
	// MACAddress returns this engine's own hardware address.
	MACAddress() wire.PhysicalAddress
}
