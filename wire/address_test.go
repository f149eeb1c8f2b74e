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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhysicalAddressBroadcast(t *testing.T) {
	require.True(t, BroadcastAddress.IsBroadcast())
	require.False(t, PhysicalAddress{1, 2, 3, 4, 5, 6}.IsBroadcast())
	require.Equal(t, "FF:FF:FF:FF:FF:FF", BroadcastAddress.String())
}

func TestPhysicalAddressLastByte(t *testing.T) {
	a := PhysicalAddress{0, 0, 0, 0, 0, 0x2A}
	require.Equal(t, byte(0x2A), a.LastByte())
}

func TestProtocolAddressEqualAndNull(t *testing.T) {
	a := ProtocolAddress{Phys: PhysicalAddress{1, 2, 3, 4, 5, 6}, Port: 10}
	b := ProtocolAddress{Phys: PhysicalAddress{1, 2, 3, 4, 5, 6}, Port: 10}
	c := ProtocolAddress{Phys: PhysicalAddress{1, 2, 3, 4, 5, 7}, Port: 10}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.True(t, NullAddress.IsNull())
	require.False(t, a.IsNull())
}

func TestBroadcastAddr(t *testing.T) {
	addr := BroadcastAddr(55)
	require.Equal(t, BroadcastAddress, addr.Phys)
	require.Equal(t, uint16(55), addr.Port)
}
