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

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Dst:       PhysicalAddress{1, 2, 3, 4, 5, 6},
		Src:       PhysicalAddress{6, 5, 4, 3, 2, 1},
		EtherType: EtherType,
		Payload:   []byte("payload bytes"),
	}
	b := f.Encode()
	require.Equal(t, f.Len(), len(b))

	got, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, f.Dst, got.Dst)
	require.Equal(t, f.Src, got.Src)
	require.Equal(t, f.EtherType, got.EtherType)
	require.Equal(t, f.Payload, got.Payload)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame(make([]byte, FrameHeaderSize-1))
	require.Error(t, err)
}
