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

func testHeader(typ MessageType) MessageHeader {
	return MessageHeader{
		Type:      typ,
		Origin:    ProtocolAddress{Phys: PhysicalAddress{1, 2, 3, 4, 5, 6}, Port: 42},
		Timestamp: 1690000000000,
		Unit:      7,
	}
}

func TestInterestMessageRoundTrip(t *testing.T) {
	m := &InterestMessage{MessageHeader: testHeader(MessageInterest), PeriodMicros: 50000}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*InterestMessage)
	require.True(t, ok)
	require.Equal(t, m.MessageHeader, got.MessageHeader)
	require.Equal(t, m.PeriodMicros, got.PeriodMicros)
	require.Equal(t, MessageInterest, got.MessageType())
}

func TestResponseMessageRoundTrip(t *testing.T) {
	m := &ResponseMessage{MessageHeader: testHeader(MessageResponse), Value: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*ResponseMessage)
	require.True(t, ok)
	require.Equal(t, m.Value, got.Value)
	require.True(t, MessageResponse.IsAuthenticated())
	require.False(t, MessageInterest.IsAuthenticated())
}

func TestStatusMessageRoundTrip(t *testing.T) {
	m := &StatusMessage{
		MessageHeader: testHeader(MessageStatus),
		X:             12.5,
		Y:             -7.25,
		Radius:        500,
		Key:           Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Data:          []byte("extra"),
	}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*StatusMessage)
	require.True(t, ok)
	require.InDelta(t, m.X, got.X, 1e-12)
	require.InDelta(t, m.Y, got.Y, 1e-12)
	require.InDelta(t, m.Radius, got.Radius, 1e-12)
	require.Equal(t, m.Key, got.Key)
	require.Equal(t, m.Data, got.Data)
}

func TestStatusMessageEmptyData(t *testing.T) {
	m := &StatusMessage{MessageHeader: testHeader(MessageStatus), X: 1, Y: 2, Radius: 3}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got := decoded.(*StatusMessage)
	require.Empty(t, got.Data)
}

func TestReqMessageRoundTrip(t *testing.T) {
	m := &ReqMessage{
		MessageHeader:     testHeader(MessageReq),
		FailedHeader:      Header{FromPort: 1, ToPort: 2, Size: 3},
		FailedTimestamps:  TimestampFields{IsClockSynchronized: true, TxTimestamp: 123},
		FailedCoordinates: Coordinates{X: 1, Y: 2, Radius: 3},
		Original:          []byte("original bytes"),
		FailedMAC:         [16]byte{0xFF},
	}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*ReqMessage)
	require.True(t, ok)
	require.Equal(t, m.FailedHeader, got.FailedHeader)
	require.Equal(t, m.FailedTimestamps, got.FailedTimestamps)
	require.Equal(t, m.FailedCoordinates, got.FailedCoordinates)
	require.Equal(t, m.Original, got.Original)
	require.Equal(t, m.FailedMAC, got.FailedMAC)
}

func TestKeyResponseMessageRoundTrip(t *testing.T) {
	m := &KeyResponseMessage{MessageHeader: testHeader(MessageKeyResponse), Key: Key{0x42}}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*KeyResponseMessage)
	require.True(t, ok)
	require.Equal(t, m.Key, got.Key)
}

func TestJoinMessageRoundTrip(t *testing.T) {
	m := &JoinMessage{MessageHeader: testHeader(MessageJoin), Age: 123456789, Key: Key{0x7}}
	b, err := Bytes(m)
	require.NoError(t, err)

	decoded, err := DecodeMessage(b)
	require.NoError(t, err)
	got, ok := decoded.(*JoinMessage)
	require.True(t, ok)
	require.Equal(t, m.Age, got.Age)
	require.Equal(t, m.Key, got.Key)
	require.False(t, MessageJoin.IsAuthenticated())
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	_, err := DecodeMessage([]byte{0xFE})
	require.Error(t, err)
}

func TestDecodeMessageRejectsEmpty(t *testing.T) {
	_, err := DecodeMessage(nil)
	require.Error(t, err)
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "STATUS", MessageStatus.String())
	require.Equal(t, "UNKNOWN", MessageUnknown.String())
	require.Equal(t, "INVALID", MessageInvalid.String())
}
