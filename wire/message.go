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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// MessageType is the first byte of every Message.
type MessageType uint8

// Recognized message type tags.
const (
	MessageUnknown MessageType = iota
	MessageInterest
	MessageResponse
	MessageStatus
	MessageReq
	MessageKeyResponse
	MessagePTP
	MessageJoin
	MessageInvalid
)

func (t MessageType) String() string {
	switch t {
	case MessageInterest:
		return "INTEREST"
	case MessageResponse:
		return "RESPONSE"
	case MessageStatus:
		return "STATUS"
	case MessageReq:
		return "REQ"
	case MessageKeyResponse:
		return "KEY_RESPONSE"
	case MessagePTP:
		return "PTP"
	case MessageJoin:
		return "JOIN"
	case MessageInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// IsAuthenticated reports whether messages of this type must carry a valid
// MAC. In the current policy only RESPONSE is authenticated — INTEREST is
// deliberately exempt, a policy knob rather than an oversight (see the
// design notes).
func (t MessageType) IsAuthenticated() bool {
	return t == MessageResponse
}

// MessageHeader is the common prefix of every Message: the type tag, the
// origin address, a microsecond-resolution send timestamp, and a 32-bit
// "unit" tag used to correlate INTEREST/RESPONSE pairs.
type MessageHeader struct {
	Type      MessageType
	Origin    ProtocolAddress
	Timestamp int64
	Unit      uint32
}

// Message is implemented by every message body.
type Message interface {
	MessageType() MessageType
	Header() MessageHeader
}

func writeHeader(buf *bytes.Buffer, h MessageHeader) error {
	buf.WriteByte(byte(h.Type))
	buf.Write(h.Origin.Phys[:])
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], h.Origin.Port)
	buf.Write(tmp[:2])
	binary.BigEndian.PutUint64(tmp[:8], uint64(h.Timestamp))
	buf.Write(tmp[:8])
	binary.BigEndian.PutUint32(tmp[:4], h.Unit)
	buf.Write(tmp[:4])
	return nil
}

const messageHeaderSize = 1 + 6 + 2 + 8 + 4

func readHeader(r *bytes.Reader) (MessageHeader, error) {
	var h MessageHeader
	tag, err := r.ReadByte()
	if err != nil {
		return h, err
	}
	h.Type = MessageType(tag)
	if _, err := r.Read(h.Origin.Phys[:]); err != nil {
		return h, err
	}
	var tmp [8]byte
	if _, err := r.Read(tmp[:2]); err != nil {
		return h, err
	}
	h.Origin.Port = binary.BigEndian.Uint16(tmp[:2])
	if _, err := r.Read(tmp[:8]); err != nil {
		return h, err
	}
	h.Timestamp = int64(binary.BigEndian.Uint64(tmp[:8]))
	if _, err := r.Read(tmp[:4]); err != nil {
		return h, err
	}
	h.Unit = binary.BigEndian.Uint32(tmp[:4])
	return h, nil
}

// InterestMessage is emitted by a consumer to request periodic RESPONSE
// messages tagged with Unit.
type InterestMessage struct {
	MessageHeader
	PeriodMicros int64
}

// MessageType implements Message.
func (m *InterestMessage) MessageType() MessageType { return MessageInterest }

// Header implements Message.
func (m *InterestMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *InterestMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageInterest
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(m.PeriodMicros))
	buf.Write(tmp[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *InterestMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode INTEREST header: %w", err)
	}
	m.MessageHeader = h
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return fmt.Errorf("wire: decode INTEREST period: %w", err)
	}
	m.PeriodMicros = int64(binary.BigEndian.Uint64(tmp[:]))
	return nil
}

// ResponseMessage carries an opaque value tagged with Unit, in reply to an
// INTEREST.
type ResponseMessage struct {
	MessageHeader
	Value []byte
}

// MessageType implements Message.
func (m *ResponseMessage) MessageType() MessageType { return MessageResponse }

// Header implements Message.
func (m *ResponseMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ResponseMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageResponse
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	buf.Write(m.Value)
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ResponseMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode RESPONSE header: %w", err)
	}
	m.MessageHeader = h
	m.Value = append([]byte(nil), b[messageHeaderSize:]...)
	return nil
}

// StatusMessage is an RSU's self-advertisement used by vehicles for leader
// selection.
type StatusMessage struct {
	MessageHeader
	X, Y, Radius float64
	Key          Key
	Data         []byte
}

// MessageType implements Message.
func (m *StatusMessage) MessageType() MessageType { return MessageStatus }

// Header implements Message.
func (m *StatusMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *StatusMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageStatus
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(m.X))
	buf.Write(tmp[:])
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(m.Y))
	buf.Write(tmp[:])
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(m.Radius))
	buf.Write(tmp[:])
	buf.Write(m.Key[:])
	buf.Write(m.Data)
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *StatusMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode STATUS header: %w", err)
	}
	m.MessageHeader = h
	var tmp [8]byte
	readF := func() (float64, error) {
		if _, err := r.Read(tmp[:]); err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
	}
	if m.X, err = readF(); err != nil {
		return fmt.Errorf("wire: decode STATUS x: %w", err)
	}
	if m.Y, err = readF(); err != nil {
		return fmt.Errorf("wire: decode STATUS y: %w", err)
	}
	if m.Radius, err = readF(); err != nil {
		return fmt.Errorf("wire: decode STATUS radius: %w", err)
	}
	if _, err := r.Read(m.Key[:]); err != nil {
		return fmt.Errorf("wire: decode STATUS key: %w", err)
	}
	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && r.Len() != 0 {
		return fmt.Errorf("wire: decode STATUS data: %w", err)
	}
	m.Data = rest
	return nil
}

// ReqMessage escalates a MAC verification failure to the current leader
// RSU, carrying everything needed to recompute the failed MAC against a
// candidate neighbor key.
type ReqMessage struct {
	MessageHeader
	FailedHeader      Header
	FailedTimestamps  TimestampFields
	FailedCoordinates Coordinates
	Original          []byte
	FailedMAC         [16]byte
}

// MessageType implements Message.
func (m *ReqMessage) MessageType() MessageType { return MessageReq }

// Header implements Message.
func (m *ReqMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ReqMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageReq
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, m.FailedHeader); err != nil {
		return nil, fmt.Errorf("wire: encode REQ failed header: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, m.FailedTimestamps); err != nil {
		return nil, fmt.Errorf("wire: encode REQ failed timestamps: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, m.FailedCoordinates); err != nil {
		return nil, fmt.Errorf("wire: encode REQ failed coordinates: %w", err)
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(m.Original)))
	buf.Write(tmp[:])
	buf.Write(m.Original)
	buf.Write(m.FailedMAC[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ReqMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode REQ header: %w", err)
	}
	m.MessageHeader = h
	if err := binary.Read(r, binary.BigEndian, &m.FailedHeader); err != nil {
		return fmt.Errorf("wire: decode REQ failed header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.FailedTimestamps); err != nil {
		return fmt.Errorf("wire: decode REQ failed timestamps: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.FailedCoordinates); err != nil {
		return fmt.Errorf("wire: decode REQ failed coordinates: %w", err)
	}
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: decode REQ original length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	m.Original = make([]byte, n)
	if _, err := r.Read(m.Original); err != nil {
		return fmt.Errorf("wire: decode REQ original: %w", err)
	}
	if _, err := r.Read(m.FailedMAC[:]); err != nil {
		return fmt.Errorf("wire: decode REQ failed mac: %w", err)
	}
	return nil
}

// KeyResponseMessage is the leader's reply to a REQ, carrying a neighbor
// RSU's key.
type KeyResponseMessage struct {
	MessageHeader
	Key Key
}

// MessageType implements Message.
func (m *KeyResponseMessage) MessageType() MessageType { return MessageKeyResponse }

// Header implements Message.
func (m *KeyResponseMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *KeyResponseMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageKeyResponse
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	buf.Write(m.Key[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *KeyResponseMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode KEY_RESPONSE header: %w", err)
	}
	m.MessageHeader = h
	if _, err := r.Read(m.Key[:]); err != nil {
		return fmt.Errorf("wire: decode KEY_RESPONSE key: %w", err)
	}
	return nil
}

// JoinMessage is a peer's self-announcement in the StatusManager leader
// model: its age (time since it started announcing) and its unique key.
type JoinMessage struct {
	MessageHeader
	Age int64
	Key Key
}

// MessageType implements Message.
func (m *JoinMessage) MessageType() MessageType { return MessageJoin }

// Header implements Message.
func (m *JoinMessage) Header() MessageHeader { return m.MessageHeader }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *JoinMessage) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	m.MessageHeader.Type = MessageJoin
	if err := writeHeader(buf, m.MessageHeader); err != nil {
		return nil, err
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(m.Age))
	buf.Write(tmp[:])
	buf.Write(m.Key[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *JoinMessage) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("wire: decode JOIN header: %w", err)
	}
	m.MessageHeader = h
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return fmt.Errorf("wire: decode JOIN age: %w", err)
	}
	m.Age = int64(binary.BigEndian.Uint64(tmp[:]))
	if _, err := r.Read(m.Key[:]); err != nil {
		return fmt.Errorf("wire: decode JOIN key: %w", err)
	}
	return nil
}

// Bytes serializes any Message to its wire form.
func Bytes(m Message) ([]byte, error) {
	if bm, ok := m.(interface{ MarshalBinary() ([]byte, error) }); ok {
		return bm.MarshalBinary()
	}
	return nil, fmt.Errorf("wire: message type %s has no marshaler", m.MessageType())
}

// DecodeMessage parses a message payload, dispatching on its type tag.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("wire: empty message")
	}
	switch MessageType(b[0]) {
	case MessageInterest:
		m := &InterestMessage{}
		return m, m.UnmarshalBinary(b)
	case MessageResponse:
		m := &ResponseMessage{}
		return m, m.UnmarshalBinary(b)
	case MessageStatus:
		m := &StatusMessage{}
		return m, m.UnmarshalBinary(b)
	case MessageReq:
		m := &ReqMessage{}
		return m, m.UnmarshalBinary(b)
	case MessageKeyResponse:
		m := &KeyResponseMessage{}
		return m, m.UnmarshalBinary(b)
	case MessageJoin:
		m := &JoinMessage{}
		return m, m.UnmarshalBinary(b)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %d", b[0])
	}
}
