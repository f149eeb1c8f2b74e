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
	"io"
	"math"
)

// Header is the first 8 bytes of a Packet.
//
//	offset 0: from_port u16
//	offset 2: to_port   u16
//	offset 4: size      u32  (length of the Message payload only)
type Header struct {
	FromPort uint16
	ToPort   uint16
	Size     uint32
}

// HeaderSize is sizeof(Header) on the wire.
const HeaderSize = 8

// TimestampFields occupies packet offset 8..24.
//
//	offset 8:  is_clock_synchronized bool (+7 pad)
//	offset 16: tx_timestamp int64 microseconds
type TimestampFields struct {
	IsClockSynchronized bool
	_                   [7]byte
	TxTimestamp         int64
}

// TimestampFieldsSize is sizeof(TimestampFields) on the wire.
const TimestampFieldsSize = 16

// txTimestampOffset is the absolute byte offset of TxTimestamp within the
// Packet payload — the NIC writes the TX hardware timestamp directly here
// after the Protocol layer has already computed the MAC (§4.6.3).
const txTimestampOffset = HeaderSize + 8

// Coordinates occupies packet offset 24..48.
type Coordinates struct {
	X      float64
	Y      float64
	Radius float64
}

// CoordinatesSize is sizeof(Coordinates) on the wire.
const CoordinatesSize = 24

// Distance returns the 2-D Euclidean distance between two coordinates.
func Distance(a, b Coordinates) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// AuthFields occupies packet offset 48..72.
//
//	offset 48: mac 16 bytes
//	offset 64: has_mac bool (+7 pad)
type AuthFields struct {
	MAC    [16]byte
	HasMAC bool
	_      [7]byte
}

// AuthFieldsSize is sizeof(AuthFields) on the wire.
const AuthFieldsSize = 24

// FixedPacketOverhead is the number of bytes every Packet carries before its
// Message payload: Header + TimestampFields + Coordinates + AuthFields.
const FixedPacketOverhead = HeaderSize + TimestampFieldsSize + CoordinatesSize + AuthFieldsSize

// MTUForFrame returns the maximum Message payload size for a given frame MTU.
func MTUForFrame(frameMTU int) int {
	return frameMTU - FixedPacketOverhead - FrameHeaderSize
}

// Packet is the payload of a Frame carrying wire.EtherType.
type Packet struct {
	Header
	Timestamps  TimestampFields
	Coordinates Coordinates
	Auth        AuthFields
	Payload     []byte
}

// Encode serializes the packet to its bit-exact wire form.
func (p *Packet) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(FixedPacketOverhead + len(p.Payload))
	if err := binary.Write(buf, binary.BigEndian, p.Header); err != nil {
		return nil, fmt.Errorf("wire: encode header: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, p.Timestamps); err != nil {
		return nil, fmt.Errorf("wire: encode timestamps: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, p.Coordinates); err != nil {
		return nil, fmt.Errorf("wire: encode coordinates: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, p.Auth); err != nil {
		return nil, fmt.Errorf("wire: encode auth: %w", err)
	}
	buf.Write(p.Payload)
	return buf.Bytes(), nil
}

// DecodePacket parses a raw Frame payload into a Packet.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < FixedPacketOverhead {
		return nil, fmt.Errorf("wire: packet too short: %d bytes", len(b))
	}
	r := bytes.NewReader(b)
	p := &Packet{}
	if err := binary.Read(r, binary.BigEndian, &p.Header); err != nil {
		return nil, fmt.Errorf("wire: decode header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &p.Timestamps); err != nil {
		return nil, fmt.Errorf("wire: decode timestamps: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &p.Coordinates); err != nil {
		return nil, fmt.Errorf("wire: decode coordinates: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &p.Auth); err != nil {
		return nil, fmt.Errorf("wire: decode auth: %w", err)
	}
	size := int(p.Header.Size)
	if size > r.Len() {
		return nil, fmt.Errorf("wire: declared payload size %d exceeds remaining %d bytes", size, r.Len())
	}
	p.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		return nil, fmt.Errorf("wire: decode payload: %w", err)
	}
	return p, nil
}

// StampTxTimestamp overwrites the tx_timestamp field in-place in an already
// encoded packet buffer, without touching anything the MAC covers. This is
// exactly what the NIC layer does in NIC.send: the MAC is computed before
// the hardware timestamp is known, so the timestamp is excluded from it and
// patched in afterwards at a fixed byte offset.
func StampTxTimestamp(buf []byte, ts int64) error {
	if len(buf) < txTimestampOffset+8 {
		return fmt.Errorf("wire: buffer too short to stamp tx timestamp")
	}
	binary.BigEndian.PutUint64(buf[txTimestampOffset:], uint64(ts))
	return nil
}
