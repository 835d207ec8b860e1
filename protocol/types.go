// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Order is the delivery-order guarantee negotiated for a channel
type Order string

const (
	OrderNone      Order = ""
	OrderOrdered   Order = "ORDERED"
	OrderUnordered Order = "UNORDERED"
)

// ParseOrder accepts the bridge spellings (ORDERED, ORDER_ORDERED) and the
// lowercase address spelling (ordered)
func ParseOrder(s string) (Order, error) {
	switch strings.TrimPrefix(strings.ToUpper(s), "ORDER_") {
	case string(OrderOrdered):
		return OrderOrdered, nil
	case string(OrderUnordered):
		return OrderUnordered, nil
	}
	return OrderNone, fmt.Errorf("unknown channel order %q", s)
}

func (o Order) String() string {
	return string(o)
}

// AddressSegment returns the order as it appears in a local address
func (o Order) AddressSegment() string {
	return strings.ToLower(string(o))
}

// Counterparty identifies the remote end of a channel
type Counterparty struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

// ChannelKey is the identity of one open channel
type ChannelKey struct {
	ChannelID string
	PortID    string
}

func NewChannelKey(channelID string, portID string) ChannelKey {
	return ChannelKey{
		ChannelID: channelID,
		PortID:    portID,
	}
}

func (k ChannelKey) String() string {
	return k.ChannelID + ":" + k.PortID
}

// PacketKey correlates an outbound packet with its acknowledgement
type PacketKey struct {
	ChannelKey
	Sequence uint64
}

func (k PacketKey) String() string {
	return fmt.Sprintf("%s:%d", k.ChannelKey, k.Sequence)
}

type Height struct {
	RevisionNumber uint64 `json:"revision_number"`
	RevisionHeight uint64 `json:"revision_height"`
}

type Packet struct {
	Sequence           uint64  `json:"sequence,omitempty"`
	SourcePort         string  `json:"source_port"`
	SourceChannel      string  `json:"source_channel,omitempty"`
	DestinationPort    string  `json:"destination_port,omitempty"`
	DestinationChannel string  `json:"destination_channel,omitempty"`
	Data               []byte  `json:"data,omitempty"`
	TimeoutHeight      *Height `json:"timeout_height,omitempty"`
	TimeoutTimestamp   uint64  `json:"timeout_timestamp,omitempty"`
}

// SourceKey is the correlation key for acknowledgements of a packet we sent
func (p *Packet) SourceKey() PacketKey {
	return PacketKey{
		ChannelKey: NewChannelKey(p.SourceChannel, p.SourcePort),
		Sequence:   p.Sequence,
	}
}

// DestinationKey is the channel key a received packet is delivered on
func (p *Packet) DestinationKey() ChannelKey {
	return NewChannelKey(p.DestinationChannel, p.DestinationPort)
}

// Commitment returns a blake2b-256 digest over the timeout fields and the
// digest of the packet data
func (p *Packet) Commitment() []byte {
	buf := make([]byte, 0, 24+blake2b.Size256)
	buf = binary.BigEndian.AppendUint64(buf, p.TimeoutTimestamp)
	if p.TimeoutHeight != nil {
		buf = binary.BigEndian.AppendUint64(buf, p.TimeoutHeight.RevisionNumber)
		buf = binary.BigEndian.AppendUint64(buf, p.TimeoutHeight.RevisionHeight)
	} else {
		buf = binary.BigEndian.AppendUint64(buf, 0)
		buf = binary.BigEndian.AppendUint64(buf, 0)
	}
	dataHash := blake2b.Sum256(p.Data)
	buf = append(buf, dataHash[:]...)
	ret := blake2b.Sum256(buf)
	return ret[:]
}

// CommitmentHex is Commitment in a form suitable for log attributes
func (p *Packet) CommitmentHex() string {
	return hex.EncodeToString(p.Commitment())
}
