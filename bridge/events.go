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

package bridge

import (
	"fmt"

	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/protocol"
)

// EventType is the value of the "event" field of an upcall
type EventType string

const (
	EventChannelOpenTry        EventType = "channelOpenTry"
	EventChannelOpenAck        EventType = "channelOpenAck"
	EventChannelOpenConfirm    EventType = "channelOpenConfirm"
	EventChannelCloseInit      EventType = "channelCloseInit"
	EventChannelCloseConfirm   EventType = "channelCloseConfirm"
	EventReceivePacket         EventType = "receivePacket"
	EventAcknowledgementPacket EventType = "acknowledgementPacket"
	EventTimeoutPacket         EventType = "timeoutPacket"
	EventSendPacket            EventType = "sendPacket"
)

const eventKey = "event"

// Event is a decoded upcall
type Event interface {
	Type() EventType
}

type ChannelOpenTryEvent struct {
	ChannelID           string                `json:"channelID"`
	PortID              string                `json:"portID"`
	Counterparty        protocol.Counterparty `json:"counterparty"`
	ConnectionHops      []string              `json:"connectionHops"`
	Order               string                `json:"order"`
	Version             string                `json:"version"`
	CounterpartyVersion string                `json:"counterpartyVersion"`
}

func (*ChannelOpenTryEvent) Type() EventType { return EventChannelOpenTry }

type ChannelOpenAckEvent struct {
	PortID              string                `json:"portID"`
	ChannelID           string                `json:"channelID"`
	Counterparty        protocol.Counterparty `json:"counterparty"`
	CounterpartyVersion string                `json:"counterpartyVersion"`
	ConnectionHops      []string              `json:"connectionHops"`
}

func (*ChannelOpenAckEvent) Type() EventType { return EventChannelOpenAck }

type ChannelOpenConfirmEvent struct {
	PortID    string `json:"portID"`
	ChannelID string `json:"channelID"`
}

func (*ChannelOpenConfirmEvent) Type() EventType { return EventChannelOpenConfirm }

type ChannelCloseInitEvent struct {
	PortID    string `json:"portID"`
	ChannelID string `json:"channelID"`
}

func (*ChannelCloseInitEvent) Type() EventType { return EventChannelCloseInit }

type ChannelCloseConfirmEvent struct {
	PortID    string `json:"portID"`
	ChannelID string `json:"channelID"`
}

func (*ChannelCloseConfirmEvent) Type() EventType { return EventChannelCloseConfirm }

type ReceivePacketEvent struct {
	Packet protocol.Packet `json:"packet"`
}

func (*ReceivePacketEvent) Type() EventType { return EventReceivePacket }

type AcknowledgementPacketEvent struct {
	Packet          protocol.Packet `json:"packet"`
	Acknowledgement []byte          `json:"acknowledgement"`
}

func (*AcknowledgementPacketEvent) Type() EventType { return EventAcknowledgementPacket }

type TimeoutPacketEvent struct {
	Packet protocol.Packet `json:"packet"`
}

func (*TimeoutPacketEvent) Type() EventType { return EventTimeoutPacket }

// SendPacketEvent is an operator-issued send that did not come through a
// connection
type SendPacketEvent struct {
	Packet            protocol.Packet `json:"packet"`
	RelativeTimeoutNs uint64          `json:"relativeTimeoutNs,omitempty"`
}

func (*SendPacketEvent) Type() EventType { return EventSendPacket }

func newEvent(eventType EventType) (Event, bool) {
	switch eventType {
	case EventChannelOpenTry:
		return &ChannelOpenTryEvent{}, true
	case EventChannelOpenAck:
		return &ChannelOpenAckEvent{}, true
	case EventChannelOpenConfirm:
		return &ChannelOpenConfirmEvent{}, true
	case EventChannelCloseInit:
		return &ChannelCloseInitEvent{}, true
	case EventChannelCloseConfirm:
		return &ChannelCloseConfirmEvent{}, true
	case EventReceivePacket:
		return &ReceivePacketEvent{}, true
	case EventAcknowledgementPacket:
		return &AcknowledgementPacketEvent{}, true
	case EventTimeoutPacket:
		return &TimeoutPacketEvent{}, true
	case EventSendPacket:
		return &SendPacketEvent{}, true
	}
	return nil, false
}

// DecodeEvent decodes a CBOR upcall of the form {event: <name>, ...fields}
func DecodeEvent(data []byte) (Event, error) {
	name, err := cbor.DecodeMapString(data, eventKey)
	if err != nil {
		return nil, fmt.Errorf("decode bridge event: %w", err)
	}
	ev, ok := newEvent(EventType(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnrecognizedEvent, name)
	}
	if _, err := cbor.Decode(data, ev); err != nil {
		return nil, fmt.Errorf("decode bridge event %s: %w", name, err)
	}
	return ev, nil
}

// EncodeEvent is the inverse of DecodeEvent
func EncodeEvent(ev Event) ([]byte, error) {
	fields, err := cbor.Encode(ev)
	if err != nil {
		return nil, err
	}
	var tmp map[string]cbor.RawMessage
	if _, err := cbor.Decode(fields, &tmp); err != nil {
		return nil, err
	}
	name, err := cbor.Encode(string(ev.Type()))
	if err != nil {
		return nil, err
	}
	tmp[eventKey] = name
	return cbor.Encode(tmp)
}
