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

// Package bridge implements the boundary between the IBC protocol handler and
// the remote relayer ("bridge") that moves packets between chains.
//
// The handler talks to the bridge with downcalls (Bridge.Downcall) and
// receives bridge events (upcalls) which the Gateway decodes and dispatches.
package bridge

import (
	"context"

	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/protocol"
)

// Method names a downcall
type Method string

const (
	MethodBindPort              Method = "bindPort"
	MethodStartChannelOpenInit  Method = "startChannelOpenInit"
	MethodStartChannelCloseInit Method = "startChannelCloseInit"
	MethodSendPacket            Method = "sendPacket"
	MethodReceiveExecuted       Method = "receiveExecuted"
)

// Bridge is the remote relayer as seen from the handler. Downcall delivers a
// request and returns the CBOR-encoded result, which is empty for methods that
// return nothing.
//
// Implementations must not deliver upcalls synchronously from within Downcall.
type Bridge interface {
	Downcall(ctx context.Context, req Request) (cbor.RawMessage, error)
}

// BridgeFunc adapts a function to the Bridge interface
type BridgeFunc func(context.Context, Request) (cbor.RawMessage, error)

func (f BridgeFunc) Downcall(ctx context.Context, req Request) (cbor.RawMessage, error) {
	return f(ctx, req)
}

// Request is the payload of a downcall
type Request interface {
	Method() Method
}

type BindPortRequest struct {
	Packet protocol.Packet `json:"packet"`
}

func (BindPortRequest) Method() Method { return MethodBindPort }

type ChannelOpenInitRequest struct {
	Packet  protocol.Packet `json:"packet"`
	Order   protocol.Order  `json:"order"`
	Hops    []string        `json:"hops"`
	Version string          `json:"version"`
}

func (ChannelOpenInitRequest) Method() Method { return MethodStartChannelOpenInit }

type ChannelCloseInitRequest struct {
	Packet protocol.Packet `json:"packet"`
}

func (ChannelCloseInitRequest) Method() Method { return MethodStartChannelCloseInit }

type SendPacketRequest struct {
	Packet            protocol.Packet `json:"packet"`
	RelativeTimeoutNs uint64          `json:"relativeTimeoutNs"`
}

func (SendPacketRequest) Method() Method { return MethodSendPacket }

// ReceiveExecutedRequest acknowledges an inbound packet. Ack is base64
type ReceiveExecutedRequest struct {
	Packet protocol.Packet `json:"packet"`
	Ack    string          `json:"ack"`
}

func (ReceiveExecutedRequest) Method() Method { return MethodReceiveExecuted }

// NewRequest returns an empty request value for the given method, for use
// when decoding requests off the wire
func NewRequest(method Method) (Request, bool) {
	switch method {
	case MethodBindPort:
		return &BindPortRequest{}, true
	case MethodStartChannelOpenInit:
		return &ChannelOpenInitRequest{}, true
	case MethodStartChannelCloseInit:
		return &ChannelCloseInitRequest{}, true
	case MethodSendPacket:
		return &SendPacketRequest{}, true
	case MethodReceiveExecuted:
		return &ReceiveExecutedRequest{}, true
	}
	return nil, false
}
