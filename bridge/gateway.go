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
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/protocol"
)

// UpcallHandler consumes decoded bridge events
type UpcallHandler interface {
	HandleChannelOpenTry(context.Context, *ChannelOpenTryEvent) error
	HandleChannelOpenAck(context.Context, *ChannelOpenAckEvent) error
	HandleChannelOpenConfirm(context.Context, *ChannelOpenConfirmEvent) error
	// HandleChannelClose is called for both channelCloseInit and channelCloseConfirm
	HandleChannelClose(context.Context, protocol.ChannelKey) error
	HandleReceivePacket(context.Context, *ReceivePacketEvent) error
	HandleAcknowledgementPacket(context.Context, *AcknowledgementPacketEvent) error
	HandleTimeoutPacket(context.Context, *TimeoutPacketEvent) error
	HandleSendPacket(context.Context, *SendPacketEvent) error
}

// Gateway translates local protocol actions into downcalls and bridge events
// into calls on an UpcallHandler
type Gateway struct {
	bridge Bridge
	logger *slog.Logger
}

func NewGateway(b Bridge, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		bridge: b,
		logger: logger,
	}
}

func (g *Gateway) downcall(ctx context.Context, req Request) (cbor.RawMessage, error) {
	g.logger.Debug(
		"issuing downcall",
		"method", req.Method(),
	)
	ret, err := g.bridge.Downcall(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method(), err)
	}
	return ret, nil
}

// BindPort reserves the port on the remote side
func (g *Gateway) BindPort(ctx context.Context, portID string) error {
	_, err := g.downcall(
		ctx,
		BindPortRequest{
			Packet: protocol.Packet{SourcePort: portID},
		},
	)
	return err
}

// StartChannelOpenInit begins an outbound handshake
func (g *Gateway) StartChannelOpenInit(
	ctx context.Context,
	portID string,
	destinationPortID string,
	order protocol.Order,
	hops []string,
	version string,
) error {
	_, err := g.downcall(
		ctx,
		ChannelOpenInitRequest{
			Packet: protocol.Packet{
				SourcePort:      portID,
				DestinationPort: destinationPortID,
			},
			Order:   order,
			Hops:    hops,
			Version: version,
		},
	)
	return err
}

// StartChannelCloseInit begins channel teardown
func (g *Gateway) StartChannelCloseInit(ctx context.Context, key protocol.ChannelKey) error {
	_, err := g.downcall(
		ctx,
		ChannelCloseInitRequest{
			Packet: protocol.Packet{
				SourcePort:    key.PortID,
				SourceChannel: key.ChannelID,
			},
		},
	)
	return err
}

// SendPacket submits a packet and returns it annotated with the sequence the
// bridge assigned
func (g *Gateway) SendPacket(
	ctx context.Context,
	packet protocol.Packet,
	relativeTimeout time.Duration,
) (protocol.Packet, error) {
	ret, err := g.downcall(
		ctx,
		SendPacketRequest{
			Packet:            packet,
			RelativeTimeoutNs: uint64(relativeTimeout.Nanoseconds()),
		},
	)
	if err != nil {
		return protocol.Packet{}, err
	}
	if len(ret) == 0 {
		return protocol.Packet{}, fmt.Errorf("%s: empty result", MethodSendPacket)
	}
	var sent protocol.Packet
	if _, err := cbor.Decode(ret, &sent); err != nil {
		return protocol.Packet{}, fmt.Errorf("%s: decode result: %w", MethodSendPacket, err)
	}
	if sent.Sequence == 0 {
		return protocol.Packet{}, fmt.Errorf("%s: result has no sequence", MethodSendPacket)
	}
	return sent, nil
}

// ReceiveExecuted acknowledges a received inbound packet
func (g *Gateway) ReceiveExecuted(ctx context.Context, packet protocol.Packet, ack []byte) error {
	_, err := g.downcall(
		ctx,
		ReceiveExecutedRequest{
			Packet: packet,
			Ack:    base64.StdEncoding.EncodeToString(ack),
		},
	)
	return err
}

// HandleUpcall decodes a CBOR bridge event and dispatches it
func (g *Gateway) HandleUpcall(ctx context.Context, data []byte, h UpcallHandler) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	return g.Dispatch(ctx, ev, h)
}

// Dispatch routes a bridge event to the matching UpcallHandler method
func (g *Gateway) Dispatch(ctx context.Context, ev Event, h UpcallHandler) error {
	if ev == nil {
		return errors.New("nil bridge event")
	}
	g.logger.Debug(
		"dispatching bridge event",
		"event", ev.Type(),
	)
	switch e := ev.(type) {
	case *ChannelOpenTryEvent:
		return h.HandleChannelOpenTry(ctx, e)
	case *ChannelOpenAckEvent:
		return h.HandleChannelOpenAck(ctx, e)
	case *ChannelOpenConfirmEvent:
		return h.HandleChannelOpenConfirm(ctx, e)
	case *ChannelCloseInitEvent:
		return h.HandleChannelClose(ctx, protocol.NewChannelKey(e.ChannelID, e.PortID))
	case *ChannelCloseConfirmEvent:
		return h.HandleChannelClose(ctx, protocol.NewChannelKey(e.ChannelID, e.PortID))
	case *ReceivePacketEvent:
		return h.HandleReceivePacket(ctx, e)
	case *AcknowledgementPacketEvent:
		return h.HandleAcknowledgementPacket(ctx, e)
	case *TimeoutPacketEvent:
		return h.HandleTimeoutPacket(ctx, e)
	case *SendPacketEvent:
		return h.HandleSendPacket(ctx, e)
	}
	return fmt.Errorf("%w: %q", protocol.ErrUnrecognizedEvent, ev.Type())
}
