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

// Package ibc implements an IBC protocol handler. It plugs into a network
// stack as a netstack.Protocol, negotiates channels with a remote relayer
// through a bridge, and relays packets over the resulting connections.
//
// Locally initiated actions (bind, connect, send) become downcalls to the
// bridge. Bridge events (upcalls) complete handshakes, deliver inbound
// packets and settle acknowledgements.
package ibc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/goibc/address"
	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/correlator"
	"github.com/blinklabs-io/goibc/handshake"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/port"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/blinklabs-io/goibc/registry"
	"github.com/blinklabs-io/goibc/store"

	"go.uber.org/multierr"
)

// defaultAck is sent for an inbound packet whose handler returned no
// acknowledgement. The commitment store cannot tell an empty ack from a
// missing one
var defaultAck = []byte{1}

type Handler struct {
	logger         *slog.Logger
	bridge         bridge.Bridge
	inbounder      netstack.Inbounder
	store          store.Store
	metrics        *metrics.HandlerMetrics
	defaultTimeout time.Duration
	orphanAckLimit int
	gateway        *bridge.Gateway
	ports          *port.Controller
	registry       *registry.Registry
	correlator     *correlator.Correlator
	handshake      *handshake.Coordinator
	ctx            context.Context
	cancel         context.CancelFunc
	mutex          sync.Mutex
	deliveries     map[protocol.ChannelKey]chan struct{}
	waitGroup      sync.WaitGroup
	onceClose      sync.Once
	closeErr       error
}

// NewHandler returns a new Handler with the specified options
func NewHandler(options ...HandlerOptionFunc) (*Handler, error) {
	h := &Handler{
		deliveries: make(map[protocol.ChannelKey]chan struct{}),
	}
	for _, option := range options {
		option(h)
	}
	if h.bridge == nil {
		return nil, errors.New("no bridge specified")
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.store == nil {
		h.store = store.NewMemory()
	}
	h.gateway = bridge.NewGateway(h.bridge, h.logger.With("component", "gateway"))
	h.ports = port.NewController(port.Config{
		Binder: h.gateway,
		Logger: h.logger.With("component", "port"),
	})
	h.registry = registry.New(registry.Config{
		Store:   h.store,
		Logger:  h.logger.With("component", "registry"),
		Metrics: h.metrics,
	})
	if err := h.registry.PurgeStale(); err != nil {
		return nil, err
	}
	var err error
	h.correlator, err = correlator.New(correlator.Config{
		Sender:         h.gateway,
		Logger:         h.logger.With("component", "correlator"),
		Metrics:        h.metrics,
		DefaultTimeout: h.defaultTimeout,
		OrphanLimit:    h.orphanAckLimit,
	})
	if err != nil {
		return nil, err
	}
	h.handshake, err = handshake.New(handshake.Config{
		Gateway:    h.gateway,
		Ports:      h.ports,
		Registry:   h.registry,
		Correlator: h.correlator,
		Inbounder:  h.inbounder,
		Logger:     h.logger.With("component", "handshake"),
		Metrics:    h.metrics,
	})
	if err != nil {
		h.correlator.Close()
		return nil, err
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// GeneratePortID returns a fresh port identifier
func (h *Handler) GeneratePortID() string {
	return h.ports.GeneratePortID()
}

// BindPort binds a freshly generated port and returns its local address
func (h *Handler) BindPort(ctx context.Context) (string, error) {
	localAddr := address.PortAddress(h.ports.GeneratePortID())
	if err := h.OnBind(ctx, localAddr); err != nil {
		return "", err
	}
	return localAddr, nil
}

// OnBind implements netstack.Protocol
func (h *Handler) OnBind(ctx context.Context, localAddr string) error {
	_, err := h.ports.Bind(ctx, localAddr)
	return err
}

// OnConnect implements netstack.Protocol. It blocks until the bridge
// acknowledges the channel, the port is revoked or ctx is done
func (h *Handler) OnConnect(ctx context.Context, localAddr string, remoteAddr string) (*netstack.ConnectResult, error) {
	portID, err := address.ParsePortAddress(localAddr)
	if err != nil {
		return nil, err
	}
	attempt, err := h.handshake.Connect(ctx, portID, localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	return h.handshake.Await(ctx, attempt)
}

// OnListen implements netstack.Protocol. Listening needs nothing from the
// bridge, so only the port is checked
func (h *Handler) OnListen(_ context.Context, localAddr string) error {
	portID, err := address.ParsePortAddress(localAddr)
	if err != nil {
		return err
	}
	if !h.ports.Bound(portID) {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownPort, portID)
	}
	h.logger.Debug(
		"listening",
		"port_id", portID,
	)
	return nil
}

// OnRevoke implements netstack.Protocol. Pending outbound attempts on the
// port fail with protocol.ErrPortRevoked
func (h *Handler) OnRevoke(_ context.Context, localAddr string) error {
	portID, err := address.ParsePortAddress(localAddr)
	if err != nil {
		return err
	}
	h.handshake.Revoke(portID)
	return nil
}

// HandleUpcall decodes and handles a CBOR encoded bridge event. Events that
// match no pending state are logged and their error returned
func (h *Handler) HandleUpcall(ctx context.Context, data []byte) error {
	if err := h.gateway.HandleUpcall(ctx, data, h); err != nil {
		h.logger.Warn(
			"failed to handle bridge event",
			"error", err,
		)
		return err
	}
	return nil
}

// HandleEvent handles a decoded bridge event
func (h *Handler) HandleEvent(ctx context.Context, ev bridge.Event) error {
	if err := h.gateway.Dispatch(ctx, ev, h); err != nil {
		h.logger.Warn(
			"failed to handle bridge event",
			"error", err,
		)
		return err
	}
	return nil
}

func (h *Handler) HandleChannelOpenTry(ctx context.Context, ev *bridge.ChannelOpenTryEvent) error {
	return h.handshake.HandleChannelOpenTry(
		ctx,
		ev.PortID,
		ev.ChannelID,
		ev.Counterparty,
		ev.ConnectionHops,
		ev.Order,
		ev.Version,
		ev.CounterpartyVersion,
	)
}

func (h *Handler) HandleChannelOpenAck(_ context.Context, ev *bridge.ChannelOpenAckEvent) error {
	return h.handshake.HandleChannelOpenAck(
		ev.PortID,
		ev.ChannelID,
		ev.Counterparty,
		ev.CounterpartyVersion,
		ev.ConnectionHops,
	)
}

func (h *Handler) HandleChannelOpenConfirm(_ context.Context, ev *bridge.ChannelOpenConfirmEvent) error {
	return h.handshake.HandleChannelOpenConfirm(ev.PortID, ev.ChannelID)
}

func (h *Handler) HandleChannelClose(ctx context.Context, key protocol.ChannelKey) error {
	return h.handshake.HandleChannelClose(ctx, key)
}

// HandleReceivePacket delivers an inbound packet to the connection for its
// destination channel and acknowledges it once the connection answers.
// Delivery does not hold up the upcall. Packets on an ORDERED channel are
// delivered one at a time in arrival order
func (h *Handler) HandleReceivePacket(_ context.Context, ev *bridge.ReceivePacketEvent) error {
	packet := ev.Packet
	key := packet.DestinationKey()
	ch, ok := h.registry.Get(key)
	if !ok {
		return fmt.Errorf("receive packet: %w: %s", registry.ErrUnknownChannel, key)
	}
	h.mutex.Lock()
	prevChan := h.deliveries[key]
	doneChan := make(chan struct{})
	if ch.Order == protocol.OrderOrdered {
		h.deliveries[key] = doneChan
	}
	h.mutex.Unlock()
	h.waitGroup.Add(1)
	go func() {
		defer h.waitGroup.Done()
		defer func() {
			close(doneChan)
			h.mutex.Lock()
			if h.deliveries[key] == doneChan {
				delete(h.deliveries, key)
			}
			h.mutex.Unlock()
		}()
		if prevChan != nil {
			select {
			case <-prevChan:
			case <-h.ctx.Done():
				return
			}
		}
		h.deliver(key, packet)
	}()
	return nil
}

func (h *Handler) deliver(key protocol.ChannelKey, packet protocol.Packet) {
	logger := h.logger.With(
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"sequence", packet.Sequence,
	)
	conn, err := h.registry.Connection(h.ctx, key)
	if err != nil {
		h.metrics.RecordReceived(err)
		logger.Error(
			"no connection for inbound packet",
			"error", err,
		)
		return
	}
	ack, err := conn.Send(h.ctx, packet.Data, netstack.PacketOptions{})
	h.metrics.RecordReceived(err)
	if err != nil {
		// The relayer retries or times the packet out
		logger.Error(
			"inbound packet delivery failed, not acknowledging",
			"error", err,
		)
		return
	}
	if len(ack) == 0 {
		ack = defaultAck
	}
	if err := h.gateway.ReceiveExecuted(h.ctx, packet, ack); err != nil {
		logger.Error(
			"failed to acknowledge inbound packet",
			"error", err,
		)
	}
}

func (h *Handler) HandleAcknowledgementPacket(_ context.Context, ev *bridge.AcknowledgementPacketEvent) error {
	h.correlator.Acknowledge(ev.Packet, ev.Acknowledgement)
	return nil
}

func (h *Handler) HandleTimeoutPacket(_ context.Context, ev *bridge.TimeoutPacketEvent) error {
	h.correlator.Timeout(ev.Packet)
	return nil
}

func (h *Handler) HandleSendPacket(_ context.Context, ev *bridge.SendPacketEvent) error {
	h.correlator.SendManual(ev.Packet, time.Duration(ev.RelativeTimeoutNs))
	return nil
}

// Channels returns the open channels
func (h *Handler) Channels() []registry.Channel {
	return h.registry.Channels()
}

// PendingAcks returns the number of sent packets on a channel that are
// waiting for an acknowledgement or timeout
func (h *Handler) PendingAcks(key protocol.ChannelKey) int {
	return h.correlator.Pending(key)
}

// Close rejects pending attempts and acknowledgements with
// protocol.ErrHandlerShuttingDown, closes open connections and closes the
// store
func (h *Handler) Close() error {
	h.onceClose.Do(func() {
		var err error
		for _, attempt := range h.ports.RevokeAll(protocol.ErrHandlerShuttingDown) {
			h.logger.Debug(
				"abandoned outbound attempt",
				"attempt_id", attempt.Id,
				"port_id", attempt.PortID,
			)
		}
		h.handshake.Close()
		for _, key := range h.registry.Keys() {
			if conn, ok := h.registry.ReadyConnection(key); ok {
				closeErr := conn.Close(h.ctx)
				if closeErr == nil {
					continue
				}
				if !errors.Is(closeErr, protocol.ErrConnectionClosed) {
					err = multierr.Append(err, fmt.Errorf("close channel %s: %w", key, closeErr))
				}
			}
			h.registry.Remove(key)
		}
		h.correlator.Close()
		h.cancel()
		h.waitGroup.Wait()
		err = multierr.Append(err, h.store.Close())
		h.closeErr = err
	})
	return h.closeErr
}
