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

// Package handshake drives channel open negotiation for locally and remotely
// initiated channels, and channel teardown.
//
// Outbound attempts move Requested -> Open|Failed. Inbound attempts move
// Trying -> Confirming -> Open, or Trying -> Rejected when the listener
// negotiates a different version. Both paths end in a registry entry with a
// connection handler for the channel key.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/goibc/address"
	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/connection"
	"github.com/blinklabs-io/goibc/correlator"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/port"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/blinklabs-io/goibc/registry"
)

// Gateway issues the handshake downcalls
type Gateway interface {
	StartChannelOpenInit(ctx context.Context, portID string, destinationPortID string, order protocol.Order, hops []string, version string) error
	StartChannelCloseInit(ctx context.Context, key protocol.ChannelKey) error
}

type Config struct {
	Gateway    Gateway
	Ports      *port.Controller
	Registry   *registry.Registry
	Correlator *correlator.Correlator
	Inbounder  netstack.Inbounder
	Logger     *slog.Logger
	Metrics    *metrics.HandlerMetrics
}

// inboundAttempt holds a remote initiated handshake between channelOpenTry
// and channelOpenConfirm
type inboundAttempt struct {
	attempt      netstack.InboundAttempt
	order        protocol.Order
	counterparty protocol.Counterparty
	hops         []string
	version      string
	localAddr    address.ChannelAddress
	remoteAddr   address.ChannelAddress
	state        protocol.State
}

type Coordinator struct {
	config    Config
	logger    *slog.Logger
	mutex     sync.Mutex
	inbound   map[protocol.ChannelKey]*inboundAttempt
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Gateway == nil || cfg.Ports == nil || cfg.Registry == nil || cfg.Correlator == nil {
		return nil, errors.New("handshake: incomplete config")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:  cfg,
		logger:  cfg.Logger,
		inbound: make(map[protocol.ChannelKey]*inboundAttempt),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect starts an outbound handshake from a bound port to remoteAddr. The
// returned attempt settles when the matching channelOpenAck arrives or the
// port is revoked
func (c *Coordinator) Connect(ctx context.Context, portID string, localAddr string, remoteAddr string) (*port.Attempt, error) {
	remote, err := address.ParseChannelAddress(remoteAddr)
	if err != nil {
		return nil, err
	}
	if remote.ChannelID != "" {
		return nil, fmt.Errorf(
			"%w: %q already names a channel",
			protocol.ErrInvalidAddress,
			remoteAddr,
		)
	}
	attempt := port.NewAttempt(portID, localAddr, remote, StateRequested)
	if err := c.config.Ports.AddAttempt(attempt); err != nil {
		return nil, err
	}
	c.logger.Debug(
		"starting outbound handshake",
		"attempt_id", attempt.Id,
		"port_id", portID,
		"remote_address", remoteAddr,
	)
	err = c.config.Gateway.StartChannelOpenInit(
		ctx,
		portID,
		remote.PortID,
		remote.Order,
		remote.Hops,
		remote.Version,
	)
	if err != nil {
		if c.config.Ports.RemoveAttempt(attempt) {
			c.failOutbound(attempt, protocol.TriggerCancel, err)
		}
		return nil, err
	}
	return attempt, nil
}

// Await waits for an outbound attempt. If ctx ends first the attempt is
// withdrawn, unless it was matched in the meantime
func (c *Coordinator) Await(ctx context.Context, attempt *port.Attempt) (*netstack.ConnectResult, error) {
	res, err := attempt.Result.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return res, err
	}
	if c.config.Ports.RemoveAttempt(attempt) {
		c.failOutbound(attempt, protocol.TriggerCancel, ctx.Err())
		return nil, ctx.Err()
	}
	// A matched attempt is always settled by the ack handler
	return attempt.Result.Wait(context.Background())
}

func (c *Coordinator) failOutbound(attempt *port.Attempt, trigger protocol.Trigger, err error) {
	c.transitionOutbound(attempt, trigger)
	attempt.Result.Reject(err)
	c.config.Metrics.RecordHandshake(protocol.DirectionOutbound, metrics.ResultFailed)
	c.logger.Info(
		"outbound handshake failed",
		"attempt_id", attempt.Id,
		"port_id", attempt.PortID,
		"error", err,
	)
}

func (c *Coordinator) transitionOutbound(attempt *port.Attempt, trigger protocol.Trigger) {
	next, err := OutboundStateMap.Next(attempt.State, trigger)
	if err != nil {
		c.logger.Warn(
			"invalid outbound handshake transition",
			"attempt_id", attempt.Id,
			"error", err,
		)
		return
	}
	attempt.State = next
}

func (c *Coordinator) transitionInbound(key protocol.ChannelKey, attempt *inboundAttempt, trigger protocol.Trigger) {
	next, err := InboundStateMap.Next(attempt.state, trigger)
	if err != nil {
		c.logger.Warn(
			"invalid inbound handshake transition",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
			"error", err,
		)
		return
	}
	attempt.state = next
}

// Revoke rejects the outbound attempts pending on a port and abandons the
// inbound attempts addressed to it
func (c *Coordinator) Revoke(portID string) {
	for _, attempt := range c.config.Ports.Revoke(portID) {
		c.transitionOutbound(attempt, protocol.TriggerRevoke)
		c.config.Metrics.RecordHandshake(protocol.DirectionOutbound, metrics.ResultFailed)
	}
	c.mutex.Lock()
	var abandoned []*inboundAttempt
	for key, attempt := range c.inbound {
		if key.PortID != portID {
			continue
		}
		delete(c.inbound, key)
		c.transitionInbound(key, attempt, protocol.TriggerRevoke)
		abandoned = append(abandoned, attempt)
	}
	c.mutex.Unlock()
	for _, attempt := range abandoned {
		c.closeInboundAttempt(attempt)
		c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultRejected)
	}
}

func (c *Coordinator) closeInboundAttempt(attempt *inboundAttempt) {
	if err := attempt.attempt.Close(); err != nil {
		c.logger.Debug(
			"failed to close inbound attempt",
			"local_address", attempt.localAddr.String(),
			"error", err,
		)
	}
}

// HandleChannelOpenAck completes the outbound attempt matching the
// counterparty port and connection hops
func (c *Coordinator) HandleChannelOpenAck(
	portID string,
	channelID string,
	counterparty protocol.Counterparty,
	counterpartyVersion string,
	hops []string,
) error {
	attempt, ok := c.config.Ports.MatchAttempt(portID, counterparty.PortID, hops)
	if !ok {
		return fmt.Errorf(
			"%w: port %s, counterparty port %s, hops %v",
			protocol.ErrUnexpectedAck,
			portID,
			counterparty.PortID,
			hops,
		)
	}
	key := protocol.NewChannelKey(channelID, portID)
	localAddr := address.ChannelAddress{
		PortID:    portID,
		Order:     attempt.Order,
		Version:   attempt.Version,
		ChannelID: channelID,
	}
	remoteAddr := address.ChannelAddress{
		Hops:      hops,
		PortID:    counterparty.PortID,
		Order:     attempt.Order,
		Version:   counterpartyVersion,
		ChannelID: counterparty.ChannelID,
	}
	h, err := c.openChannel(
		registry.Channel{
			Key:            key,
			Direction:      protocol.DirectionOutbound,
			Order:          attempt.Order,
			Counterparty:   counterparty,
			ConnectionHops: hops,
			Version:        attempt.Version,
			LocalAddress:   localAddr.String(),
			RemoteAddress:  remoteAddr.String(),
		},
	)
	if err != nil {
		c.failOutbound(attempt, protocol.TriggerCancel, err)
		return err
	}
	c.transitionOutbound(attempt, protocol.Trigger(bridge.EventChannelOpenAck))
	attempt.Result.Resolve(
		&netstack.ConnectResult{
			LocalAddress:  localAddr.String(),
			RemoteAddress: remoteAddr.String(),
			Handler:       h,
		},
	)
	c.config.Metrics.RecordHandshake(protocol.DirectionOutbound, metrics.ResultOpened)
	c.logger.Info(
		"outbound handshake complete",
		"attempt_id", attempt.Id,
		"port_id", portID,
		"channel_id", channelID,
	)
	return nil
}

// HandleChannelOpenTry asks the network stack whether it will accept a
// remote initiated channel and holds the attempt until channelOpenConfirm
func (c *Coordinator) HandleChannelOpenTry(
	ctx context.Context,
	portID string,
	channelID string,
	counterparty protocol.Counterparty,
	hops []string,
	orderName string,
	version string,
	counterpartyVersion string,
) error {
	if c.config.Inbounder == nil {
		return errors.New("no inbounder configured")
	}
	order, err := protocol.ParseOrder(orderName)
	if err != nil {
		return err
	}
	key := protocol.NewChannelKey(channelID, portID)
	c.mutex.Lock()
	_, pending := c.inbound[key]
	c.mutex.Unlock()
	if _, open := c.config.Registry.Get(key); pending || open {
		return fmt.Errorf("%w: %s", protocol.ErrChannelExists, key)
	}
	localAddr := address.ChannelAddress{
		PortID:  portID,
		Order:   order,
		Version: version,
	}
	remoteAddr := address.ChannelAddress{
		Hops:      hops,
		PortID:    counterparty.PortID,
		Order:     order,
		Version:   counterpartyVersion,
		ChannelID: counterparty.ChannelID,
	}
	attempt, err := c.config.Inbounder.Inbound(ctx, localAddr.String(), remoteAddr.String())
	if err != nil {
		c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultFailed)
		return fmt.Errorf("inbound %s: %w", localAddr.String(), err)
	}
	pendingAttempt := &inboundAttempt{
		attempt:      attempt,
		order:        order,
		counterparty: counterparty,
		hops:         hops,
		version:      version,
		remoteAddr:   remoteAddr,
		state:        StateTrying,
	}
	negotiated, err := address.ParseChannelAddress(attempt.LocalAddress())
	if err == nil && negotiated.Version != version {
		err = fmt.Errorf(
			"%w: proposed %q, negotiated %q",
			protocol.ErrVersionMismatch,
			version,
			negotiated.Version,
		)
	}
	if err != nil {
		c.transitionInbound(key, pendingAttempt, protocol.TriggerVersionRejected)
		c.closeInboundAttempt(pendingAttempt)
		c.unwind(key)
		c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultRejected)
		return err
	}
	pendingAttempt.localAddr = negotiated.WithoutChannel()
	c.transitionInbound(key, pendingAttempt, protocol.TriggerVersionAccepted)
	c.mutex.Lock()
	c.inbound[key] = pendingAttempt
	c.mutex.Unlock()
	c.logger.Debug(
		"inbound handshake waiting for confirm",
		"port_id", portID,
		"channel_id", channelID,
	)
	return nil
}

// unwind drops anything left for a channel key by a failed inbound handshake
func (c *Coordinator) unwind(key protocol.ChannelKey) {
	c.mutex.Lock()
	delete(c.inbound, key)
	c.mutex.Unlock()
	c.config.Registry.Remove(key)
	c.config.Correlator.RejectChannel(key, protocol.ErrConnectionClosed)
}

// HandleChannelOpenConfirm completes the inbound attempt for the channel key.
// The network stack is told to accept the connection without waiting for it
func (c *Coordinator) HandleChannelOpenConfirm(portID string, channelID string) error {
	key := protocol.NewChannelKey(channelID, portID)
	c.mutex.Lock()
	pending, ok := c.inbound[key]
	delete(c.inbound, key)
	c.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnexpectedConfirm, key)
	}
	localAddr := pending.localAddr.WithChannel(channelID)
	h, err := c.openChannel(
		registry.Channel{
			Key:            key,
			Direction:      protocol.DirectionInbound,
			Order:          pending.order,
			Counterparty:   pending.counterparty,
			ConnectionHops: pending.hops,
			Version:        pending.version,
			LocalAddress:   localAddr.String(),
			RemoteAddress:  pending.remoteAddr.String(),
		},
	)
	if err != nil {
		c.transitionInbound(key, pending, protocol.TriggerClose)
		c.closeInboundAttempt(pending)
		c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultFailed)
		return err
	}
	c.transitionInbound(key, pending, protocol.Trigger(bridge.EventChannelOpenConfirm))
	c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultOpened)
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		conn, err := pending.attempt.Accept(
			c.ctx,
			netstack.AcceptOptions{
				LocalAddress:  localAddr.String(),
				RemoteAddress: pending.remoteAddr.String(),
				Handler:       h,
			},
		)
		if err != nil {
			c.logger.Error(
				"network stack did not accept inbound channel",
				"port_id", portID,
				"channel_id", channelID,
				"error", err,
			)
			c.closeChannel(c.ctx, key, true)
			return
		}
		if err := c.config.Registry.SetConnection(key, conn); err != nil {
			// Closed before the network stack finished accepting
			_ = conn.Close(c.ctx)
		}
	}()
	c.logger.Info(
		"inbound handshake complete",
		"port_id", portID,
		"channel_id", channelID,
	)
	return nil
}

func (c *Coordinator) openChannel(ch registry.Channel) (*connection.Handler, error) {
	h, err := connection.New(
		connection.Config{
			Key:          ch.Key,
			Order:        ch.Order,
			Counterparty: ch.Counterparty,
			Sender:       c.config.Correlator,
			Logger:       c.logger,
			OpenFunc:     c.onOpen,
			CloseFunc:    c.onClose,
		},
	)
	if err != nil {
		return nil, err
	}
	if err := c.config.Registry.Add(ch, h); err != nil {
		h.Stop()
		return nil, err
	}
	c.config.Correlator.OpenChannel(ch.Key)
	return h, nil
}

func (c *Coordinator) onOpen(ctx context.Context, key protocol.ChannelKey, conn netstack.Connection) {
	if err := c.config.Registry.SetConnection(key, conn); err != nil {
		c.logger.Warn(
			"connection opened for a channel that is gone",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
		)
		_ = conn.Close(ctx)
	}
}

// onClose runs when the network stack closes the protocol end of a channel
func (c *Coordinator) onClose(ctx context.Context, key protocol.ChannelKey, _ error) {
	c.closeChannel(ctx, key, true)
}

// closeChannel removes a channel and rejects its pending acknowledgements.
// The bridge is told to close the channel only when it did not initiate the
// close itself
func (c *Coordinator) closeChannel(ctx context.Context, key protocol.ChannelKey, notifyBridge bool) {
	existed, remote := c.config.Registry.Remove(key)
	if existed && !remote && notifyBridge {
		if err := c.config.Gateway.StartChannelCloseInit(ctx, key); err != nil {
			c.logger.Error(
				"failed to start channel close",
				"port_id", key.PortID,
				"channel_id", key.ChannelID,
				"error", err,
			)
		}
	}
	rejected := c.config.Correlator.RejectChannel(
		key,
		fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, key),
	)
	if existed {
		c.logger.Debug(
			"rejected pending acknowledgements",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
			"count", rejected,
		)
	}
}

// HandleChannelClose tears down a channel the bridge reports as closing
func (c *Coordinator) HandleChannelClose(ctx context.Context, key protocol.ChannelKey) error {
	if !c.config.Registry.MarkRemoteClosed(key) {
		c.mutex.Lock()
		pending, ok := c.inbound[key]
		delete(c.inbound, key)
		c.mutex.Unlock()
		if ok {
			c.transitionInbound(key, pending, protocol.TriggerClose)
			c.closeInboundAttempt(pending)
			c.config.Metrics.RecordHandshake(protocol.DirectionInbound, metrics.ResultRejected)
			return nil
		}
		c.logger.Debug(
			"close for unknown channel",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
		)
		return nil
	}
	if conn, ok := c.config.Registry.ReadyConnection(key); ok {
		// Closing the connection runs the handler's OnClose, which removes
		// the channel
		if err := conn.Close(ctx); err == nil {
			return nil
		}
	}
	c.closeChannel(ctx, key, false)
	return nil
}

// PendingInbound returns the number of inbound attempts waiting for
// channelOpenConfirm
func (c *Coordinator) PendingInbound() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.inbound)
}

// Close abandons inbound attempts and waits for accepts in progress
func (c *Coordinator) Close() {
	c.mutex.Lock()
	inbound := c.inbound
	c.inbound = make(map[protocol.ChannelKey]*inboundAttempt)
	c.mutex.Unlock()
	for _, attempt := range inbound {
		c.closeInboundAttempt(attempt)
	}
	c.cancel()
	c.waitGroup.Wait()
}
