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

// Package connection implements the protocol end of an open IBC channel
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/goibc/correlator"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/protocol"
)

// Sender submits a packet and returns a handle on its acknowledgement
type Sender interface {
	Send(ctx context.Context, packet protocol.Packet, timeout time.Duration) (*correlator.Ack, error)
}

type (
	OpenFunc  func(context.Context, protocol.ChannelKey, netstack.Connection)
	CloseFunc func(context.Context, protocol.ChannelKey, error)
)

type Config struct {
	Key          protocol.ChannelKey
	Order        protocol.Order
	Counterparty protocol.Counterparty
	Sender       Sender
	Logger       *slog.Logger
	OpenFunc     OpenFunc
	CloseFunc    CloseFunc
}

type sendRequest struct {
	ctx        context.Context
	packet     protocol.Packet
	timeout    time.Duration
	resultChan chan sendResult
}

type sendResult struct {
	ack *correlator.Ack
	err error
}

// Handler is the netstack.ConnectionHandler for the protocol end of a
// channel. Sends on ORDERED channels are submitted one at a time in call
// order
type Handler struct {
	config    Config
	logger    *slog.Logger
	sendChan  chan *sendRequest
	doneChan  chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	waitGroup sync.WaitGroup
}

func New(cfg Config) (*Handler, error) {
	if cfg.Sender == nil {
		return nil, errors.New("connection: no sender configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		config: cfg,
		logger: cfg.Logger.With(
			"port_id", cfg.Key.PortID,
			"channel_id", cfg.Key.ChannelID,
		),
		doneChan: make(chan struct{}),
	}
	if cfg.Order == protocol.OrderOrdered {
		h.sendChan = make(chan *sendRequest)
		h.waitGroup.Add(1)
		go h.sendLoop()
	}
	return h, nil
}

func (h *Handler) Key() protocol.ChannelKey {
	return h.config.Key
}

func (h *Handler) OnOpen(ctx context.Context, conn netstack.Connection, localAddr string, remoteAddr string) {
	h.logger.Debug(
		"connection opened",
		"local_address", localAddr,
		"remote_address", remoteAddr,
	)
	if h.config.OpenFunc != nil {
		h.config.OpenFunc(ctx, h.config.Key, conn)
	}
}

// OnReceive sends data to the counterparty and waits for its acknowledgement
func (h *Handler) OnReceive(
	ctx context.Context,
	_ netstack.Connection,
	data []byte,
	opts netstack.PacketOptions,
) ([]byte, error) {
	select {
	case <-h.doneChan:
		return nil, h.closedErr()
	default:
	}
	packet := protocol.Packet{
		SourcePort:         h.config.Key.PortID,
		SourceChannel:      h.config.Key.ChannelID,
		DestinationPort:    h.config.Counterparty.PortID,
		DestinationChannel: h.config.Counterparty.ChannelID,
		Data:               data,
	}
	var ack *correlator.Ack
	var err error
	if h.sendChan != nil {
		ack, err = h.sendOrdered(ctx, packet, opts.RelativeTimeout)
	} else {
		ack, err = h.config.Sender.Send(ctx, packet, opts.RelativeTimeout)
	}
	if err != nil {
		return nil, err
	}
	return ack.Wait(ctx)
}

func (h *Handler) sendOrdered(ctx context.Context, packet protocol.Packet, timeout time.Duration) (*correlator.Ack, error) {
	req := &sendRequest{
		ctx:        ctx,
		packet:     packet,
		timeout:    timeout,
		resultChan: make(chan sendResult, 1),
	}
	select {
	case h.sendChan <- req:
	case <-h.doneChan:
		return nil, h.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// The send loop always answers a request it has taken
	res := <-req.resultChan
	return res.ack, res.err
}

func (h *Handler) closedErr() error {
	return fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, h.config.Key)
}

func (h *Handler) sendLoop() {
	defer h.waitGroup.Done()
	for {
		select {
		case <-h.doneChan:
			return
		case req := <-h.sendChan:
			if err := req.ctx.Err(); err != nil {
				req.resultChan <- sendResult{err: err}
				continue
			}
			ack, err := h.config.Sender.Send(req.ctx, req.packet, req.timeout)
			req.resultChan <- sendResult{ack: ack, err: err}
		}
	}
}

// OnClose tears the channel down. It runs at most once
func (h *Handler) OnClose(ctx context.Context, _ netstack.Connection, reason error) {
	h.closeOnce.Do(func() {
		h.logger.Debug(
			"connection closed",
			"reason", reason,
		)
		if h.config.CloseFunc != nil {
			h.config.CloseFunc(ctx, h.config.Key, reason)
		}
		h.Stop()
	})
}

// Stop shuts down the ordered send loop. Pending sends fail with
// protocol.ErrConnectionClosed
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.doneChan)
	})
	h.waitGroup.Wait()
}
