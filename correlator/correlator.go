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

// Package correlator matches outbound packets with the acknowledgements and
// timeouts the bridge reports for them.
//
// Entries are keyed by (channel ID, port ID, sequence) and created on first
// touch, so an acknowledgement that arrives before the sender has claimed the
// sequence is kept until a sender claims it or it is evicted.
package correlator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/goibc/internal/future"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/protocol"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTimeout     = 10 * time.Minute
	DefaultOrphanLimit = 1024
)

// Sender submits a packet to the bridge and returns it annotated with the
// sequence the bridge assigned
type Sender interface {
	SendPacket(ctx context.Context, packet protocol.Packet, timeout time.Duration) (protocol.Packet, error)
}

type Config struct {
	Sender         Sender
	Logger         *slog.Logger
	Metrics        *metrics.HandlerMetrics
	DefaultTimeout time.Duration
	OrphanLimit    int
}

type entry struct {
	result     *future.Future[[]byte]
	claimed    bool
	commitment []byte
}

func newEntry() *entry {
	return &entry{
		result: future.New[[]byte](),
	}
}

// Ack is the eventual acknowledgement of one sent packet
type Ack struct {
	key    protocol.PacketKey
	packet protocol.Packet
	entry  *entry
}

func (a *Ack) Key() protocol.PacketKey {
	return a.key
}

// Packet returns the packet as annotated by the bridge
func (a *Ack) Packet() protocol.Packet {
	return a.packet
}

// Done is closed once the acknowledgement or timeout has arrived
func (a *Ack) Done() <-chan struct{} {
	return a.entry.result.Done()
}

// Wait returns the acknowledgement bytes, or the error the packet was
// rejected with
func (a *Ack) Wait(ctx context.Context) ([]byte, error) {
	return a.entry.result.Wait(ctx)
}

type Correlator struct {
	config  Config
	logger  *slog.Logger
	mutex   sync.Mutex
	entries map[protocol.ChannelKey]map[uint64]*entry
	orphans *lru.Cache[protocol.PacketKey, *entry]
	// Channels rejected by RejectChannel. Sends and results for them are
	// refused until OpenChannel
	closedChans map[protocol.ChannelKey]struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	waitGroup   sync.WaitGroup
	closed      bool
}

func New(cfg Config) (*Correlator, error) {
	if cfg.Sender == nil {
		return nil, errors.New("correlator: no sender configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.OrphanLimit <= 0 {
		cfg.OrphanLimit = DefaultOrphanLimit
	}
	orphans, err := lru.New[protocol.PacketKey, *entry](cfg.OrphanLimit)
	if err != nil {
		return nil, fmt.Errorf("correlator: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Correlator{
		config:  cfg,
		logger:  cfg.Logger,
		entries:     make(map[protocol.ChannelKey]map[uint64]*entry),
		orphans:     orphans,
		closedChans: make(map[protocol.ChannelKey]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Send submits packet through the sender and returns a handle on its
// acknowledgement. A timeout of zero or less uses the configured default.
// If the channel closes while the sender is busy, the send fails with
// protocol.ErrConnectionClosed even though the bridge took the packet
func (c *Correlator) Send(ctx context.Context, packet protocol.Packet, timeout time.Duration) (*Ack, error) {
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}
	chanKey := protocol.NewChannelKey(packet.SourceChannel, packet.SourcePort)
	c.mutex.Lock()
	err := c.checkOpen(chanKey)
	c.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	sent, err := c.config.Sender.SendPacket(ctx, packet, timeout)
	if err != nil {
		return nil, err
	}
	key := protocol.PacketKey{
		ChannelKey: chanKey,
		Sequence:   sent.Sequence,
	}
	c.config.Metrics.RecordSent()
	c.mutex.Lock()
	if err := c.checkOpen(chanKey); err != nil {
		c.mutex.Unlock()
		c.logger.Warn(
			"channel closed while packet was being sent",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
			"sequence", key.Sequence,
		)
		return nil, err
	}
	e := c.claim(key, &sent)
	c.mutex.Unlock()
	c.logger.Debug(
		"packet sent",
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"sequence", key.Sequence,
	)
	return &Ack{
		key:    key,
		packet: sent,
		entry:  e,
	}, nil
}

// checkOpen reports why sends on the channel are refused, if they are. The
// caller must hold the mutex
func (c *Correlator) checkOpen(key protocol.ChannelKey) error {
	if c.closed {
		return protocol.ErrHandlerShuttingDown
	}
	if _, ok := c.closedChans[key]; ok {
		return fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, key)
	}
	return nil
}

// OpenChannel clears a previous RejectChannel for the key
func (c *Correlator) OpenChannel(key protocol.ChannelKey) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.closedChans, key)
}

// claim returns the entry for key, creating it if needed, and marks it as
// owned by a sender. The caller must hold the mutex
func (c *Correlator) claim(key protocol.PacketKey, packet *protocol.Packet) *entry {
	if e, ok := c.orphans.Get(key); ok {
		c.orphans.Remove(key)
		if packet != nil && e.commitment != nil && !bytes.Equal(e.commitment, packet.Commitment()) {
			c.commitmentMismatch(key, packet)
			e = newEntry()
			e.result.Reject(fmt.Errorf("%w: %s", protocol.ErrCommitmentMismatch, key))
		}
		e.claimed = true
		return e
	}
	chanEntries := c.entries[key.ChannelKey]
	if chanEntries == nil {
		chanEntries = make(map[uint64]*entry)
		c.entries[key.ChannelKey] = chanEntries
	}
	e, ok := chanEntries[key.Sequence]
	if !ok {
		e = newEntry()
		chanEntries[key.Sequence] = e
	}
	if e.claimed {
		c.logger.Warn(
			"sequence claimed by more than one send",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
			"sequence", key.Sequence,
		)
	}
	e.claimed = true
	if packet != nil {
		e.commitment = packet.Commitment()
	}
	return e
}

// settle finds or creates the entry for key and settles it. Results for
// closed channels are dropped. The caller must hold the mutex
func (c *Correlator) settle(key protocol.PacketKey, packet *protocol.Packet, ack []byte, err error) {
	if c.checkOpen(key.ChannelKey) != nil {
		c.logger.Debug(
			"dropping result for closed channel",
			"port_id", key.PortID,
			"channel_id", key.ChannelID,
			"sequence", key.Sequence,
		)
		return
	}
	chanEntries := c.entries[key.ChannelKey]
	e, ok := chanEntries[key.Sequence]
	if !ok {
		if _, orphaned := c.orphans.Peek(key); orphaned {
			c.logger.Warn(
				"duplicate result for sequence",
				"port_id", key.PortID,
				"channel_id", key.ChannelID,
				"sequence", key.Sequence,
			)
			return
		}
		e = newEntry()
		// Checked when a send claims it
		e.commitment = packet.Commitment()
	} else {
		delete(chanEntries, key.Sequence)
		if len(chanEntries) == 0 {
			delete(c.entries, key.ChannelKey)
		}
		if e.commitment != nil && !bytes.Equal(e.commitment, packet.Commitment()) {
			c.commitmentMismatch(key, packet)
			err = fmt.Errorf("%w: %s", protocol.ErrCommitmentMismatch, key)
		}
	}
	if err != nil {
		e.result.Reject(err)
	} else {
		e.result.Resolve(ack)
	}
	if !e.claimed {
		c.orphans.Add(key, e)
	}
}

func (c *Correlator) commitmentMismatch(key protocol.PacketKey, packet *protocol.Packet) {
	c.config.Metrics.RecordCommitmentMismatch()
	c.logger.Warn(
		"packet commitment does not match sent packet",
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"sequence", key.Sequence,
		"commitment", packet.CommitmentHex(),
	)
}

// Acknowledge resolves the entry for the packet's source key with ack
func (c *Correlator) Acknowledge(packet protocol.Packet, ack []byte) {
	key := packet.SourceKey()
	c.mutex.Lock()
	c.settle(key, &packet, ack, nil)
	c.mutex.Unlock()
	c.config.Metrics.RecordAcknowledged()
	c.logger.Debug(
		"packet acknowledged",
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"sequence", key.Sequence,
	)
}

// Timeout rejects the entry for the packet's source key with
// protocol.ErrPacketTimedOut
func (c *Correlator) Timeout(packet protocol.Packet) {
	key := packet.SourceKey()
	c.mutex.Lock()
	c.settle(
		key,
		&packet,
		nil,
		fmt.Errorf("%w: %s", protocol.ErrPacketTimedOut, key),
	)
	c.mutex.Unlock()
	c.config.Metrics.RecordTimedOut()
	c.logger.Debug(
		"packet timed out",
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"sequence", key.Sequence,
	)
}

// RejectChannel rejects every pending entry for the channel with err and
// discards any unclaimed results for it. Later sends and results for the
// channel are refused. It returns the number of pending entries rejected
func (c *Correlator) RejectChannel(key protocol.ChannelKey, err error) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	chanEntries := c.entries[key]
	delete(c.entries, key)
	c.closedChans[key] = struct{}{}
	for _, e := range chanEntries {
		e.result.Reject(err)
	}
	for _, orphanKey := range c.orphans.Keys() {
		if orphanKey.ChannelKey == key {
			c.orphans.Remove(orphanKey)
		}
	}
	return len(chanEntries)
}

// RejectAll rejects every pending entry on every channel with err
func (c *Correlator) RejectAll(err error) {
	c.mutex.Lock()
	entries := c.entries
	c.entries = make(map[protocol.ChannelKey]map[uint64]*entry)
	c.orphans.Purge()
	c.mutex.Unlock()
	for _, chanEntries := range entries {
		for _, e := range chanEntries {
			e.result.Reject(err)
		}
	}
}

// Pending returns the number of unsettled entries for the channel
func (c *Correlator) Pending(key protocol.ChannelKey) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries[key])
}

// SendManual sends a packet on behalf of an operator. Nobody waits on the
// result, so it is only logged
func (c *Correlator) SendManual(packet protocol.Packet, timeout time.Duration) {
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		ack, err := c.Send(c.ctx, packet, timeout)
		if err != nil {
			c.logger.Error(
				"manual packet send failed",
				"port_id", packet.SourcePort,
				"channel_id", packet.SourceChannel,
				"error", err,
			)
			return
		}
		result, err := ack.Wait(c.ctx)
		if err != nil {
			c.logger.Warn(
				"manual packet was not acknowledged",
				"port_id", ack.key.PortID,
				"channel_id", ack.key.ChannelID,
				"sequence", ack.key.Sequence,
				"error", err,
			)
			return
		}
		c.logger.Info(
			"manual packet acknowledged",
			"port_id", ack.key.PortID,
			"channel_id", ack.key.ChannelID,
			"sequence", ack.key.Sequence,
			"ack", string(result),
		)
	}()
}

// Close rejects all pending entries with protocol.ErrHandlerShuttingDown and
// waits for manual sends to finish
func (c *Correlator) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.mutex.Unlock()
	c.RejectAll(protocol.ErrHandlerShuttingDown)
	c.cancel()
	c.waitGroup.Wait()
}
