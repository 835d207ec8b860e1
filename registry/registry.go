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

// Package registry tracks channels that completed their handshake
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/goibc/internal/future"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/blinklabs-io/goibc/store"

	"github.com/jinzhu/copier"
)

var ErrUnknownChannel = errors.New("unknown channel")

// Stopper is implemented by per-channel workers that must be stopped when the
// channel goes away
type Stopper interface {
	Stop()
}

// Channel is the negotiated state of an open channel
type Channel struct {
	Key            protocol.ChannelKey
	Direction      string
	Order          protocol.Order
	Counterparty   protocol.Counterparty
	ConnectionHops []string
	Version        string
	LocalAddress   string
	RemoteAddress  string
	OpenedAt       time.Time
}

func (c *Channel) record() *store.ChannelRecord {
	return &store.ChannelRecord{
		ChannelID:      c.Key.ChannelID,
		PortID:         c.Key.PortID,
		Direction:      c.Direction,
		Order:          c.Order,
		Counterparty:   c.Counterparty,
		ConnectionHops: c.ConnectionHops,
		Version:        c.Version,
		LocalAddress:   c.LocalAddress,
		RemoteAddress:  c.RemoteAddress,
		OpenedAt:       c.OpenedAt,
	}
}

type entry struct {
	channel      Channel
	conn         *future.Future[netstack.Connection]
	worker       Stopper
	remoteClosed bool
}

type Config struct {
	Store   store.Store
	Logger  *slog.Logger
	Metrics *metrics.HandlerMetrics
}

type Registry struct {
	config  Config
	logger  *slog.Logger
	mutex   sync.Mutex
	entries map[protocol.ChannelKey]*entry
}

func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		config:  cfg,
		logger:  cfg.Logger,
		entries: make(map[protocol.ChannelKey]*entry),
	}
}

// PurgeStale removes channel records left by a previous process. Connections
// from the network stack do not survive a restart, so the channels cannot be
// resumed
func (r *Registry) PurgeStale() error {
	if r.config.Store == nil {
		return nil
	}
	records, err := r.config.Store.Channels()
	if err != nil {
		return fmt.Errorf("list stored channels: %w", err)
	}
	for _, record := range records {
		r.logger.Warn(
			"removing stale channel record",
			"port_id", record.PortID,
			"channel_id", record.ChannelID,
			"opened_at", record.OpenedAt,
		)
		if err := r.config.Store.DeleteChannel(record.Key()); err != nil {
			return fmt.Errorf("delete stale channel %s: %w", record.Key(), err)
		}
	}
	return nil
}

// Add registers an open channel. worker may be nil
func (r *Registry) Add(ch Channel, worker Stopper) error {
	r.mutex.Lock()
	if _, ok := r.entries[ch.Key]; ok {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %s", protocol.ErrChannelExists, ch.Key)
	}
	if ch.OpenedAt.IsZero() {
		ch.OpenedAt = time.Now()
	}
	ch.ConnectionHops = slices.Clone(ch.ConnectionHops)
	r.entries[ch.Key] = &entry{
		channel: ch,
		conn:    future.New[netstack.Connection](),
		worker:  worker,
	}
	r.mutex.Unlock()
	r.config.Metrics.ChannelOpened()
	if r.config.Store != nil {
		if err := r.config.Store.PutChannel(ch.record()); err != nil {
			r.logger.Warn(
				"failed to store channel record",
				"port_id", ch.Key.PortID,
				"channel_id", ch.Key.ChannelID,
				"error", err,
			)
		}
	}
	r.logger.Info(
		"channel open",
		"port_id", ch.Key.PortID,
		"channel_id", ch.Key.ChannelID,
		"direction", ch.Direction,
		"order", ch.Order,
	)
	return nil
}

// SetConnection records the network stack connection for a channel
func (r *Registry) SetConnection(key protocol.ChannelKey, conn netstack.Connection) error {
	r.mutex.Lock()
	e, ok := r.entries[key]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, key)
	}
	e.conn.Resolve(conn)
	return nil
}

// Connection waits for the network stack connection of a channel
func (r *Registry) Connection(ctx context.Context, key protocol.ChannelKey) (netstack.Connection, error) {
	r.mutex.Lock()
	e, ok := r.entries[key]
	r.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, key)
	}
	return e.conn.Wait(ctx)
}

// ReadyConnection returns the network stack connection of a channel if it
// has already been set
func (r *Registry) ReadyConnection(key protocol.ChannelKey) (netstack.Connection, bool) {
	r.mutex.Lock()
	e, ok := r.entries[key]
	r.mutex.Unlock()
	if !ok || !e.conn.Settled() {
		return nil, false
	}
	conn, err := e.conn.Wait(context.Background())
	if err != nil {
		return nil, false
	}
	return conn, true
}

// MarkRemoteClosed records that the bridge initiated the close of a channel.
// It returns false if the channel is unknown
func (r *Registry) MarkRemoteClosed(key protocol.ChannelKey) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, ok := r.entries[key]
	if ok {
		e.remoteClosed = true
	}
	return ok
}

// Remove drops a channel, stops its worker and fails anyone still waiting on
// its connection. It reports whether the channel existed and whether the
// bridge initiated the close
func (r *Registry) Remove(key protocol.ChannelKey) (bool, bool) {
	r.mutex.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mutex.Unlock()
	if !ok {
		return false, false
	}
	e.conn.Reject(fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, key))
	if e.worker != nil {
		e.worker.Stop()
	}
	r.config.Metrics.ChannelClosed()
	if r.config.Store != nil {
		if err := r.config.Store.DeleteChannel(key); err != nil {
			r.logger.Warn(
				"failed to delete channel record",
				"port_id", key.PortID,
				"channel_id", key.ChannelID,
				"error", err,
			)
		}
	}
	r.logger.Info(
		"channel closed",
		"port_id", key.PortID,
		"channel_id", key.ChannelID,
		"remote", e.remoteClosed,
	)
	return true, e.remoteClosed
}

// Get returns a copy of the channel state
func (r *Registry) Get(key protocol.ChannelKey) (Channel, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Channel{}, false
	}
	var ret Channel
	if err := copier.CopyWithOption(&ret, &e.channel, copier.Option{DeepCopy: true}); err != nil {
		r.logger.Error("failed to copy channel", "error", err)
		return Channel{}, false
	}
	// time.Time has no exported fields for copier to walk
	ret.OpenedAt = e.channel.OpenedAt
	return ret, true
}

// Channels returns copies of all open channels ordered by key
func (r *Registry) Channels() []Channel {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	src := make([]Channel, 0, len(r.entries))
	for _, e := range r.entries {
		src = append(src, e.channel)
	}
	var ret []Channel
	if err := copier.CopyWithOption(&ret, &src, copier.Option{DeepCopy: true}); err != nil {
		r.logger.Error("failed to copy channels", "error", err)
		return nil
	}
	for i := range ret {
		ret[i].OpenedAt = src[i].OpenedAt
	}
	slices.SortFunc(ret, func(a, b Channel) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return ret
}

// Keys returns the keys of all open channels
func (r *Registry) Keys() []protocol.ChannelKey {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ret := make([]protocol.ChannelKey, 0, len(r.entries))
	for key := range r.entries {
		ret = append(ret, key)
	}
	return ret
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}
