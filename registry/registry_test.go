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

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/blinklabs-io/goibc/registry"
	"github.com/blinklabs-io/goibc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubConnection struct {
	netstack.Connection
	local string
}

func (c *stubConnection) LocalAddress() string {
	return c.local
}

type stopCounter struct {
	stopped int
}

func (s *stopCounter) Stop() {
	s.stopped++
}

func testChannel(channelID string) registry.Channel {
	return registry.Channel{
		Key:       protocol.NewChannelKey(channelID, "port-1"),
		Direction: protocol.DirectionOutbound,
		Order:     protocol.OrderOrdered,
		Counterparty: protocol.Counterparty{
			PortID:    "port-98",
			ChannelID: "channel-22",
		},
		ConnectionHops: []string{"connection-11"},
		Version:        "bar",
		LocalAddress:   "/ibc-port/port-1/ordered/bar/ibc-channel/" + channelID,
	}
}

func TestRegistryAddRemove(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := store.NewMemory()
	m, err := metrics.NewHandlerMetrics(nil)
	require.NoError(t, err)
	r := registry.New(registry.Config{Store: s, Metrics: m})
	worker := &stopCounter{}
	ch := testChannel("channel-1")
	require.NoError(t, r.Add(ch, worker))
	assert.ErrorIs(t, r.Add(ch, nil), protocol.ErrChannelExists)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), m.Stats().OpenChannels)

	records, err := s.Channels()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ch.LocalAddress, records[0].LocalAddress)

	existed, remote := r.Remove(ch.Key)
	assert.True(t, existed)
	assert.False(t, remote)
	assert.Equal(t, 1, worker.stopped)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), m.Stats().OpenChannels)
	records, err = s.Channels()
	require.NoError(t, err)
	assert.Empty(t, records)

	existed, _ = r.Remove(ch.Key)
	assert.False(t, existed)
}

func TestRegistryConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := registry.New(registry.Config{})
	ch := testChannel("channel-1")
	require.NoError(t, r.Add(ch, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Connection(ctx, ch.Key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := r.ReadyConnection(ch.Key)
	assert.False(t, ok)
	conn := &stubConnection{local: ch.LocalAddress}
	require.NoError(t, r.SetConnection(ch.Key, conn))
	ready, ok := r.ReadyConnection(ch.Key)
	require.True(t, ok)
	assert.Same(t, conn, ready)
	got, err := r.Connection(context.Background(), ch.Key)
	require.NoError(t, err)
	assert.Equal(t, ch.LocalAddress, got.LocalAddress())

	_, err = r.Connection(context.Background(), protocol.NewChannelKey("channel-9", "port-1"))
	assert.ErrorIs(t, err, registry.ErrUnknownChannel)
	assert.ErrorIs(t, r.SetConnection(protocol.NewChannelKey("channel-9", "port-1"), conn), registry.ErrUnknownChannel)
}

func TestRegistryRemoveRejectsWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := registry.New(registry.Config{})
	ch := testChannel("channel-1")
	require.NoError(t, r.Add(ch, nil))
	errChan := make(chan error, 1)
	go func() {
		_, err := r.Connection(context.Background(), ch.Key)
		errChan <- err
	}()
	assert.True(t, r.MarkRemoteClosed(ch.Key))
	_, remote := r.Remove(ch.Key)
	assert.True(t, remote)
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.False(t, r.MarkRemoteClosed(ch.Key))
}

func TestRegistrySnapshots(t *testing.T) {
	r := registry.New(registry.Config{})
	require.NoError(t, r.Add(testChannel("channel-2"), nil))
	require.NoError(t, r.Add(testChannel("channel-1"), nil))
	got, ok := r.Get(protocol.NewChannelKey("channel-1", "port-1"))
	require.True(t, ok)
	assert.False(t, got.OpenedAt.IsZero())
	// Modifying the copy does not touch the registry
	got.ConnectionHops[0] = "connection-0"
	again, _ := r.Get(protocol.NewChannelKey("channel-1", "port-1"))
	assert.Equal(t, []string{"connection-11"}, again.ConnectionHops)

	channels := r.Channels()
	require.Len(t, channels, 2)
	assert.Equal(t, "channel-1", channels[0].Key.ChannelID)
	assert.Equal(t, "channel-2", channels[1].Key.ChannelID)
	assert.Len(t, r.Keys(), 2)
	_, ok = r.Get(protocol.NewChannelKey("channel-3", "port-1"))
	assert.False(t, ok)
}

func TestRegistryPurgeStale(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.PutChannel(&store.ChannelRecord{ChannelID: "channel-7", PortID: "port-3"}))
	r := registry.New(registry.Config{Store: s})
	require.NoError(t, r.PurgeStale())
	records, err := s.Channels()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, r.Len())
}
