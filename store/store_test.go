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

package store_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/goibc/protocol"
	"github.com/blinklabs-io/goibc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(channelID string) *store.ChannelRecord {
	return &store.ChannelRecord{
		ChannelID: channelID,
		PortID:    "port-1",
		Direction: protocol.DirectionOutbound,
		Order:     protocol.OrderUnordered,
		Counterparty: protocol.Counterparty{
			PortID:    "port-98",
			ChannelID: "channel-22",
		},
		ConnectionHops: []string{"connection-11"},
		Version:        "bar",
		LocalAddress:   "/ibc-port/port-1/unordered/bar/ibc-channel/" + channelID,
		RemoteAddress:  "/ibc-hop/connection-11/ibc-port/port-98/unordered/bar/ibc-channel/channel-22",
		OpenedAt:       time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func testStores(t *testing.T) map[string]store.Store {
	t.Helper()
	badgerStore, err := store.OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)
	memBadgerStore, err := store.OpenBadger("", nil)
	require.NoError(t, err)
	return map[string]store.Store{
		"memory":          store.NewMemory(),
		"badger":          badgerStore,
		"badger-inmemory": memBadgerStore,
	}
}

func TestStorePutDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			require.NoError(t, s.PutChannel(testRecord("channel-2")))
			require.NoError(t, s.PutChannel(testRecord("channel-1")))
			records, err := s.Channels()
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "channel-1", records[0].ChannelID)
			assert.Equal(t, "channel-2", records[1].ChannelID)
			expected := testRecord("channel-1")
			assert.Equal(t, expected.Counterparty, records[0].Counterparty)
			assert.Equal(t, expected.ConnectionHops, records[0].ConnectionHops)
			assert.Equal(t, expected.Order, records[0].Order)
			assert.True(t, expected.OpenedAt.Equal(records[0].OpenedAt))

			require.NoError(t, s.DeleteChannel(expected.Key()))
			records, err = s.Channels()
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "channel-2", records[0].ChannelID)
			// Deleting a missing record is not an error
			assert.NoError(t, s.DeleteChannel(expected.Key()))
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			record := testRecord("channel-1")
			require.NoError(t, s.PutChannel(record))
			record.Version = "baz"
			require.NoError(t, s.PutChannel(record))
			records, err := s.Channels()
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "baz", records[0].Version)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			assert.ErrorIs(t, s.PutChannel(testRecord("channel-1")), store.ErrStoreClosed)
			_, err := s.Channels()
			assert.ErrorIs(t, err, store.ErrStoreClosed)
			assert.NoError(t, s.Close())
		})
	}
}

func TestBadgerReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenBadger(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.PutChannel(testRecord("channel-1")))
	require.NoError(t, s.Close())

	s, err = store.OpenBadger(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	records, err := s.Channels()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/ibc-port/port-1/unordered/bar/ibc-channel/channel-1", records[0].LocalAddress)
}
