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

package protocol_test

import (
	"testing"

	"github.com/blinklabs-io/goibc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrder(t *testing.T) {
	testDefs := map[string]protocol.Order{
		"ORDERED":         protocol.OrderOrdered,
		"ordered":         protocol.OrderOrdered,
		"ORDER_ORDERED":   protocol.OrderOrdered,
		"UNORDERED":       protocol.OrderUnordered,
		"unordered":       protocol.OrderUnordered,
		"ORDER_UNORDERED": protocol.OrderUnordered,
	}
	for input, expected := range testDefs {
		order, err := protocol.ParseOrder(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, order, input)
	}
	_, err := protocol.ParseOrder("sideways")
	assert.Error(t, err)
}

func TestOrderAddressSegment(t *testing.T) {
	assert.Equal(t, "ordered", protocol.OrderOrdered.AddressSegment())
	assert.Equal(t, "unordered", protocol.OrderUnordered.AddressSegment())
}

func TestPacketKeys(t *testing.T) {
	pkt := &protocol.Packet{
		Sequence:           7,
		SourcePort:         "port-1",
		SourceChannel:      "channel-1",
		DestinationPort:    "port-98",
		DestinationChannel: "channel-22",
	}
	assert.Equal(t, "channel-1:port-1:7", pkt.SourceKey().String())
	assert.Equal(t, "channel-22:port-98", pkt.DestinationKey().String())
}

func TestPacketCommitment(t *testing.T) {
	a := &protocol.Packet{Data: []byte("hello"), TimeoutTimestamp: 10}
	b := &protocol.Packet{Data: []byte("hello"), TimeoutTimestamp: 10, Sequence: 3}
	c := &protocol.Packet{Data: []byte("hellp"), TimeoutTimestamp: 10}
	assert.Len(t, a.Commitment(), 32)
	// Sequence and addressing are not part of the commitment
	assert.Equal(t, a.Commitment(), b.Commitment())
	assert.NotEqual(t, a.Commitment(), c.Commitment())
	d := &protocol.Packet{
		Data:          []byte("hello"),
		TimeoutHeight: &protocol.Height{RevisionNumber: 1, RevisionHeight: 10},
	}
	assert.NotEqual(t, a.CommitmentHex(), d.CommitmentHex())
}
