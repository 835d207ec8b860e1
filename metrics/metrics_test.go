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

package metrics_test

import (
	"errors"
	"testing"

	"github.com/blinklabs-io/goibc/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerMetricsStats(t *testing.T) {
	m, err := metrics.NewHandlerMetrics(nil)
	require.NoError(t, err)
	m.RecordHandshake("outbound", metrics.ResultOpened)
	m.RecordHandshake("inbound", metrics.ResultRejected)
	m.RecordHandshake("outbound", metrics.ResultFailed)
	m.RecordSent()
	m.RecordSent()
	m.RecordAcknowledged()
	m.RecordTimedOut()
	m.RecordReceived(nil)
	m.RecordReceived(errors.New("boom"))
	m.RecordCommitmentMismatch()
	m.ChannelOpened()
	m.ChannelOpened()
	m.ChannelClosed()
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.HandshakesOpened)
	assert.Equal(t, uint64(1), stats.HandshakesRejected)
	assert.Equal(t, uint64(1), stats.HandshakesFailed)
	assert.Equal(t, uint64(2), stats.PacketsSent)
	assert.Equal(t, uint64(1), stats.PacketsAcked)
	assert.Equal(t, uint64(1), stats.PacketsTimedOut)
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.ReceiveErrors)
	assert.Equal(t, uint64(1), stats.CommitmentMismatches)
	assert.Equal(t, int64(1), stats.OpenChannels)
	assert.False(t, stats.LastPacketTime.IsZero())
}

func TestHandlerMetricsNil(t *testing.T) {
	var m *metrics.HandlerMetrics
	// Nothing here may panic
	m.RecordSent()
	m.RecordReceived(nil)
	m.RecordCommitmentMismatch()
	m.ChannelOpened()
	assert.Equal(t, metrics.HandlerStats{}, m.Stats())
}

func TestHandlerMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewHandlerMetrics(reg)
	require.NoError(t, err)
	m.RecordSent()
	m.ChannelOpened()
	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["ibc_handler_packets_total"])
	assert.True(t, names["ibc_handler_open_channels"])
	// Registering twice on the same registry fails
	_, err = metrics.NewHandlerMetrics(reg)
	assert.Error(t, err)
}
