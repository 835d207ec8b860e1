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

// Package metrics tracks IBC handler activity. Counters are kept as atomics for
// cheap in-process snapshots and mirrored to Prometheus collectors.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ibc_handler"

// Handshake results
const (
	ResultOpened   = "opened"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// HandlerMetrics tracks metrics for one protocol handler. All methods are
// safe to call on a nil receiver.
type HandlerMetrics struct {
	// Counters (atomic)
	handshakesOpened   atomic.Uint64
	handshakesRejected atomic.Uint64
	handshakesFailed   atomic.Uint64
	packetsSent        atomic.Uint64
	packetsAcked       atomic.Uint64
	packetsTimedOut    atomic.Uint64
	packetsReceived    atomic.Uint64
	receiveErrors      atomic.Uint64
	mismatches         atomic.Uint64
	openChannels       atomic.Int64

	mu             sync.RWMutex
	lastPacketTime time.Time
	startTime      time.Time

	promHandshakes   *prometheus.CounterVec
	promPackets      *prometheus.CounterVec
	promOpenChannels prometheus.Gauge
}

// HandlerStats is a point-in-time copy of HandlerMetrics
type HandlerStats struct {
	HandshakesOpened     uint64
	HandshakesRejected   uint64
	HandshakesFailed     uint64
	PacketsSent          uint64
	PacketsAcked         uint64
	PacketsTimedOut      uint64
	PacketsReceived      uint64
	ReceiveErrors        uint64
	CommitmentMismatches uint64
	OpenChannels         int64
	LastPacketTime       time.Time
	StartTime            time.Time
}

// NewHandlerMetrics creates the metrics and registers the Prometheus
// collectors with reg, if not nil
func NewHandlerMetrics(reg prometheus.Registerer) (*HandlerMetrics, error) {
	m := &HandlerMetrics{
		startTime: time.Now(),
		promHandshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_total",
				Help:      "Channel handshakes by direction and result",
			},
			[]string{"direction", "result"},
		),
		promPackets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Packets by lifecycle event",
			},
			[]string{"event"},
		),
		promOpenChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_channels",
				Help:      "Channels that completed a handshake and are not closed",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.promHandshakes, m.promPackets, m.promOpenChannels} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// RecordHandshake counts a finished handshake
func (m *HandlerMetrics) RecordHandshake(direction string, result string) {
	if m == nil {
		return
	}
	switch result {
	case ResultOpened:
		m.handshakesOpened.Add(1)
	case ResultRejected:
		m.handshakesRejected.Add(1)
	default:
		m.handshakesFailed.Add(1)
	}
	m.promHandshakes.WithLabelValues(direction, result).Inc()
}

func (m *HandlerMetrics) RecordSent() {
	if m == nil {
		return
	}
	m.packetsSent.Add(1)
	m.promPackets.WithLabelValues("sent").Inc()
	m.touch()
}

func (m *HandlerMetrics) RecordAcknowledged() {
	if m == nil {
		return
	}
	m.packetsAcked.Add(1)
	m.promPackets.WithLabelValues("acknowledged").Inc()
	m.touch()
}

func (m *HandlerMetrics) RecordTimedOut() {
	if m == nil {
		return
	}
	m.packetsTimedOut.Add(1)
	m.promPackets.WithLabelValues("timed_out").Inc()
	m.touch()
}

// RecordReceived records an inbound delivery result
func (m *HandlerMetrics) RecordReceived(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.receiveErrors.Add(1)
		m.promPackets.WithLabelValues("receive_failed").Inc()
	} else {
		m.packetsReceived.Add(1)
		m.promPackets.WithLabelValues("received").Inc()
	}
	m.touch()
}

func (m *HandlerMetrics) RecordCommitmentMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Add(1)
	m.promPackets.WithLabelValues("commitment_mismatch").Inc()
}

func (m *HandlerMetrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.openChannels.Add(1)
	m.promOpenChannels.Inc()
}

func (m *HandlerMetrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.openChannels.Add(-1)
	m.promOpenChannels.Dec()
}

func (m *HandlerMetrics) touch() {
	m.mu.Lock()
	m.lastPacketTime = time.Now()
	m.mu.Unlock()
}

// Stats returns a snapshot of the current metrics
func (m *HandlerMetrics) Stats() HandlerStats {
	if m == nil {
		return HandlerStats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return HandlerStats{
		HandshakesOpened:     m.handshakesOpened.Load(),
		HandshakesRejected:   m.handshakesRejected.Load(),
		HandshakesFailed:     m.handshakesFailed.Load(),
		PacketsSent:          m.packetsSent.Load(),
		PacketsAcked:         m.packetsAcked.Load(),
		PacketsTimedOut:      m.packetsTimedOut.Load(),
		PacketsReceived:      m.packetsReceived.Load(),
		ReceiveErrors:        m.receiveErrors.Load(),
		CommitmentMismatches: m.mismatches.Load(),
		OpenChannels:         m.openChannels.Load(),
		LastPacketTime:       m.lastPacketTime,
		StartTime:            m.startTime,
	}
}
