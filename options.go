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

package ibc

import (
	"log/slog"
	"time"

	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/store"
)

// HandlerOptionFunc is a type that represents functions that modify the Handler config
type HandlerOptionFunc func(*Handler)

// WithLogger specifies the logger to use. The default is slog.Default()
func WithLogger(logger *slog.Logger) HandlerOptionFunc {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithBridge specifies the bridge that downcalls are issued to. It is required
func WithBridge(b bridge.Bridge) HandlerOptionFunc {
	return func(h *Handler) {
		h.bridge = b
	}
}

// WithInbounder specifies the network stack entry point for remote initiated
// channels
func WithInbounder(inbounder netstack.Inbounder) HandlerOptionFunc {
	return func(h *Handler) {
		h.inbounder = inbounder
	}
}

// WithStore specifies the channel metadata store. The default keeps records
// in memory
func WithStore(s store.Store) HandlerOptionFunc {
	return func(h *Handler) {
		h.store = s
	}
}

// WithDefaultTimeout specifies the relative packet timeout used when a send
// does not carry one
func WithDefaultTimeout(timeout time.Duration) HandlerOptionFunc {
	return func(h *Handler) {
		h.defaultTimeout = timeout
	}
}

// WithMetrics specifies where handler activity is counted
func WithMetrics(m *metrics.HandlerMetrics) HandlerOptionFunc {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithOrphanAckLimit specifies how many acknowledgements that arrived before
// their send returned are kept
func WithOrphanAckLimit(limit int) HandlerOptionFunc {
	return func(h *Handler) {
		h.orphanAckLimit = limit
	}
}
