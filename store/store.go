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

// Package store persists metadata about open channels
package store

import (
	"errors"
	"time"

	"github.com/blinklabs-io/goibc/protocol"
)

var ErrStoreClosed = errors.New("store closed")

// ChannelRecord describes a channel that completed its handshake
type ChannelRecord struct {
	ChannelID      string                `json:"channel_id"`
	PortID         string                `json:"port_id"`
	Direction      string                `json:"direction"`
	Order          protocol.Order        `json:"order"`
	Counterparty   protocol.Counterparty `json:"counterparty"`
	ConnectionHops []string              `json:"connection_hops,omitempty"`
	Version        string                `json:"version"`
	LocalAddress   string                `json:"local_address"`
	RemoteAddress  string                `json:"remote_address"`
	OpenedAt       time.Time             `json:"opened_at"`
}

func (r *ChannelRecord) Key() protocol.ChannelKey {
	return protocol.NewChannelKey(r.ChannelID, r.PortID)
}

type Store interface {
	PutChannel(*ChannelRecord) error
	DeleteChannel(protocol.ChannelKey) error
	Channels() ([]*ChannelRecord, error)
	Close() error
}
