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

// Package netstack defines the boundary between a network stack and a
// protocol implementation plugged into it, and provides Router, a small
// in-process network stack.
package netstack

import (
	"context"
	"time"
)

// PacketOptions accompany a single send
type PacketOptions struct {
	// RelativeTimeout of zero lets the protocol pick its default
	RelativeTimeout time.Duration
}

// Connection is one end of an established connection
type Connection interface {
	// Send delivers data to the other end and returns its acknowledgement
	Send(ctx context.Context, data []byte, opts PacketOptions) ([]byte, error)
	Close(ctx context.Context) error
	LocalAddress() string
	RemoteAddress() string
}

// ConnectionHandler receives the events for one end of a connection
type ConnectionHandler interface {
	OnOpen(ctx context.Context, conn Connection, localAddr string, remoteAddr string)
	OnReceive(ctx context.Context, conn Connection, data []byte, opts PacketOptions) ([]byte, error)
	// OnClose is called once per end. A nil reason means this end closed the
	// connection
	OnClose(ctx context.Context, conn Connection, reason error)
}

// ListenHandler decides on inbound connections for a listening address
type ListenHandler interface {
	// OnInbound returns the local address the listener agrees to, which may
	// differ from the proposed one in negotiable segments such as the version
	OnInbound(ctx context.Context, localAddr string, remoteAddr string) (string, error)
	// OnAccept returns the handler for the application end of the connection
	OnAccept(ctx context.Context, localAddr string, remoteAddr string) (ConnectionHandler, error)
}

type AcceptOptions struct {
	LocalAddress  string
	RemoteAddress string
	// Handler handles the protocol end of the connection
	Handler ConnectionHandler
}

// InboundAttempt is a proposed inbound connection that has not been committed
type InboundAttempt interface {
	LocalAddress() string
	RemoteAddress() string
	Accept(ctx context.Context, opts AcceptOptions) (Connection, error)
	Close() error
}

// Inbounder is the network stack entry point a protocol uses for connections
// initiated by the remote side
type Inbounder interface {
	Inbound(ctx context.Context, localAddr string, remoteAddr string) (InboundAttempt, error)
}

// ConnectResult is returned by a protocol for an established outbound
// connection
type ConnectResult struct {
	LocalAddress  string
	RemoteAddress string
	Handler       ConnectionHandler
}

// Protocol is implemented by a protocol plugged into the network stack
type Protocol interface {
	OnBind(ctx context.Context, localAddr string) error
	OnConnect(ctx context.Context, localAddr string, remoteAddr string) (*ConnectResult, error)
	OnListen(ctx context.Context, localAddr string) error
	OnRevoke(ctx context.Context, localAddr string) error
}
