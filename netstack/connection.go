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

package netstack

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/goibc/protocol"
)

type pairState struct {
	closed atomic.Bool
}

// connection is one end of an in-process connection pair. Sending on one end
// calls OnReceive on the handler of the other end
type connection struct {
	state      *pairState
	localAddr  string
	remoteAddr string
	handler    ConnectionHandler
	peer       *connection
	openOnce   sync.Once
}

// newConnectionPair returns two ends. a is the end handled by aHandler
func newConnectionPair(
	aLocal string,
	aRemote string,
	aHandler ConnectionHandler,
	bHandler ConnectionHandler,
) (*connection, *connection) {
	state := &pairState{}
	a := &connection{
		state:      state,
		localAddr:  aLocal,
		remoteAddr: aRemote,
		handler:    aHandler,
	}
	b := &connection{
		state:      state,
		localAddr:  aRemote,
		remoteAddr: aLocal,
		handler:    bHandler,
	}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *connection) open(ctx context.Context) {
	c.openOnce.Do(func() {
		c.handler.OnOpen(ctx, c, c.localAddr, c.remoteAddr)
	})
}

func (c *connection) Send(ctx context.Context, data []byte, opts PacketOptions) ([]byte, error) {
	if c.state.closed.Load() {
		return nil, protocol.ErrConnectionClosed
	}
	return c.peer.handler.OnReceive(ctx, c.peer, data, opts)
}

func (c *connection) Close(ctx context.Context) error {
	if !c.state.closed.CompareAndSwap(false, true) {
		return protocol.ErrConnectionClosed
	}
	c.handler.OnClose(ctx, c, nil)
	c.peer.handler.OnClose(ctx, c.peer, protocol.ErrConnectionClosed)
	return nil
}

func (c *connection) LocalAddress() string {
	return c.localAddr
}

func (c *connection) RemoteAddress() string {
	return c.remoteAddr
}
