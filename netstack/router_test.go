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

package netstack_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mutex  sync.Mutex
	opened []string
	closed []error
	suffix string
}

func (h *recordingHandler) OnOpen(_ context.Context, _ netstack.Connection, localAddr string, remoteAddr string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.opened = append(h.opened, localAddr+" "+remoteAddr)
}

func (h *recordingHandler) OnReceive(_ context.Context, _ netstack.Connection, data []byte, _ netstack.PacketOptions) ([]byte, error) {
	return append(append([]byte{}, data...), h.suffix...), nil
}

func (h *recordingHandler) OnClose(_ context.Context, _ netstack.Connection, reason error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.closed = append(h.closed, reason)
}

type fakeProtocol struct {
	calls   []string
	handler *recordingHandler
}

func (p *fakeProtocol) OnBind(_ context.Context, localAddr string) error {
	p.calls = append(p.calls, "bind "+localAddr)
	return nil
}

func (p *fakeProtocol) OnConnect(_ context.Context, localAddr string, remoteAddr string) (*netstack.ConnectResult, error) {
	p.calls = append(p.calls, "connect "+remoteAddr)
	return &netstack.ConnectResult{
		LocalAddress:  localAddr + "/ibc-channel/channel-1",
		RemoteAddress: remoteAddr + "/ibc-channel/channel-2",
		Handler:       p.handler,
	}, nil
}

func (p *fakeProtocol) OnListen(_ context.Context, localAddr string) error {
	p.calls = append(p.calls, "listen "+localAddr)
	return nil
}

func (p *fakeProtocol) OnRevoke(_ context.Context, localAddr string) error {
	p.calls = append(p.calls, "revoke "+localAddr)
	return nil
}

type versionListener struct {
	version string
}

func (l *versionListener) OnInbound(_ context.Context, localAddr string, _ string) (string, error) {
	return localAddr[:len(localAddr)-len("bar")] + l.version, nil
}

func (l *versionListener) OnAccept(context.Context, string, string) (netstack.ConnectionHandler, error) {
	return netstack.EchoHandler{}, nil
}

func TestRouterConnect(t *testing.T) {
	ctx := context.Background()
	proto := &fakeProtocol{handler: &recordingHandler{suffix: "1"}}
	r := netstack.NewRouter(nil)
	_, err := r.Bind(ctx, "/ibc-port/port-1")
	assert.ErrorIs(t, err, netstack.ErrNoProtocol)
	r.Use(proto)
	port, err := r.Bind(ctx, "/ibc-port/port-1")
	require.NoError(t, err)
	app := &recordingHandler{}
	conn, err := port.Connect(ctx, "/ibc-port/port-98/unordered/bar", app)
	require.NoError(t, err)
	assert.Equal(t, "/ibc-port/port-1/ibc-channel/channel-1", conn.LocalAddress())
	assert.Equal(t, []string{"/ibc-port/port-1/ibc-channel/channel-1 /ibc-port/port-98/unordered/bar/ibc-channel/channel-2"}, app.opened)
	assert.Len(t, proto.handler.opened, 1)

	ack, err := conn.Send(ctx, []byte("hello"), netstack.PacketOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello1"), ack)

	require.NoError(t, conn.Close(ctx))
	assert.Equal(t, []error{nil}, app.closed)
	require.Len(t, proto.handler.closed, 1)
	assert.ErrorIs(t, proto.handler.closed[0], protocol.ErrConnectionClosed)
	assert.ErrorIs(t, conn.Close(ctx), protocol.ErrConnectionClosed)
	_, err = conn.Send(ctx, []byte("x"), netstack.PacketOptions{})
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestRouterInbound(t *testing.T) {
	ctx := context.Background()
	proto := &fakeProtocol{}
	r := netstack.NewRouter(nil)
	r.Use(proto)
	port, err := r.Bind(ctx, "/ibc-port/port-1")
	require.NoError(t, err)

	_, err = r.Inbound(ctx, "/ibc-port/port-1/unordered/bar", "/ibc-port/port-98/unordered/bar")
	assert.ErrorIs(t, err, netstack.ErrNoListener)

	require.NoError(t, port.Listen(ctx, &versionListener{version: "baz"}))
	assert.ErrorIs(t, port.Listen(ctx, netstack.EchoListener{}), netstack.ErrAlreadyListening)
	// Prefix must end at a segment boundary
	_, err = r.Inbound(ctx, "/ibc-port/port-10/unordered/bar", "/ibc-port/port-98/unordered/bar")
	assert.ErrorIs(t, err, netstack.ErrNoListener)

	attempt, err := r.Inbound(ctx, "/ibc-port/port-1/unordered/bar", "/ibc-port/port-98/unordered/bar")
	require.NoError(t, err)
	assert.Equal(t, "/ibc-port/port-1/unordered/baz", attempt.LocalAddress())

	protoHandler := &recordingHandler{}
	conn, err := attempt.Accept(ctx, netstack.AcceptOptions{
		LocalAddress: attempt.LocalAddress() + "/ibc-channel/channel-1",
		Handler:      protoHandler,
	})
	require.NoError(t, err)
	assert.Len(t, protoHandler.opened, 1)
	ack, err := conn.Send(ctx, []byte("ping"), netstack.PacketOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), ack)
	assert.ErrorIs(t, attempt.Close(), netstack.ErrAttemptClosed)

	require.NoError(t, port.Revoke(ctx))
	assert.Len(t, protoHandler.closed, 1)
	assert.Equal(t, []string{"bind /ibc-port/port-1", "listen /ibc-port/port-1", "revoke /ibc-port/port-1"}, proto.calls)
	_, err = r.Inbound(ctx, "/ibc-port/port-1/unordered/bar", "/ibc-port/port-98/unordered/bar")
	assert.ErrorIs(t, err, netstack.ErrNoListener)
	assert.ErrorIs(t, port.Revoke(ctx), protocol.ErrPortRevoked)
}

func TestInboundAttemptClose(t *testing.T) {
	ctx := context.Background()
	r := netstack.NewRouter(nil)
	r.Use(&fakeProtocol{})
	port, err := r.Bind(ctx, "/ibc-port/port-1")
	require.NoError(t, err)
	require.NoError(t, port.Listen(ctx, netstack.EchoListener{}))
	attempt, err := r.Inbound(ctx, "/ibc-port/port-1/ordered/v1", "/ibc-port/port-2/ordered/v1")
	require.NoError(t, err)
	require.NoError(t, attempt.Close())
	_, err = attempt.Accept(ctx, netstack.AcceptOptions{Handler: &recordingHandler{}})
	assert.True(t, errors.Is(err, netstack.ErrAttemptClosed))
}
