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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blinklabs-io/goibc/protocol"
)

var (
	ErrNoProtocol       = errors.New("no protocol registered")
	ErrNoListener       = errors.New("no listener for address")
	ErrAlreadyListening = errors.New("address already has a listener")
	ErrAttemptClosed    = errors.New("inbound attempt already closed")
)

// Router is an in-process network stack. Ports are bound through a single
// Protocol, and inbound connections are routed to the listener with the
// longest address prefix
type Router struct {
	logger    *slog.Logger
	mutex     sync.Mutex
	protocol  Protocol
	ports     map[string]*Port
	listeners map[string]ListenHandler
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:    logger,
		ports:     make(map[string]*Port),
		listeners: make(map[string]ListenHandler),
	}
}

// Use sets the protocol that handles ports bound on the router
func (r *Router) Use(p Protocol) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.protocol = p
}

func (r *Router) getProtocol() (Protocol, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.protocol == nil {
		return nil, ErrNoProtocol
	}
	return r.protocol, nil
}

// Bind binds a local address through the protocol
func (r *Router) Bind(ctx context.Context, localAddr string) (*Port, error) {
	p, err := r.getProtocol()
	if err != nil {
		return nil, err
	}
	if err := p.OnBind(ctx, localAddr); err != nil {
		return nil, err
	}
	port := &Port{
		router:    r,
		protocol:  p,
		localAddr: localAddr,
		conns:     make(map[*connection]struct{}),
	}
	r.mutex.Lock()
	r.ports[localAddr] = port
	r.mutex.Unlock()
	r.logger.Debug(
		"bound port",
		"address", localAddr,
	)
	return port, nil
}

// Inbound implements Inbounder
func (r *Router) Inbound(ctx context.Context, localAddr string, remoteAddr string) (InboundAttempt, error) {
	r.mutex.Lock()
	var listenAddr string
	var listener ListenHandler
	for addr, h := range r.listeners {
		if localAddr != addr && !strings.HasPrefix(localAddr, addr+"/") {
			continue
		}
		if len(addr) > len(listenAddr) {
			listenAddr = addr
			listener = h
		}
	}
	port := r.ports[listenAddr]
	r.mutex.Unlock()
	if listener == nil || port == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoListener, localAddr)
	}
	negotiated, err := listener.OnInbound(ctx, localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	if negotiated == "" {
		negotiated = localAddr
	}
	return &inboundAttempt{
		port:       port,
		listener:   listener,
		localAddr:  negotiated,
		remoteAddr: remoteAddr,
	}, nil
}

// Port is a bound local address
type Port struct {
	router    *Router
	protocol  Protocol
	localAddr string
	mutex     sync.Mutex
	conns     map[*connection]struct{}
	listening bool
	revoked   bool
}

func (p *Port) LocalAddress() string {
	return p.localAddr
}

// Listen accepts inbound connections for the port with h
func (p *Port) Listen(ctx context.Context, h ListenHandler) error {
	p.mutex.Lock()
	if p.revoked {
		p.mutex.Unlock()
		return protocol.ErrPortRevoked
	}
	p.mutex.Unlock()
	p.router.mutex.Lock()
	if _, ok := p.router.listeners[p.localAddr]; ok {
		p.router.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyListening, p.localAddr)
	}
	p.router.mutex.Unlock()
	if err := p.protocol.OnListen(ctx, p.localAddr); err != nil {
		return err
	}
	p.router.mutex.Lock()
	p.router.listeners[p.localAddr] = h
	p.router.mutex.Unlock()
	p.mutex.Lock()
	p.listening = true
	p.mutex.Unlock()
	return nil
}

// Connect opens an outbound connection to remoteAddr. h handles the
// application end, which is returned
func (p *Port) Connect(ctx context.Context, remoteAddr string, h ConnectionHandler) (Connection, error) {
	p.mutex.Lock()
	if p.revoked {
		p.mutex.Unlock()
		return nil, protocol.ErrPortRevoked
	}
	p.mutex.Unlock()
	res, err := p.protocol.OnConnect(ctx, p.localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	app, proto := newConnectionPair(res.LocalAddress, res.RemoteAddress, h, res.Handler)
	p.track(app)
	proto.open(ctx)
	app.open(ctx)
	return app, nil
}

func (p *Port) track(c *connection) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.conns[c] = struct{}{}
}

// Revoke closes the port's connections, removes its listener and releases
// the port in the protocol
func (p *Port) Revoke(ctx context.Context) error {
	p.mutex.Lock()
	if p.revoked {
		p.mutex.Unlock()
		return protocol.ErrPortRevoked
	}
	p.revoked = true
	conns := p.conns
	p.conns = nil
	listening := p.listening
	p.mutex.Unlock()
	for c := range conns {
		// Already closed connections are fine here
		_ = c.Close(ctx)
	}
	p.router.mutex.Lock()
	if listening {
		delete(p.router.listeners, p.localAddr)
	}
	delete(p.router.ports, p.localAddr)
	p.router.mutex.Unlock()
	return p.protocol.OnRevoke(ctx, p.localAddr)
}

type inboundAttempt struct {
	port       *Port
	listener   ListenHandler
	localAddr  string
	remoteAddr string
	mutex      sync.Mutex
	done       bool
}

func (a *inboundAttempt) LocalAddress() string {
	return a.localAddr
}

func (a *inboundAttempt) RemoteAddress() string {
	return a.remoteAddr
}

// Accept commits the attempt and returns the protocol end of the connection
func (a *inboundAttempt) Accept(ctx context.Context, opts AcceptOptions) (Connection, error) {
	a.mutex.Lock()
	if a.done {
		a.mutex.Unlock()
		return nil, ErrAttemptClosed
	}
	a.done = true
	a.mutex.Unlock()
	if opts.LocalAddress == "" {
		opts.LocalAddress = a.localAddr
	}
	if opts.RemoteAddress == "" {
		opts.RemoteAddress = a.remoteAddr
	}
	appHandler, err := a.listener.OnAccept(ctx, opts.LocalAddress, opts.RemoteAddress)
	if err != nil {
		return nil, err
	}
	app, proto := newConnectionPair(opts.LocalAddress, opts.RemoteAddress, appHandler, opts.Handler)
	a.port.track(app)
	proto.open(ctx)
	app.open(ctx)
	return proto, nil
}

func (a *inboundAttempt) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.done {
		return ErrAttemptClosed
	}
	a.done = true
	return nil
}
