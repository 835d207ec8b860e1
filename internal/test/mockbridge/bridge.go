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

// Package mockbridge provides an in-process bridge for tests. It records
// downcalls, assigns packet sequences and delivers upcalls one at a time
package mockbridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/protocol"
)

// Responder produces the result of a downcall
type Responder func(context.Context, bridge.Request) (cbor.RawMessage, error)

// UpcallFunc delivers a bridge event to the handler under test
type UpcallFunc func(context.Context, bridge.Event) error

var ErrNoUpcallFunc = errors.New("mock bridge has no upcall function")

type Bridge struct {
	mutex       sync.Mutex
	upcallMutex sync.Mutex
	requests    []bridge.Request
	responders  map[bridge.Method]Responder
	sequences   map[protocol.ChannelKey]uint64
	upcallFunc  UpcallFunc
	upcallErrs  []error
	waitGroup   sync.WaitGroup
	notifyChan  chan struct{}
}

func New() *Bridge {
	return &Bridge{
		responders: make(map[bridge.Method]Responder),
		sequences:  make(map[protocol.ChannelKey]uint64),
		notifyChan: make(chan struct{}),
	}
}

// SetUpcallFunc sets where upcalls are delivered
func (b *Bridge) SetUpcallFunc(f UpcallFunc) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.upcallFunc = f
}

// OnDowncall overrides the result of a downcall method
func (b *Bridge) OnDowncall(method bridge.Method, r Responder) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.responders[method] = r
}

// Downcall implements bridge.Bridge
func (b *Bridge) Downcall(ctx context.Context, req bridge.Request) (cbor.RawMessage, error) {
	b.mutex.Lock()
	b.requests = append(b.requests, req)
	responder := b.responders[req.Method()]
	// Wake anyone waiting for a request
	close(b.notifyChan)
	b.notifyChan = make(chan struct{})
	b.mutex.Unlock()
	if responder != nil {
		return responder(ctx, req)
	}
	if req.Method() == bridge.MethodSendPacket {
		sent, err := b.AssignSequence(req)
		if err != nil {
			return nil, err
		}
		return cbor.Encode(sent)
	}
	return nil, nil
}

// AssignSequence returns the packet of a sendPacket request annotated with
// the next sequence for its source channel
func (b *Bridge) AssignSequence(req bridge.Request) (protocol.Packet, error) {
	var packet protocol.Packet
	switch r := req.(type) {
	case bridge.SendPacketRequest:
		packet = r.Packet
	case *bridge.SendPacketRequest:
		packet = r.Packet
	default:
		return protocol.Packet{}, errors.New("not a sendPacket request")
	}
	key := protocol.NewChannelKey(packet.SourceChannel, packet.SourcePort)
	b.mutex.Lock()
	b.sequences[key]++
	packet.Sequence = b.sequences[key]
	b.mutex.Unlock()
	return packet, nil
}

// EchoPackets answers every sendPacket by acknowledging it with its data
// followed by its sequence number, the way a remote echo port with a
// sequence-appending responder would
func (b *Bridge) EchoPackets() {
	b.OnDowncall(
		bridge.MethodSendPacket,
		func(_ context.Context, req bridge.Request) (cbor.RawMessage, error) {
			sent, err := b.AssignSequence(req)
			if err != nil {
				return nil, err
			}
			ack := append([]byte{}, sent.Data...)
			ack = strconv.AppendUint(ack, sent.Sequence, 10)
			b.UpcallAsync(
				&bridge.AcknowledgementPacketEvent{
					Packet:          sent,
					Acknowledgement: ack,
				},
			)
			return cbor.Encode(sent)
		},
	)
}

// Upcall delivers an event and returns the handler's error
func (b *Bridge) Upcall(ctx context.Context, ev bridge.Event) error {
	b.mutex.Lock()
	f := b.upcallFunc
	b.mutex.Unlock()
	if f == nil {
		return ErrNoUpcallFunc
	}
	b.upcallMutex.Lock()
	defer b.upcallMutex.Unlock()
	return f(ctx, ev)
}

// UpcallAsync delivers an event from another goroutine. Errors are kept for
// UpcallErrors
func (b *Bridge) UpcallAsync(ev bridge.Event) {
	b.waitGroup.Add(1)
	go func() {
		defer b.waitGroup.Done()
		if err := b.Upcall(context.Background(), ev); err != nil {
			b.mutex.Lock()
			b.upcallErrs = append(b.upcallErrs, err)
			b.mutex.Unlock()
		}
	}()
}

// Wait waits for asynchronous upcalls to finish
func (b *Bridge) Wait() {
	b.waitGroup.Wait()
}

func (b *Bridge) UpcallErrors() []error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]error{}, b.upcallErrs...)
}

// Requests returns the downcalls received so far
func (b *Bridge) Requests() []bridge.Request {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]bridge.Request{}, b.requests...)
}

// RequestsFor returns the downcalls received so far for one method
func (b *Bridge) RequestsFor(method bridge.Method) []bridge.Request {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var ret []bridge.Request
	for _, req := range b.requests {
		if req.Method() == method {
			ret = append(ret, req)
		}
	}
	return ret
}

// WaitForRequests waits until count downcalls for method have been received
func (b *Bridge) WaitForRequests(method bridge.Method, count int, timeout time.Duration) ([]bridge.Request, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mutex.Lock()
		notifyChan := b.notifyChan
		b.mutex.Unlock()
		if reqs := b.RequestsFor(method); len(reqs) >= count {
			return reqs, nil
		}
		select {
		case <-notifyChan:
		case <-timer.C:
			return nil, errors.New("timed out waiting for " + string(method) + " downcalls")
		}
	}
}
