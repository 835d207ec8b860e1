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

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/muxer"
	"golang.org/x/sync/errgroup"
)

var ErrStreamClosed = errors.New("bridge stream closed")

// UpcallFunc receives the raw CBOR of one bridge event. Upcalls are delivered
// one at a time, in arrival order
type UpcallFunc func(context.Context, []byte) error

// StreamMessage is the CBOR body of a muxer segment on a bridge stream.
// Requests set Method and Payload (downcalls) or Payload alone (upcalls);
// replies set Result or Error
type StreamMessage struct {
	Id      uint64          `json:"id"`
	Method  Method          `json:"method,omitempty"`
	Payload cbor.RawMessage `json:"payload,omitempty"`
	Result  cbor.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamBridge is a Bridge that exchanges downcalls and upcalls with a relayer
// over a stream connection
type StreamBridge struct {
	muxer        *muxer.Muxer
	logger       *slog.Logger
	downcallRecv <-chan *muxer.Segment
	upcallRecv   <-chan *muxer.Segment
	nextId       atomic.Uint64
	pendingMutex sync.Mutex
	pending      map[uint64]chan *StreamMessage
	onceStop     sync.Once
}

func NewStreamBridge(conn net.Conn, logger *slog.Logger) *StreamBridge {
	if logger == nil {
		logger = slog.Default()
	}
	m := muxer.New(conn)
	s := &StreamBridge{
		muxer:   m,
		logger:  logger,
		pending: make(map[uint64]chan *StreamMessage),
	}
	s.downcallRecv = m.RegisterProtocol(muxer.ProtocolDowncall)
	s.upcallRecv = m.RegisterProtocol(muxer.ProtocolUpcall)
	return s
}

// Serve runs the stream until ctx is cancelled or the connection fails.
// Upcalls are passed to upcallFunc and answered with its error, if any
func (s *StreamBridge) Serve(ctx context.Context, upcallFunc UpcallFunc) error {
	s.muxer.Start()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case err, ok := <-s.muxer.ErrorChan():
			if ok && err != nil {
				s.Stop()
				return fmt.Errorf("bridge stream: %w", err)
			}
		}
		s.Stop()
		return nil
	})
	g.Go(func() error {
		for seg := range s.downcallRecv {
			if err := s.handleReply(seg); err != nil {
				return err
			}
		}
		return nil
	})
	// Upcalls are drained off the muxer as they arrive so that downcall replies
	// are never stuck behind an upcall that is waiting on one of them
	queue := newSegmentQueue()
	g.Go(func() error {
		for seg := range s.upcallRecv {
			queue.push(seg)
		}
		queue.close()
		return nil
	})
	g.Go(func() error {
		for {
			seg, ok := queue.pop(ctx)
			if !ok {
				return nil
			}
			if err := s.handleUpcall(ctx, seg, upcallFunc); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

// Stop closes the stream and fails all outstanding downcalls
func (s *StreamBridge) Stop() {
	s.onceStop.Do(func() {
		s.muxer.Stop()
		s.pendingMutex.Lock()
		for id, replyChan := range s.pending {
			close(replyChan)
			delete(s.pending, id)
		}
		s.pendingMutex.Unlock()
	})
}

// Downcall implements Bridge
func (s *StreamBridge) Downcall(ctx context.Context, req Request) (cbor.RawMessage, error) {
	payload, err := cbor.Encode(req)
	if err != nil {
		return nil, err
	}
	msg := StreamMessage{
		Id:      s.nextId.Add(1),
		Method:  req.Method(),
		Payload: payload,
	}
	data, err := cbor.Encode(&msg)
	if err != nil {
		return nil, err
	}
	replyChan := make(chan *StreamMessage, 1)
	s.pendingMutex.Lock()
	select {
	case <-s.muxer.DoneChan():
		s.pendingMutex.Unlock()
		return nil, ErrStreamClosed
	default:
	}
	s.pending[msg.Id] = replyChan
	s.pendingMutex.Unlock()
	defer func() {
		s.pendingMutex.Lock()
		delete(s.pending, msg.Id)
		s.pendingMutex.Unlock()
	}()
	if err := s.muxer.Send(muxer.NewSegment(muxer.ProtocolDowncall, data, false)); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply, ok := <-replyChan:
		if !ok {
			return nil, ErrStreamClosed
		}
		if reply.Error != "" {
			return nil, errors.New(reply.Error)
		}
		return reply.Result, nil
	}
}

func (s *StreamBridge) handleReply(seg *muxer.Segment) error {
	if !seg.IsResponse() {
		return errors.New("bridge stream: unexpected downcall request from relayer")
	}
	var reply StreamMessage
	if _, err := cbor.Decode(seg.Payload, &reply); err != nil {
		return fmt.Errorf("bridge stream: decode reply: %w", err)
	}
	s.pendingMutex.Lock()
	replyChan, ok := s.pending[reply.Id]
	if ok {
		delete(s.pending, reply.Id)
	}
	s.pendingMutex.Unlock()
	if !ok {
		s.logger.Warn(
			"dropping reply for unknown downcall",
			"id", reply.Id,
		)
		return nil
	}
	replyChan <- &reply
	return nil
}

func (s *StreamBridge) handleUpcall(ctx context.Context, seg *muxer.Segment, upcallFunc UpcallFunc) error {
	if !seg.IsRequest() {
		return errors.New("bridge stream: unexpected upcall response from relayer")
	}
	var req StreamMessage
	if _, err := cbor.Decode(seg.Payload, &req); err != nil {
		return fmt.Errorf("bridge stream: decode upcall: %w", err)
	}
	reply := StreamMessage{Id: req.Id}
	if err := upcallFunc(ctx, req.Payload); err != nil {
		reply.Error = err.Error()
	}
	data, err := cbor.Encode(&reply)
	if err != nil {
		return err
	}
	if err := s.muxer.Send(muxer.NewSegment(muxer.ProtocolUpcall, data, true)); err != nil {
		if errors.Is(err, muxer.ErrMuxerStopped) {
			return nil
		}
		return err
	}
	return nil
}

type segmentQueue struct {
	mutex  sync.Mutex
	items  []*muxer.Segment
	closed bool
	notify chan struct{}
}

func newSegmentQueue() *segmentQueue {
	return &segmentQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *segmentQueue) push(seg *muxer.Segment) {
	q.mutex.Lock()
	q.items = append(q.items, seg)
	q.mutex.Unlock()
	q.wake()
}

func (q *segmentQueue) close() {
	q.mutex.Lock()
	q.closed = true
	q.mutex.Unlock()
	q.wake()
}

func (q *segmentQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available. It returns false once the queue is
// closed and drained, or when ctx is done
func (q *segmentQueue) pop(ctx context.Context) (*muxer.Segment, bool) {
	for {
		q.mutex.Lock()
		if len(q.items) > 0 {
			seg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mutex.Unlock()
			return seg, true
		}
		closed := q.closed
		q.mutex.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}
