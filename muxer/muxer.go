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

// Package muxer frames bridge messages over a stream connection.
//
// Each segment carries a protocol ID (downcalls or upcalls) with a response
// flag, so that requests and replies for both directions can share one
// connection.
package muxer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

var ErrMuxerStopped = errors.New("muxer stopped")

type Muxer struct {
	conn              net.Conn
	sendMutex         sync.Mutex
	receiversMutex    sync.Mutex
	doneChan          chan struct{}
	errorChan         chan error
	onceStart         sync.Once
	onceStop          sync.Once
	waitGroup         sync.WaitGroup
	protocolReceivers map[uint16]chan *Segment
}

func New(conn net.Conn) *Muxer {
	m := &Muxer{
		conn:              conn,
		doneChan:          make(chan struct{}),
		errorChan:         make(chan error, 1),
		protocolReceivers: make(map[uint16]chan *Segment),
	}
	return m
}

// ErrorChan returns the channel for asynchronous errors. It is closed when the
// muxer stops
func (m *Muxer) ErrorChan() <-chan error {
	return m.errorChan
}

// DoneChan is closed when the muxer stops
func (m *Muxer) DoneChan() <-chan struct{} {
	return m.doneChan
}

// Start begins reading segments. Protocols must be registered before Start
func (m *Muxer) Start() {
	m.onceStart.Do(func() {
		m.waitGroup.Add(1)
		go m.readLoop()
	})
}

// Stop closes the underlying connection and waits for the read loop to exit
func (m *Muxer) Stop() {
	m.onceStop.Do(func() {
		close(m.doneChan)
		_ = m.conn.Close()
		m.waitGroup.Wait()
		m.receiversMutex.Lock()
		for _, recvChan := range m.protocolReceivers {
			close(recvChan)
		}
		m.receiversMutex.Unlock()
		close(m.errorChan)
	})
}

func (m *Muxer) sendError(err error) {
	// Immediately return if we're already shutting down
	select {
	case <-m.doneChan:
		return
	default:
	}
	select {
	case m.errorChan <- err:
	default:
	}
}

// RegisterProtocol returns the channel on which segments for the protocol ID
// (requests and responses) are delivered
func (m *Muxer) RegisterProtocol(protocolId uint16) <-chan *Segment {
	m.receiversMutex.Lock()
	defer m.receiversMutex.Unlock()
	recvChan := make(chan *Segment, 10)
	m.protocolReceivers[protocolId] = recvChan
	return recvChan
}

func (m *Muxer) Send(msg *Segment) error {
	if len(msg.Payload) > SegmentMaxPayloadLength {
		return fmt.Errorf(
			"payload length %d exceeds maximum %d",
			len(msg.Payload),
			SegmentMaxPayloadLength,
		)
	}
	select {
	case <-m.doneChan:
		return ErrMuxerStopped
	default:
	}
	// We use a mutex to make sure only one sender writes at a time
	m.sendMutex.Lock()
	defer m.sendMutex.Unlock()
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, msg.SegmentHeader); err != nil {
		return err
	}
	buf.Write(msg.Payload)
	if _, err := m.conn.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

func (m *Muxer) readLoop() {
	defer m.waitGroup.Done()
	for {
		header := SegmentHeader{}
		if err := binary.Read(m.conn, binary.BigEndian, &header); err != nil {
			m.sendError(err)
			return
		}
		if header.PayloadLength > SegmentMaxPayloadLength {
			m.sendError(
				fmt.Errorf(
					"segment payload length %d exceeds maximum %d",
					header.PayloadLength,
					SegmentMaxPayloadLength,
				),
			)
			return
		}
		msg := &Segment{
			SegmentHeader: header,
			Payload:       make([]byte, header.PayloadLength),
		}
		// We use ReadFull because it guarantees to read the expected number of bytes or
		// return an error
		if _, err := io.ReadFull(m.conn, msg.Payload); err != nil {
			m.sendError(err)
			return
		}
		m.receiversMutex.Lock()
		recvChan := m.protocolReceivers[msg.GetProtocolId()]
		m.receiversMutex.Unlock()
		if recvChan == nil {
			m.sendError(fmt.Errorf("received message for unknown protocol ID %d", msg.GetProtocolId()))
			return
		}
		select {
		case recvChan <- msg:
		case <-m.doneChan:
			return
		}
	}
}
