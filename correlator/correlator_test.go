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

package correlator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/goibc/correlator"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sequenceSender struct {
	mutex    sync.Mutex
	next     uint64
	timeouts []time.Duration
	err      error
}

func (s *sequenceSender) SendPacket(_ context.Context, packet protocol.Packet, timeout time.Duration) (protocol.Packet, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return protocol.Packet{}, s.err
	}
	s.next++
	s.timeouts = append(s.timeouts, timeout)
	packet.Sequence = s.next
	return packet, nil
}

func newCorrelator(t *testing.T, sender correlator.Sender, limit int) *correlator.Correlator {
	t.Helper()
	c, err := correlator.New(correlator.Config{
		Sender:      sender,
		OrphanLimit: limit,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func testPacket(data string) protocol.Packet {
	return protocol.Packet{
		SourcePort:         "port-1",
		SourceChannel:      "channel-1",
		DestinationPort:    "port-98",
		DestinationChannel: "channel-22",
		Data:               []byte(data),
	}
}

func TestSendAcknowledge(t *testing.T) {
	defer goleak.VerifyNone(t)
	sender := &sequenceSender{}
	c := newCorrelator(t, sender, 0)
	ack, err := c.Send(context.Background(), testPacket("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.Key().Sequence)
	assert.Equal(t, protocol.NewChannelKey("channel-1", "port-1"), ack.Key().ChannelKey)
	assert.Equal(t, []time.Duration{correlator.DefaultTimeout}, sender.timeouts)
	assert.Equal(t, 1, c.Pending(ack.Key().ChannelKey))

	c.Acknowledge(ack.Packet(), []byte("hello1"))
	result, err := ack.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello1"), result)
	assert.Equal(t, 0, c.Pending(ack.Key().ChannelKey))
}

func TestSendCustomTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	sender := &sequenceSender{}
	c := newCorrelator(t, sender, 0)
	_, err := c.Send(context.Background(), testPacket("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute}, sender.timeouts)
}

func TestSendError(t *testing.T) {
	defer goleak.VerifyNone(t)
	testErr := errors.New("bridge down")
	c := newCorrelator(t, &sequenceSender{err: testErr}, 0)
	_, err := c.Send(context.Background(), testPacket("x"), 0)
	assert.ErrorIs(t, err, testErr)
}

func TestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCorrelator(t, &sequenceSender{}, 0)
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	c.Timeout(ack.Packet())
	_, err = ack.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrPacketTimedOut)
}

func TestAcknowledgeBeforeSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCorrelator(t, &sequenceSender{}, 0)
	early := testPacket("x")
	early.Sequence = 1
	// Result arrives before the send returns
	c.Acknowledge(early, []byte("early"))
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	select {
	case <-ack.Done():
	default:
		t.Fatal("orphaned ack was not claimed")
	}
	result, err := ack.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), result)
}

func TestOrphanLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCorrelator(t, &sequenceSender{}, 1)
	first := testPacket("x")
	first.Sequence = 1
	second := testPacket("x")
	second.Sequence = 2
	c.Acknowledge(first, []byte("one"))
	c.Acknowledge(second, []byte("two"))
	// Sequence 1 was evicted, so the send waits for a new result
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	select {
	case <-ack.Done():
		t.Fatal("evicted ack should not be claimed")
	default:
	}
	assert.Equal(t, 1, c.Pending(ack.Key().ChannelKey))
}

func TestRejectChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCorrelator(t, &sequenceSender{}, 0)
	var acks []*correlator.Ack
	for range 3 {
		ack, err := c.Send(context.Background(), testPacket("x"), 0)
		require.NoError(t, err)
		acks = append(acks, ack)
	}
	other := testPacket("y")
	other.SourceChannel = "channel-2"
	otherAck, err := c.Send(context.Background(), other, 0)
	require.NoError(t, err)

	count := c.RejectChannel(protocol.NewChannelKey("channel-1", "port-1"), protocol.ErrConnectionClosed)
	assert.Equal(t, 3, count)
	for _, ack := range acks {
		_, err := ack.Wait(context.Background())
		assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	}
	assert.False(t, isDone(otherAck))
	// A later ack for a rejected sequence does not change the result
	c.Acknowledge(acks[0].Packet(), []byte("late"))
	_, err = acks[0].Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, err := correlator.New(correlator.Config{Sender: &sequenceSender{}})
	require.NoError(t, err)
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	c.Close()
	_, err = ack.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrHandlerShuttingDown)
	_, err = c.Send(context.Background(), testPacket("x"), 0)
	assert.ErrorIs(t, err, protocol.ErrHandlerShuttingDown)
}

func TestSendManual(t *testing.T) {
	defer goleak.VerifyNone(t)
	sender := &sequenceSender{}
	m, err := metrics.NewHandlerMetrics(nil)
	require.NoError(t, err)
	c, err := correlator.New(correlator.Config{Sender: sender, Metrics: m})
	require.NoError(t, err)
	c.SendManual(testPacket("manual"), 0)
	require.Eventually(
		t,
		func() bool {
			return c.Pending(protocol.NewChannelKey("channel-1", "port-1")) == 1
		},
		time.Second,
		10*time.Millisecond,
	)
	sent := testPacket("manual")
	sent.Sequence = 1
	c.Acknowledge(sent, []byte{1})
	c.Close()
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.PacketsSent)
	assert.Equal(t, uint64(1), stats.PacketsAcked)
}

// gatedSender blocks each send until release is closed
type gatedSender struct {
	sequenceSender
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedSender() *gatedSender {
	return &gatedSender{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *gatedSender) SendPacket(ctx context.Context, packet protocol.Packet, timeout time.Duration) (protocol.Packet, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	<-s.release
	return s.sequenceSender.SendPacket(ctx, packet, timeout)
}

func TestChannelClosedDuringSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	sender := newGatedSender()
	c := newCorrelator(t, sender, 0)
	chanKey := protocol.NewChannelKey("channel-1", "port-1")
	errChan := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testPacket("x"), 0)
		errChan <- err
	}()
	<-sender.started
	assert.Equal(t, 0, c.RejectChannel(chanKey, protocol.ErrConnectionClosed))
	close(sender.release)
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("send did not settle after its channel closed")
	}
	assert.Equal(t, 0, c.Pending(chanKey))

	// Refused without reaching the sender
	_, err := c.Send(context.Background(), testPacket("y"), 0)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	assert.Equal(t, int32(1), sender.calls.Load())

	// Results for the closed channel are not kept
	late := testPacket("x")
	late.Sequence = 1
	c.Acknowledge(late, []byte("late"))
	assert.Equal(t, 0, c.Pending(chanKey))

	c.OpenChannel(chanKey)
	ack, err := c.Send(context.Background(), testPacket("z"), 0)
	require.NoError(t, err)
	assert.False(t, isDone(ack))
	assert.Equal(t, 1, c.Pending(chanKey))
}

func TestCloseDuringSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	sender := newGatedSender()
	c, err := correlator.New(correlator.Config{Sender: sender})
	require.NoError(t, err)
	errChan := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testPacket("x"), 0)
		errChan <- err
	}()
	<-sender.started
	c.Close()
	close(sender.release)
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, protocol.ErrHandlerShuttingDown)
	case <-time.After(time.Second):
		t.Fatal("send did not settle after close")
	}
	assert.Equal(t, 0, c.Pending(protocol.NewChannelKey("channel-1", "port-1")))
}

func TestCommitmentMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, err := metrics.NewHandlerMetrics(nil)
	require.NoError(t, err)
	c, err := correlator.New(correlator.Config{Sender: &sequenceSender{}, Metrics: m})
	require.NoError(t, err)
	defer c.Close()
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	other := ack.Packet()
	other.Data = []byte("not x")
	c.Acknowledge(other, []byte("ok"))
	_, err = ack.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrCommitmentMismatch)
	assert.Equal(t, 0, c.Pending(ack.Key().ChannelKey))
	assert.Equal(t, uint64(1), m.Stats().CommitmentMismatches)
}

func TestOrphanCommitmentMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, err := metrics.NewHandlerMetrics(nil)
	require.NoError(t, err)
	c, err := correlator.New(correlator.Config{Sender: &sequenceSender{}, Metrics: m})
	require.NoError(t, err)
	defer c.Close()
	early := testPacket("not x")
	early.Sequence = 1
	c.Acknowledge(early, []byte("early"))
	ack, err := c.Send(context.Background(), testPacket("x"), 0)
	require.NoError(t, err)
	_, err = ack.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrCommitmentMismatch)
	assert.Equal(t, uint64(1), m.Stats().CommitmentMismatches)
}

func TestNewWithoutSender(t *testing.T) {
	_, err := correlator.New(correlator.Config{})
	assert.Error(t, err)
}

func isDone(ack *correlator.Ack) bool {
	select {
	case <-ack.Done():
		return true
	default:
		return false
	}
}
