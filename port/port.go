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

// Package port generates port identifiers and tracks the outbound connection
// attempts pending on each bound port
package port

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/blinklabs-io/goibc/address"
	"github.com/blinklabs-io/goibc/internal/future"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/protocol"

	"github.com/google/uuid"
)

// Binder reserves a port on the bridge
type Binder interface {
	BindPort(ctx context.Context, portID string) error
}

// Attempt is an outbound connection waiting for its channelOpenAck
type Attempt struct {
	Id                 string
	PortID             string
	CounterpartyPortID string
	Hops               []string
	Order              protocol.Order
	Version            string
	LocalAddress       string
	RemoteAddress      string
	Result             *future.Future[*netstack.ConnectResult]
	State              protocol.State
}

// NewAttempt builds an attempt for connecting localAddr to remote
func NewAttempt(portID string, localAddr string, remote address.ChannelAddress, initial protocol.State) *Attempt {
	return &Attempt{
		Id:                 uuid.NewString(),
		PortID:             portID,
		CounterpartyPortID: remote.PortID,
		Hops:               slices.Clone(remote.Hops),
		Order:              remote.Order,
		Version:            remote.Version,
		LocalAddress:       localAddr,
		RemoteAddress:      remote.String(),
		Result:             future.New[*netstack.ConnectResult](),
		State:              initial,
	}
}

type Config struct {
	Binder Binder
	Logger *slog.Logger
}

type Controller struct {
	config  Config
	logger  *slog.Logger
	mutex   sync.Mutex
	nextId  uint64
	pending map[string][]*Attempt
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		config:  cfg,
		logger:  cfg.Logger,
		pending: make(map[string][]*Attempt),
	}
}

// GeneratePortID returns a new port identifier. Identifiers are never reused
func (c *Controller) GeneratePortID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.nextId++
	return fmt.Sprintf("port-%d", c.nextId)
}

// Bind parses a port address, reserves the port on the bridge and starts
// tracking attempts for it. It returns the port ID
func (c *Controller) Bind(ctx context.Context, localAddr string) (string, error) {
	portID, err := address.ParsePortAddress(localAddr)
	if err != nil {
		return "", err
	}
	if err := c.config.Binder.BindPort(ctx, portID); err != nil {
		return "", err
	}
	c.mutex.Lock()
	if _, ok := c.pending[portID]; !ok {
		c.pending[portID] = []*Attempt{}
	}
	c.mutex.Unlock()
	c.logger.Info(
		"port bound",
		"port_id", portID,
	)
	return portID, nil
}

// Bound reports whether the port has been bound and not revoked
func (c *Controller) Bound(portID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.pending[portID]
	return ok
}

// AddAttempt records an outbound attempt on its port
func (c *Controller) AddAttempt(attempt *Attempt) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	attempts, ok := c.pending[attempt.PortID]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownPort, attempt.PortID)
	}
	c.pending[attempt.PortID] = append(attempts, attempt)
	return nil
}

// MatchAttempt removes and returns the first attempt on the port whose
// counterparty port and hops match. Attempts with identical tuples are
// matched in the order they were added
func (c *Controller) MatchAttempt(portID string, counterpartyPortID string, hops []string) (*Attempt, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	attempts := c.pending[portID]
	for idx, attempt := range attempts {
		if attempt.CounterpartyPortID != counterpartyPortID {
			continue
		}
		if !address.SameHops(attempt.Hops, hops) {
			continue
		}
		c.pending[portID] = slices.Delete(attempts, idx, idx+1)
		return attempt, true
	}
	return nil, false
}

// RemoveAttempt removes a specific attempt. It returns false if the attempt
// was already matched or revoked
func (c *Controller) RemoveAttempt(attempt *Attempt) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	attempts := c.pending[attempt.PortID]
	idx := slices.Index(attempts, attempt)
	if idx < 0 {
		return false
	}
	c.pending[attempt.PortID] = slices.Delete(attempts, idx, idx+1)
	return true
}

// Pending returns the number of attempts waiting on the port
func (c *Controller) Pending(portID string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending[portID])
}

// Revoke stops tracking the port and returns the attempts that were pending
// on it, after rejecting each with protocol.ErrPortRevoked
func (c *Controller) Revoke(portID string) []*Attempt {
	c.mutex.Lock()
	attempts := c.pending[portID]
	delete(c.pending, portID)
	c.mutex.Unlock()
	for _, attempt := range attempts {
		attempt.Result.Reject(fmt.Errorf("%w: %s", protocol.ErrPortRevoked, portID))
	}
	c.logger.Info(
		"port revoked",
		"port_id", portID,
		"rejected_attempts", len(attempts),
	)
	return attempts
}

// RevokeAll revokes every port, rejecting pending attempts with err
func (c *Controller) RevokeAll(err error) []*Attempt {
	c.mutex.Lock()
	var ret []*Attempt
	for _, attempts := range c.pending {
		ret = append(ret, attempts...)
	}
	c.pending = make(map[string][]*Attempt)
	c.mutex.Unlock()
	for _, attempt := range ret {
		attempt.Result.Reject(err)
	}
	return ret
}
