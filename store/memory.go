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

package store

import (
	"slices"
	"strings"
	"sync"

	"github.com/blinklabs-io/goibc/protocol"
)

// MemoryStore keeps records for the life of the process
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[protocol.ChannelKey]ChannelRecord
	closed  bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[protocol.ChannelKey]ChannelRecord),
	}
}

func (s *MemoryStore) PutChannel(record *ChannelRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	tmp := *record
	tmp.ConnectionHops = slices.Clone(record.ConnectionHops)
	s.records[record.Key()] = tmp
	return nil
}

func (s *MemoryStore) DeleteChannel(key protocol.ChannelKey) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.records, key)
	return nil
}

// Channels returns all records ordered by key
func (s *MemoryStore) Channels() ([]*ChannelRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ret := make([]*ChannelRecord, 0, len(s.records))
	for _, record := range s.records {
		tmp := record
		tmp.ConnectionHops = slices.Clone(record.ConnectionHops)
		ret = append(ret, &tmp)
	}
	slices.SortFunc(ret, func(a, b *ChannelRecord) int {
		return strings.Compare(a.Key().String(), b.Key().String())
	})
	return ret, nil
}

func (s *MemoryStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}
