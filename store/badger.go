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
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/blinklabs-io/goibc/cbor"
	"github.com/blinklabs-io/goibc/protocol"
	"github.com/dgraph-io/badger/v4"
)

var channelKeyPrefix = []byte("channel/")

// BadgerStore keeps records in a badger database
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func channelDbKey(key protocol.ChannelKey) []byte {
	return append(append([]byte{}, channelKeyPrefix...), key.String()...)
}

func (s *BadgerStore) PutChannel(record *ChannelRecord) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := cbor.Encode(record)
	if err != nil {
		return fmt.Errorf("encode channel record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(channelDbKey(record.Key()), data)
	})
}

func (s *BadgerStore) DeleteChannel(key protocol.ChannelKey) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(channelDbKey(key))
	})
}

// Channels returns all records ordered by key
func (s *BadgerStore) Channels() ([]*ChannelRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var ret []*ChannelRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = channelKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var record ChannelRecord
				if _, err := cbor.Decode(val, &record); err != nil {
					return fmt.Errorf("decode channel record %q: %w", item.Key(), err)
				}
				ret = append(ret, &record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger adapts slog to badger's printf-style logger
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
