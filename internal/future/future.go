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

// Package future provides a value that is settled exactly once and can be
// awaited by any number of goroutines.
package future

import (
	"context"
	"sync"
)

type Future[T any] struct {
	doneChan chan struct{}
	once     sync.Once
	value    T
	err      error
}

func New[T any]() *Future[T] {
	return &Future[T]{
		doneChan: make(chan struct{}),
	}
}

// Resolve settles the future with a value. It returns false if the future
// was already settled
func (f *Future[T]) Resolve(value T) bool {
	return f.settle(value, nil)
}

// Reject settles the future with an error. It returns false if the future
// was already settled
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(value T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.doneChan)
		settled = true
	})
	return settled
}

// Done is closed once the future is settled
func (f *Future[T]) Done() <-chan struct{} {
	return f.doneChan
}

func (f *Future[T]) Settled() bool {
	select {
	case <-f.doneChan:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is settled or ctx is done
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.doneChan:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
