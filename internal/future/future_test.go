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

package future_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/goibc/internal/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFutureResolveOnce(t *testing.T) {
	f := future.New[string]()
	assert.False(t, f.Settled())
	assert.True(t, f.Resolve("first"))
	assert.False(t, f.Resolve("second"))
	assert.False(t, f.Reject(errors.New("late")))
	assert.True(t, f.Settled())
	val, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", val)
}

func TestFutureReject(t *testing.T) {
	f := future.New[[]byte]()
	testErr := errors.New("rejected")
	assert.True(t, f.Reject(testErr))
	val, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, testErr)
	assert.Nil(t, val)
}

func TestFutureWaitContext(t *testing.T) {
	f := future.New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Settled())
}

func TestFutureManyWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := future.New[int]()
	var wg sync.WaitGroup
	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := f.Wait(context.Background())
			if err == nil {
				results <- val
			}
		}()
	}
	f.Resolve(5)
	wg.Wait()
	close(results)
	count := 0
	for val := range results {
		assert.Equal(t, 5, val)
		count++
	}
	assert.Equal(t, 10, count)
}
