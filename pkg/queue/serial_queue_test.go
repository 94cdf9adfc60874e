// MIT License
//
// Copyright (c) Microsoft Corporation. All rights reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE

package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lock   sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) record(event string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) handle(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() ([]string, []error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string{}, r.events...), append([]error{}, r.errs...)
}

func runQueue(t *testing.T, r *recorder) (*SerialTaskQueue, chan struct{}) {
	q := NewSerialTaskQueue("test", r.handle)
	stopCh := make(chan struct{})
	go q.Run(stopCh)
	t.Cleanup(func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
		q.WaitForShutdown()
	})
	return q, stopCh
}

func waitEvents(t *testing.T, r *recorder, n int) []string {
	var events []string
	require.Eventually(t, func() bool {
		events, _ = r.snapshot()
		return len(events) >= n
	}, 5*time.Second, 5*time.Millisecond)
	return events
}

func TestSerialTaskQueue_FIFO(t *testing.T) {
	r := &recorder{}
	q, _ := runQueue(t, r)

	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue(func() error {
			r.record(fmt.Sprint(i))
			return nil
		})
	}

	events := waitEvents(t, r, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprint(i), events[i])
	}
}

func TestSerialTaskQueue_NeverOverlaps(t *testing.T) {
	r := &recorder{}
	q, _ := runQueue(t, r)

	running := 0
	maxRunning := 0
	var lock sync.Mutex
	for i := 0; i < 20; i++ {
		q.Enqueue(func() error {
			lock.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			lock.Unlock()

			time.Sleep(time.Millisecond)

			lock.Lock()
			running--
			lock.Unlock()
			r.record("done")
			return nil
		})
	}

	waitEvents(t, r, 20)
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, 1, maxRunning)
}

func TestSerialTaskQueue_DelayedOrderedByDueTime(t *testing.T) {
	r := &recorder{}
	q, _ := runQueue(t, r)

	q.EnqueueDelayed(func() error { r.record("late"); return nil }, 200*time.Millisecond)
	q.EnqueueDelayed(func() error { r.record("early"); return nil }, 50*time.Millisecond)
	q.Enqueue(func() error { r.record("now"); return nil })

	events := waitEvents(t, r, 3)
	assert.Equal(t, []string{"now", "early", "late"}, events)
}

func TestSerialTaskQueue_SameDueTimeKeepsEnqueueOrder(t *testing.T) {
	r := &recorder{}
	q := NewSerialTaskQueue("test", r.handle)
	fixed := time.Now()
	q.now = func() time.Time { return fixed }

	q.EnqueueDelayed(func() error { r.record("a"); return nil }, 0)
	q.EnqueueDelayed(func() error { r.record("b"); return nil }, 0)
	q.EnqueueDelayed(func() error { r.record("c"); return nil }, 0)

	stopCh := make(chan struct{})
	go q.Run(stopCh)
	defer func() {
		close(stopCh)
		q.WaitForShutdown()
	}()

	events := waitEvents(t, r, 3)
	assert.Equal(t, []string{"a", "b", "c"}, events)
}

func TestSerialTaskQueue_FailedOpDoesNotStopQueue(t *testing.T) {
	r := &recorder{}
	q, _ := runQueue(t, r)

	q.Enqueue(func() error { return fmt.Errorf("boom") })
	q.Enqueue(func() error { panic("bad state") })
	q.Enqueue(func() error { r.record("after"); return nil })

	events := waitEvents(t, r, 1)
	assert.Equal(t, []string{"after"}, events)

	_, errs := r.snapshot()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "boom")
	assert.Contains(t, errs[1].Error(), "bad state")
	assert.False(t, common.IsNonTransient(errs[0]))
	assert.True(t, common.IsNonTransient(errs[1]))
}

func TestSerialTaskQueue_Shutdown(t *testing.T) {
	r := &recorder{}
	q, stopCh := runQueue(t, r)

	q.EnqueueDelayed(func() error { r.record("never"); return nil }, time.Hour)
	assert.Equal(t, 1, q.Len())

	close(stopCh)
	q.WaitForShutdown()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(func() error { r.record("ignored"); return nil })
	assert.Equal(t, 0, q.Len())
	events, _ := r.snapshot()
	assert.Empty(t, events)
}
