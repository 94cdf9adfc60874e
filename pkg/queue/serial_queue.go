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
	"container/heap"
	"sync"
	"time"

	"github.com/microsoft/frameworklauncher/pkg/common"
	log "github.com/sirupsen/logrus"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

// Op is a unit of work of the SerialTaskQueue.
type Op func() error

// ErrorHandler receives the error returned by or the panic raised from an Op.
// A panic is received as a common.NonTransientError.
type ErrorHandler func(err error)

// SerialTaskQueue executes the Ops one by one on a single worker, ordered by
// the due time and then by the enqueue order.
// An Op is never started before the previous Op returns.
// A failed Op is dropped after reported to the ErrorHandler, and the following
// Ops are still executed.
type SerialTaskQueue struct {
	name         string
	errorHandler ErrorHandler

	lock     sync.Mutex
	items    opHeap
	seq      uint64
	wakeup   chan struct{}
	shutdown bool
	// Closed after the worker exits
	done chan struct{}

	// For test
	now func() time.Time
}

type opItem struct {
	op  Op
	due time.Time
	seq uint64
}

// opHeap implements heap.Interface, ordered by (due, seq).
type opHeap []*opItem

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h opHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x interface{}) { *h = append(*h, x.(*opItem)) }
func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func NewSerialTaskQueue(name string, errorHandler ErrorHandler) *SerialTaskQueue {
	if errorHandler == nil {
		errorHandler = func(err error) {
			utilruntime.HandleError(err)
		}
	}
	return &SerialTaskQueue{
		name:         name,
		errorHandler: errorHandler,
		items:        opHeap{},
		wakeup:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Enqueue never blocks.
func (q *SerialTaskQueue) Enqueue(op Op) {
	q.EnqueueDelayed(op, 0)
}

// EnqueueDelayed never blocks, the Op is executed after the delay.
func (q *SerialTaskQueue) EnqueueDelayed(op Op, delay time.Duration) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.shutdown {
		log.Warnf("[%v]: Ignore the Op enqueued after shutdown", q.name)
		return
	}
	if delay < 0 {
		delay = 0
	}
	q.seq++
	heap.Push(&q.items, &opItem{op: op, due: q.now().Add(delay), seq: q.seq})
	q.signal()
}

func (q *SerialTaskQueue) signal() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// Len returns the number of Ops not started yet, including the delayed ones.
func (q *SerialTaskQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.items.Len()
}

// Run drains the queue until Shutdown or the stopCh is closed.
// The running Op is allowed to finish, and the pending Ops are dropped.
func (q *SerialTaskQueue) Run(stopCh <-chan struct{}) {
	defer close(q.done)
	log.Infof("[%v]: Started the SerialTaskQueue", q.name)
	defer log.Infof("[%v]: Stopped the SerialTaskQueue", q.name)

	go func() {
		select {
		case <-stopCh:
			q.Shutdown()
		case <-q.done:
		}
	}()

	for {
		item, wait, stopped := q.next()
		if stopped {
			return
		}
		if item != nil {
			q.execute(item.op)
			continue
		}

		var timer <-chan time.Time
		if wait > 0 {
			t := time.NewTimer(wait)
			timer = t.C
			select {
			case <-q.wakeup:
			case <-timer:
			}
			t.Stop()
		} else {
			<-q.wakeup
		}
	}
}

// next pops the first due Op, otherwise returns how long to wait for the
// first delayed Op, or 0 to wait for the next enqueue.
func (q *SerialTaskQueue) next() (*opItem, time.Duration, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.shutdown {
		return nil, 0, true
	}
	if q.items.Len() == 0 {
		return nil, 0, false
	}
	first := q.items[0]
	wait := first.due.Sub(q.now())
	if wait > 0 {
		return nil, wait, false
	}
	return heap.Pop(&q.items).(*opItem), 0, false
}

func (q *SerialTaskQueue) execute(op Op) {
	var err error
	func() {
		defer func() {
			// A panic is an invariant violation.
			if r := recover(); r != nil {
				err = common.NewNonTransientError("Op panicked: %v", r)
			}
		}()
		err = op()
	}()

	if err != nil {
		log.Errorf("[%v]: Op failed: %v", q.name, err)
		q.errorHandler(err)
	}
}

// Shutdown stops the worker after the running Op returns.
func (q *SerialTaskQueue) Shutdown() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.shutdown {
		q.shutdown = true
		q.items = opHeap{}
		q.signal()
	}
}

// WaitForShutdown blocks until the worker exits.
func (q *SerialTaskQueue) WaitForShutdown() {
	<-q.done
}
