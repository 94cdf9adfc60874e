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

package status

import (
	"sync"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
)

///////////////////////////////////////////////////////////////////////////////////////
// Transition Events
// Each destination state takes its own event type, see TransitionTaskState
// and TransitionFrameworkState for which one is required.
///////////////////////////////////////////////////////////////////////////////////////
type TaskEvent interface {
	isTaskEvent()
}

type EnterContainerRequested struct {
	// Its Priority is overwritten by the store.
	Request *ci.ContainerRequest
}

type EnterContainerAssociated struct {
	Container *ci.Container
}

type EnterContainerCompleted struct {
	// Only required if the Task is not associated with a Container yet.
	Container      *ci.Container
	RawExitStatus  int32
	RawDiagnostics string
}

type EnterTaskWaitingForRetry struct {
	RetryPolicyState ci.RetryPolicyState
}

func (EnterContainerRequested) isTaskEvent()  {}
func (EnterContainerAssociated) isTaskEvent() {}
func (EnterContainerCompleted) isTaskEvent()  {}
func (EnterTaskWaitingForRetry) isTaskEvent() {}

type FrameworkEvent interface {
	isFrameworkEvent()
}

type EnterApplicationCreated struct {
	ApplicationID string
}

type EnterApplicationRetrievingDiagnostics struct {
	// The best known ExitCode so far, nil means unknown.
	ExitCode    *ci.ExitCode
	Diagnostics string
}

type EnterApplicationCompleted struct {
	ExitCode            ci.ExitCode
	Diagnostics         string
	TriggerMessage      string
	TriggerTaskRoleName string
	TriggerTaskIndex    *int32
}

type EnterFrameworkWaitingForRetry struct {
	RetryPolicyState ci.RetryPolicyState
}

type EnterFrameworkCompleted struct {
	// Optional, nil keeps the current RetryPolicyState.
	RetryPolicyState *ci.RetryPolicyState
}

func (EnterApplicationCreated) isFrameworkEvent()               {}
func (EnterApplicationRetrievingDiagnostics) isFrameworkEvent() {}
func (EnterApplicationCompleted) isFrameworkEvent()             {}
func (EnterFrameworkWaitingForRetry) isFrameworkEvent()         {}
func (EnterFrameworkCompleted) isFrameworkEvent()               {}

///////////////////////////////////////////////////////////////////////////////////////
// Notification Events
// Emitted by the TaskStatusStore to its subscriber.
///////////////////////////////////////////////////////////////////////////////////////
type Event interface {
	isEvent()
}

// The outstanding Task count becomes positive.
// Round identifies this appearance, so that an observation made in an
// earlier Round can be detected as stale.
type OutstandingTaskAppeared struct {
	Round int32
	Count int
}

// The outstanding Task count becomes 0.
type OutstandingTaskDisappeared struct {
	Round int32
}

// The Container of the Task should be released in the scheduler.
type TaskToReleaseContainer struct {
	TaskStatus *ci.TaskStatus
}

// The Task is removed, its ContainerRequest, if any, should be cancelled.
type TaskToRemove struct {
	TaskStatus       *ci.TaskStatus
	ContainerRequest *ci.ContainerRequest
}

// A background work of the store failed.
type ExceptionOccurred struct {
	Err error
}

func (OutstandingTaskAppeared) isEvent()    {}
func (OutstandingTaskDisappeared) isEvent() {}
func (TaskToReleaseContainer) isEvent()     {}
func (TaskToRemove) isEvent()               {}
func (ExceptionOccurred) isEvent()          {}

// Listener is a callback style subscriber, see Dispatch.
type Listener interface {
	OnOutstandingTaskAppeared(round int32, count int)
	OnOutstandingTaskDisappeared(round int32)
	OnTaskToReleaseContainer(taskStatus *ci.TaskStatus)
	OnTaskToRemove(taskStatus *ci.TaskStatus, request *ci.ContainerRequest)
	OnExceptionOccurred(err error)
}

// Dispatch delivers the events to the Listener until the channel is closed.
func Dispatch(events <-chan Event, l Listener) {
	for event := range events {
		switch e := event.(type) {
		case OutstandingTaskAppeared:
			l.OnOutstandingTaskAppeared(e.Round, e.Count)
		case OutstandingTaskDisappeared:
			l.OnOutstandingTaskDisappeared(e.Round)
		case TaskToReleaseContainer:
			l.OnTaskToReleaseContainer(e.TaskStatus)
		case TaskToRemove:
			l.OnTaskToRemove(e.TaskStatus, e.ContainerRequest)
		case ExceptionOccurred:
			l.OnExceptionOccurred(e.Err)
		}
	}
}

// eventBuffer is an unbounded FIFO of Events: add never blocks, so it can be
// called with the store lock held, and a single goroutine delivers the Events
// to the channel in the add order.
type eventBuffer struct {
	lock    sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
	out     chan Event
}

func newEventBuffer() *eventBuffer {
	b := &eventBuffer{out: make(chan Event)}
	b.cond = sync.NewCond(&b.lock)
	go b.deliver()
	return b
}

func (b *eventBuffer) add(events ...Event) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}
	b.pending = append(b.pending, events...)
	b.cond.Signal()
}

// close delivers the pending Events and then closes the channel.
func (b *eventBuffer) close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.closed = true
	b.cond.Signal()
}

func (b *eventBuffer) deliver() {
	defer close(b.out)
	for {
		b.lock.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 {
			b.lock.Unlock()
			return
		}
		event := b.pending[0]
		b.pending[0] = nil
		b.pending = b.pending[1:]
		b.lock.Unlock()

		b.out <- event
	}
}
