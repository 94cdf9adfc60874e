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

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	initializeErr error
	recoverErr    error
	runPanic      interface{}

	lock        sync.Mutex
	onException func(err error)
	calls       []string
}

func (l *fakeLifecycle) record(call string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.calls = append(l.calls, call)
}

func (l *fakeLifecycle) getCalls() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string{}, l.calls...)
}

func (l *fakeLifecycle) Initialize(onException func(err error)) error {
	l.record("Initialize")
	l.lock.Lock()
	l.onException = onException
	l.lock.Unlock()
	return l.initializeErr
}

func (l *fakeLifecycle) Recover(ctx context.Context) error {
	l.record("Recover")
	return l.recoverErr
}

func (l *fakeLifecycle) Run(stopCh <-chan struct{}) {
	l.record("Run")
	if l.runPanic != nil {
		panic(l.runPanic)
	}
	<-stopCh
}

func (l *fakeLifecycle) Stop(ctx context.Context) error {
	l.record("Stop")
	return nil
}

func (l *fakeLifecycle) raise(err error) {
	l.lock.Lock()
	onException := l.onException
	l.lock.Unlock()
	onException(err)
}

func startAsync(s *Service) <-chan StopStatus {
	result := make(chan StopStatus, 1)
	go func() { result <- s.Start() }()
	return result
}

func waitForStop(t *testing.T, result <-chan StopStatus) StopStatus {
	select {
	case stopStatus := <-result:
		return stopStatus
	case <-time.After(10 * time.Second):
		require.FailNow(t, "Service never stopped")
		return StopStatus{}
	}
}

func TestService_StopExplicitly(t *testing.T) {
	l := &fakeLifecycle{}
	s := NewService("Test", l, time.Second)
	result := startAsync(s)

	require.Eventually(t, func() bool {
		return len(l.getCalls()) == 3
	}, 10*time.Second, 10*time.Millisecond)
	s.Stop(StopStatus{Code: 0, Reason: "Requested"})
	s.Stop(StopStatus{Code: 1, Reason: "Ignored"})

	stopStatus := waitForStop(t, result)
	assert.Equal(t, 0, stopStatus.Code)
	assert.Equal(t, "Requested", stopStatus.Reason)
	assert.Equal(t, []string{"Initialize", "Recover", "Run", "Stop"}, l.getCalls())
}

func TestService_TransientException(t *testing.T) {
	l := &fakeLifecycle{}
	s := NewService("Test", l, time.Second)
	result := startAsync(s)

	require.Eventually(t, func() bool {
		return len(l.getCalls()) == 3
	}, 10*time.Second, 10*time.Millisecond)
	l.raise(errors.New("store is unavailable"))

	stopStatus := waitForStop(t, result)
	assert.Equal(t, ci.ExitCodeLauncherUnknownFailed, stopStatus.Code)
	assert.True(t, stopStatus.NeedRestart)
	assert.EqualError(t, stopStatus.Err, "store is unavailable")
}

func TestService_NonTransientRecoverFailure(t *testing.T) {
	l := &fakeLifecycle{
		recoverErr: common.NewNonTransientError("FrameworkRequest is deleted"),
	}
	stopStatus := waitForStop(t, startAsync(NewService("Test", l, time.Second)))

	assert.Equal(t, ci.ExitCodeLauncherNonTransientFailed, stopStatus.Code)
	assert.False(t, stopStatus.NeedRestart)
	assert.True(t, common.IsNonTransient(stopStatus.Err))
	assert.Equal(t, []string{"Initialize", "Recover", "Stop"}, l.getCalls())
}

func TestService_InitializeFailure(t *testing.T) {
	l := &fakeLifecycle{initializeErr: errors.New("bad config")}
	stopStatus := waitForStop(t, startAsync(NewService("Test", l, time.Second)))

	assert.True(t, stopStatus.NeedRestart)
	assert.Equal(t, []string{"Initialize", "Stop"}, l.getCalls())
}

func TestService_RunPanic(t *testing.T) {
	l := &fakeLifecycle{runPanic: "boom"}
	stopStatus := waitForStop(t, startAsync(NewService("Test", l, time.Second)))

	assert.Equal(t, ci.ExitCodeLauncherNonTransientFailed, stopStatus.Code)
	assert.False(t, stopStatus.NeedRestart)
	assert.Contains(t, stopStatus.Err.Error(), "boom")
}
