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
	"fmt"
	"sync"
	"time"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Lifecycle is implemented by the launcher service and the ApplicationMaster.
// Initialize, Recover and Stop are called in sequence by the Service, while
// Run is called on its own goroutine and should block until stopCh is closed.
type Lifecycle interface {
	Initialize(onException func(err error)) error
	Recover(ctx context.Context) error
	Run(stopCh <-chan struct{})
	Stop(ctx context.Context) error
}

type StopStatus struct {
	// Process exit code
	Code int
	// Whether the Lifecycle can be restarted in place, i.e. rebuilt from the
	// durable store within the same process.
	NeedRestart bool
	Reason      string
	Err         error
}

func (s StopStatus) String() string {
	return fmt.Sprintf("Code: %v, NeedRestart: %v, Reason: %v, Err: %v",
		s.Code, s.NeedRestart, s.Reason, s.Err)
}

// Service drives a Lifecycle until it is stopped, either explicitly or by an
// exception.
type Service struct {
	name        string
	lifecycle   Lifecycle
	stopTimeout time.Duration

	stopOnce   sync.Once
	stopCh     chan struct{}
	stopStatus StopStatus
}

func NewService(name string, lifecycle Lifecycle, stopTimeout time.Duration) *Service {
	return &Service{
		name:        name,
		lifecycle:   lifecycle,
		stopTimeout: stopTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Start blocks until the Service is stopped and the Lifecycle is stopped too.
func (s *Service) Start() StopStatus {
	log.Infof("[%v]: Starting", s.name)

	if s.safeCall("Initialize", func() error {
		return s.lifecycle.Initialize(func(err error) { s.HandleException(err) })
	}) && s.safeCall("Recover", func() error {
		return s.lifecycle.Recover(context.Background())
	}) {
		go s.safeCall("Run", func() error {
			s.lifecycle.Run(s.stopCh)
			return nil
		})
		log.Infof("[%v]: Started", s.name)
	}

	<-s.stopCh
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.lifecycle.Stop(ctx); err != nil {
		log.Warnf("[%v]: Failed to stop gracefully: %v", s.name, err)
	}

	log.Infof("[%v]: Stopped: %v", s.name, s.stopStatus)
	return s.stopStatus
}

// safeCall returns false if the call failed, and the failure is already
// handled as an exception.
func (s *Service) safeCall(step string, call func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.HandleException(common.NewNonTransientError("%v panicked: %v", step, r))
			ok = false
		}
	}()

	if err := call(); err != nil {
		s.HandleException(errors.Wrapf(err, "%v failed", step))
		return false
	}
	return true
}

// HandleException stops the Service, and returns whether it is going to be
// restarted in place.
func (s *Service) HandleException(err error) bool {
	if common.IsNonTransient(err) {
		log.Errorf("[%v]: NonTransientError occurred, will stop: %v", s.name, err)
		s.Stop(StopStatus{
			Code:        ci.ExitCodeLauncherNonTransientFailed,
			NeedRestart: false,
			Reason:      "NonTransientError occurred",
			Err:         err,
		})
		return false
	}

	log.Errorf("[%v]: Error occurred, it should be transient, "+
		"will restart in place: %v", s.name, err)
	s.Stop(StopStatus{
		Code:        ci.ExitCodeLauncherUnknownFailed,
		NeedRestart: true,
		Reason:      "Transient error occurred",
		Err:         err,
	})
	return true
}

// Stop only records the first StopStatus, and is safe to be called from any
// goroutine, including the ones driven by the Lifecycle itself.
func (s *Service) Stop(stopStatus StopStatus) {
	s.stopOnce.Do(func() {
		log.Infof("[%v]: Stopping: %v", s.name, stopStatus)
		s.stopStatus = stopStatus
		close(s.stopCh)
	})
}

// Stopped is closed once Stop is called.
func (s *Service) Stopped() <-chan struct{} {
	return s.stopCh
}
