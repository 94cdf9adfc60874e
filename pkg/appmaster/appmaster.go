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

package appmaster

import (
	"context"
	"fmt"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/metrics"
	"github.com/microsoft/frameworklauncher/pkg/status"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Store is the durable storage of the Framework of the ApplicationMaster,
// such as the store.LauncherStore.
type Store interface {
	status.TaskStatusPersister
	GetFrameworkRequest(
		ctx context.Context, frameworkName string) (*ci.FrameworkRequest, error)
	ExistsFrameworkRequest(
		ctx context.Context, frameworkName string, frameworkVersion int32) (bool, error)
}

// ApplicationMaster hosts the TaskStatusStore of one Framework attempt: it
// keeps the Tasks in line with the FrameworkRequest, and hands the store
// notifications over to the ContainerReleaser and the OutstandingObserver.
type ApplicationMaster struct {
	cConfig          *ci.Config
	store            Store
	frameworkName    string
	frameworkVersion int32
	applicationID    string

	releaser ContainerReleaser
	observer OutstandingObserver

	tStore       *status.TaskStatusStore
	onException  func(err error)
	ctx          context.Context
	cancel       context.CancelFunc
	dispatchDone chan struct{}
}

var _ status.Listener = &ApplicationMaster{}

func NewApplicationMaster(
	cConfig *ci.Config, store Store,
	frameworkName string, frameworkVersion int32, applicationID string,
	releaser ContainerReleaser, observer OutstandingObserver) *ApplicationMaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &ApplicationMaster{
		cConfig:          cConfig,
		store:            store,
		frameworkName:    frameworkName,
		frameworkVersion: frameworkVersion,
		applicationID:    applicationID,
		releaser:         releaser,
		observer:         observer,
		ctx:              ctx,
		cancel:           cancel,
		dispatchDone:     make(chan struct{}),
	}
}

func (am *ApplicationMaster) logPfx() string {
	return fmt.Sprintf("[%v][%v][%v]: ",
		am.frameworkName, am.frameworkVersion, am.applicationID)
}

///////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
///////////////////////////////////////////////////////////////////////////////////////
func (am *ApplicationMaster) Initialize(onException func(err error)) error {
	log.Infof(am.logPfx() + "Initializing ApplicationMaster")
	am.onException = onException

	am.tStore = status.NewTaskStatusStore(
		am.cConfig, am.store, am.frameworkName, am.frameworkVersion)
	// A stale ApplicationMaster must not overwrite the status of the new
	// FrameworkVersion.
	am.tStore.SetPushGuard(func(ctx context.Context) (bool, error) {
		return am.store.ExistsFrameworkRequest(ctx, am.frameworkName, am.frameworkVersion)
	})

	go func() {
		defer close(am.dispatchDone)
		status.Dispatch(am.tStore.Events(), am)
	}()
	return nil
}

func (am *ApplicationMaster) Recover(ctx context.Context) error {
	logPfx := am.logPfx() + "Recover: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	err := am.tStore.Recover(ctx)
	if err != nil {
		return err
	}
	return am.syncFrameworkRequest(ctx)
}

func (am *ApplicationMaster) Run(stopCh <-chan struct{}) {
	defer log.Errorf(am.logPfx() + "Stopping ApplicationMaster")
	log.Infof(am.logPfx() + "Running ApplicationMaster")

	go am.tStore.Run(stopCh)
	wait.Until(am.pullFrameworkRequest,
		common.SecToDuration(am.cConfig.ServiceRequestPullIntervalSec), stopCh)
}

// Stop pushes the final TaskStatuses, and waits all notifications to be
// handled, including the Container releases of the rollback.
func (am *ApplicationMaster) Stop(ctx context.Context) error {
	logPfx := am.logPfx() + "Stop: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	if am.tStore == nil {
		return nil
	}
	err := am.tStore.Stop(ctx)
	select {
	case <-am.dispatchDone:
	case <-ctx.Done():
		log.Warnf(logPfx+"Abandoned pending notifications: %v", ctx.Err())
	}
	am.cancel()
	return err
}

///////////////////////////////////////////////////////////////////////////////////////
// FrameworkRequest
///////////////////////////////////////////////////////////////////////////////////////
func (am *ApplicationMaster) pullFrameworkRequest() {
	err := am.syncFrameworkRequest(am.ctx)
	if err == nil {
		return
	}
	if common.IsNonTransient(err) {
		am.onException(err)
	} else {
		log.Warnf(am.logPfx()+"Failed to pull FrameworkRequest, will retry later: %v", err)
	}
}

// syncFrameworkRequest applies the latest TaskRoles of the local
// FrameworkVersion. A deleted or upgraded FrameworkRequest means the
// ApplicationMaster is stale.
func (am *ApplicationMaster) syncFrameworkRequest(ctx context.Context) error {
	request, err := am.store.GetFrameworkRequest(ctx, am.frameworkName)
	if store.IsNoNode(err) {
		return common.WrapNonTransientError(err,
			"FrameworkRequest %v is deleted, the ApplicationMaster is stale",
			am.frameworkName)
	} else if err != nil {
		return errors.Wrapf(err, "Failed to get FrameworkRequest %v", am.frameworkName)
	}
	if request.FrameworkDescriptor == nil {
		return common.NewNonTransientError(
			"FrameworkRequest %v has no FrameworkDescriptor", am.frameworkName)
	}
	if request.Version() != am.frameworkVersion {
		return common.NewNonTransientError(
			"FrameworkVersion %v of FrameworkRequest %v does not match the local "+
				"FrameworkVersion %v, the ApplicationMaster is stale",
			request.Version(), am.frameworkName, am.frameworkVersion)
	}

	for taskRoleName, taskRole := range request.FrameworkDescriptor.TaskRoles {
		am.tStore.SetPortDefinitions(taskRoleName, taskRole.PortDefinitions)
	}
	am.tStore.UpdateTaskNumbers(request.TaskNumbers())

	counts := map[string]int{}
	for state, count := range am.tStore.GetTaskStateCounters() {
		counts[string(state)] = count
	}
	metrics.SetTaskStateCounts(am.frameworkName, counts)
	return nil
}

///////////////////////////////////////////////////////////////////////////////////////
// Notifications
///////////////////////////////////////////////////////////////////////////////////////
func (am *ApplicationMaster) OnOutstandingTaskAppeared(round int32, count int) {
	am.observer.OnOutstandingTaskAppeared(round, count)
}

func (am *ApplicationMaster) OnOutstandingTaskDisappeared(round int32) {
	am.observer.OnOutstandingTaskDisappeared(round)
}

// A failed release is only logged, since the Container will be found as
// not associated and released again by the next attempt.
func (am *ApplicationMaster) OnTaskToReleaseContainer(taskStatus *ci.TaskStatus) {
	if taskStatus.ContainerID == nil {
		return
	}
	containerID := *taskStatus.ContainerID
	logPfx := am.logPfx() + taskStatus.Locator().String() + ": "

	err := am.releaser.ReleaseContainer(am.ctx, containerID)
	if err != nil {
		log.Warnf(logPfx+"Failed to release Container %v: %v", containerID, err)
	} else {
		log.Infof(logPfx+"Released Container %v", containerID)
	}
}

func (am *ApplicationMaster) OnTaskToRemove(
	taskStatus *ci.TaskStatus, request *ci.ContainerRequest) {
	if request != nil {
		am.observer.OnContainerRequestWithdrawn(taskStatus.Locator(), request)
	}
	log.Infof(am.logPfx()+"%v: Task is removed in %v",
		taskStatus.Locator(), taskStatus.TaskState)
}

func (am *ApplicationMaster) OnExceptionOccurred(err error) {
	am.onException(err)
}
