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
	"context"
	"fmt"
	"sort"
	"sync"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

var ErrTaskNotFound = errors.New("Task is not found")

func IsTaskNotFound(err error) bool {
	return errors.Cause(err) == ErrTaskNotFound
}

// TaskStatusPersister is the durable storage of the TaskStatuses of a
// Framework, such as the store.LauncherStore.
type TaskStatusPersister interface {
	// Returns the names of the corrupted TaskRoles beside the good ones.
	GetAggregatedFrameworkStatus(ctx context.Context, frameworkName string) (
		aggStatus *ci.AggregatedFrameworkStatus, corruptedTaskRoleNames []string, err error)
	SetTaskRoleStatus(ctx context.Context, frameworkName string, status *ci.TaskRoleStatus) error
	SetTaskStatuses(ctx context.Context, frameworkName string, statuses *ci.TaskStatuses) error
	DeleteTaskRoleStatus(ctx context.Context, frameworkName string, taskRoleName string) error
}

// PushGuard tells whether the in-memory status is still allowed to be pushed.
type PushGuard func(ctx context.Context) (bool, error)

// TaskStatusStore is the single source of truth of all TaskStatuses of one
// Framework within an ApplicationMaster attempt.
//
// All TaskStatuses and the indexes on them are changed atomically under one
// lock, and the changes are pushed to the TaskStatusPersister periodically
// without holding the lock.
type TaskStatusStore struct {
	cConfig          *ci.Config
	persister        TaskStatusPersister
	frameworkName    string
	frameworkVersion int32
	ipResolver       IPResolver
	pushGuard        PushGuard

	// Serialize the pushes, so that an older snapshot never overwrites a
	// newer one.
	pushLock sync.Mutex

	// Protect all below fields.
	lock sync.Mutex

	// TaskRoleName -> PortDefinitions
	portDefinitions  map[string]map[string]ci.PortDefinition
	taskRoleStatuses map[string]*ci.TaskRoleStatus
	taskStatuseses   map[string]*ci.TaskStatuses

	// Indexes on the TaskStatuses, they are always consistent with the
	// TaskStatuses.
	taskStateLocators                 map[ci.TaskState]map[ci.TaskStatusLocator]common.Empty
	liveAssociatedContainerIDLocators map[string]ci.TaskStatusLocator
	// HostName -> live associated Container count on it
	liveAssociatedHostNames map[string]int

	// Scheduler Handles, they are never persisted.
	taskContainerRequests        map[ci.TaskStatusLocator]*ci.ContainerRequest
	priorityLocators             map[ci.Priority]ci.TaskStatusLocator
	nextContainerRequestPriority ci.Priority
	taskAllocatedContainers      map[ci.TaskStatusLocator]*ci.Container

	// The last successfully pushed status of each TaskRole.
	persistedTaskRoleStatuses map[string]*ci.AggregatedTaskRoleStatus
	taskRoleStatusDirty       map[string]bool
	taskStatusesDirty         map[string]bool
	// Increased on every change of the TaskRole, so that a push can tell
	// whether the TaskRole is changed after its snapshot is taken.
	taskRoleGenerations map[string]uint64

	outstandingTaskCallbackTriggered bool
	outstandingTaskAppeared          bool
	outstandingTaskAppearedRound     int32

	events *eventBuffer
}

func NewTaskStatusStore(
	cConfig *ci.Config, persister TaskStatusPersister,
	frameworkName string, frameworkVersion int32) *TaskStatusStore {
	return &TaskStatusStore{
		cConfig:                           cConfig,
		persister:                         persister,
		frameworkName:                     frameworkName,
		frameworkVersion:                  frameworkVersion,
		ipResolver:                        LookupIPv4,
		portDefinitions:                   map[string]map[string]ci.PortDefinition{},
		taskRoleStatuses:                  map[string]*ci.TaskRoleStatus{},
		taskStatuseses:                    map[string]*ci.TaskStatuses{},
		taskStateLocators:                 newTaskStateLocators(),
		liveAssociatedContainerIDLocators: map[string]ci.TaskStatusLocator{},
		liveAssociatedHostNames:           map[string]int{},
		taskContainerRequests:             map[ci.TaskStatusLocator]*ci.ContainerRequest{},
		priorityLocators:                  map[ci.Priority]ci.TaskStatusLocator{},
		taskAllocatedContainers:           map[ci.TaskStatusLocator]*ci.Container{},
		persistedTaskRoleStatuses:         map[string]*ci.AggregatedTaskRoleStatus{},
		taskRoleStatusDirty:               map[string]bool{},
		taskStatusesDirty:                 map[string]bool{},
		taskRoleGenerations:               map[string]uint64{},
		events:                            newEventBuffer(),
	}
}

func newTaskStateLocators() map[ci.TaskState]map[ci.TaskStatusLocator]common.Empty {
	locators := map[ci.TaskState]map[ci.TaskStatusLocator]common.Empty{}
	for _, state := range ci.TaskStates {
		locators[state] = map[ci.TaskStatusLocator]common.Empty{}
	}
	return locators
}

// SetIPResolver must be called before the store is used.
func (s *TaskStatusStore) SetIPResolver(resolver IPResolver) {
	s.ipResolver = resolver
}

// SetPushGuard must be called before the store is used.
func (s *TaskStatusStore) SetPushGuard(guard PushGuard) {
	s.pushGuard = guard
}

// Events returns the channel of all notifications of the store, in the order
// of the changes which caused them. It is closed after Stop.
func (s *TaskStatusStore) Events() <-chan Event {
	return s.events.out
}

///////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
///////////////////////////////////////////////////////////////////////////////////////

// Recover loads the previously persisted TaskStatuses of the current
// FrameworkVersion.
// A NonTransientError is returned if the Framework is deleted or its
// FrameworkVersion is changed, since the ApplicationMaster is stale.
func (s *TaskStatusStore) Recover(ctx context.Context) error {
	logPfx := fmt.Sprintf("[%v]: Recover: ", s.frameworkName)
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	aggStatus, corruptedTaskRoleNames, err :=
		s.persister.GetAggregatedFrameworkStatus(ctx, s.frameworkName)
	if store.IsNoNode(err) {
		return common.WrapNonTransientError(err,
			"FrameworkStatus %v does not exist, the ApplicationMaster is stale",
			s.frameworkName)
	} else if store.IsCorrupted(err) {
		// The FrameworkStatus will be deleted by the service, and then the
		// ApplicationMaster will be stale.
		return common.WrapNonTransientError(err,
			"FrameworkStatus %v is corrupted", s.frameworkName)
	} else if err != nil {
		return errors.Wrapf(err, "Failed to get AggregatedFrameworkStatus")
	}

	if aggStatus.FrameworkStatus.FrameworkVersion != s.frameworkVersion {
		return common.NewNonTransientError(
			"FrameworkVersion %v of FrameworkStatus %v does not match the local "+
				"FrameworkVersion %v, the ApplicationMaster is stale",
			aggStatus.FrameworkStatus.FrameworkVersion, s.frameworkName,
			s.frameworkVersion)
	}

	// Only the corrupted TaskRoles are dropped, the Tasks of them will be
	// added back by UpdateTaskNumbers.
	for _, taskRoleName := range corruptedTaskRoleNames {
		log.Warnf(logPfx+
			"TaskStatuses of TaskRole %v are corrupted, delete it and start it from scratch",
			taskRoleName)
		err = s.persister.DeleteTaskRoleStatus(ctx, s.frameworkName, taskRoleName)
		if err != nil {
			return errors.Wrapf(err,
				"Failed to delete corrupted TaskRole %v", taskRoleName)
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for taskRoleName, aggTaskRoleStatus := range aggStatus.AggregatedTaskRoleStatuses {
		s.persistedTaskRoleStatuses[taskRoleName] = aggTaskRoleStatus.DeepCopy()
		if aggTaskRoleStatus.TaskRoleStatus != nil {
			s.taskRoleStatuses[taskRoleName] = aggTaskRoleStatus.TaskRoleStatus.DeepCopy()
		} else {
			log.Warnf(logPfx+
				"TaskRoleStatus of TaskRole %v is lost, rebuild it", taskRoleName)
			s.taskRoleStatuses[taskRoleName] = &ci.TaskRoleStatus{
				TaskRoleName:          taskRoleName,
				TaskRoleRolloutStatus: &ci.TaskRoleRolloutStatus{},
				FrameworkVersion:      s.frameworkVersion,
			}
			s.markTaskRoleStatusDirtyLocked(taskRoleName)
		}
		taskStatuses := aggTaskRoleStatus.TaskStatuses.DeepCopy()
		s.taskStatuseses[taskRoleName] = taskStatuses

		for _, taskStatus := range taskStatuses.TaskStatusArray {
			if ci.TaskStateCorruptedAfterRestartStates.Contains(taskStatus.TaskState) {
				log.Infof(logPfx+"%v: Revise TaskState from %v to %v",
					taskStatus.Locator(), taskStatus.TaskState, ci.TaskWaiting)
				disassociateContainer(taskStatus)
				taskStatus.TaskState = ci.TaskWaiting
				s.markTaskStatusesDirtyLocked(taskRoleName)
			}

			s.taskStateLocators[taskStatus.TaskState][taskStatus.Locator()] = common.Empty{}
			if ci.ContainerLiveAssociatedStates.Contains(taskStatus.TaskState) {
				s.addLiveAssociatedLocked(taskStatus)
			}
		}
		log.Infof(logPfx+"Recovered TaskRole %v with %v Tasks",
			taskRoleName, len(taskStatuses.TaskStatusArray))
	}
	return nil
}

// Run pushes the changed status periodically until stopCh is closed.
// A push failure is retried in the next period, unless it is non-transient.
func (s *TaskStatusStore) Run(stopCh <-chan struct{}) {
	logPfx := fmt.Sprintf("[%v]: Run: ", s.frameworkName)
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Stopped") }()

	wait.Until(func() {
		err := s.PushStatus(context.Background())
		if err == nil {
			return
		}
		if common.IsNonTransient(err) {
			s.events.add(ExceptionOccurred{Err: err})
		} else {
			log.Warnf(logPfx+"Failed to push status, will retry later: %v", err)
		}
	}, common.SecToDuration(s.cConfig.AMStatusPushIntervalSec), stopCh)
}

// Stop pushes the final status, and if it failed, notifies to release all
// live Containers which are not persisted as live, since they would be leaked
// after the next ApplicationMaster attempt recovered from the persisted
// status.
// The Events channel is closed after all pending Events are delivered.
func (s *TaskStatusStore) Stop(ctx context.Context) error {
	logPfx := fmt.Sprintf("[%v]: Stop: ", s.frameworkName)
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	err := s.PushStatus(ctx)
	if err != nil {
		log.Errorf(logPfx+"Failed to push the final status, rollback: %v", err)
		s.lock.Lock()
		s.rollbackLocked()
		s.lock.Unlock()
	}
	s.events.close()
	return err
}

func (s *TaskStatusStore) rollbackLocked() {
	for _, taskRoleName := range s.taskRoleNamesLocked() {
		persisted := s.persistedTaskRoleStatuses[taskRoleName]
		for _, taskStatus := range s.taskStatuseses[taskRoleName].TaskStatusArray {
			if !ci.ContainerLiveAssociatedStates.Contains(taskStatus.TaskState) {
				continue
			}
			if persisted != nil && persisted.TaskStatuses != nil &&
				int(taskStatus.TaskIndex) < len(persisted.TaskStatuses.TaskStatusArray) {
				persistedTaskStatus := persisted.TaskStatuses.TaskStatusArray[taskStatus.TaskIndex]
				if ci.ContainerLiveAssociatedStates.Contains(persistedTaskStatus.TaskState) &&
					persistedTaskStatus.ContainerID != nil &&
					*persistedTaskStatus.ContainerID == *taskStatus.ContainerID {
					continue
				}
			}
			log.Warnf("[%v]: %v: Release Container %v which is not persisted as live",
				s.frameworkName, taskStatus.Locator(), *taskStatus.ContainerID)
			s.events.add(TaskToReleaseContainer{TaskStatus: taskStatus.DeepCopy()})
		}
	}
}

///////////////////////////////////////////////////////////////////////////////////////
// Push
///////////////////////////////////////////////////////////////////////////////////////
type taskRoleSnapshot struct {
	taskRoleName   string
	generation     uint64
	taskRoleStatus *ci.TaskRoleStatus
	taskStatuses   *ci.TaskStatuses
}

// PushStatus writes all changed TaskRoles to the TaskStatusPersister.
// A NonTransientError is returned if the PushGuard rejects the push.
func (s *TaskStatusStore) PushStatus(ctx context.Context) error {
	s.pushLock.Lock()
	defer s.pushLock.Unlock()

	if s.pushGuard != nil {
		allowed, err := s.pushGuard(ctx)
		if err != nil {
			return errors.Wrapf(err, "Failed to check whether the push is allowed")
		}
		if !allowed {
			return common.NewNonTransientError(
				"Local version FrameworkRequest %v does not exist, skip to push its status",
				s.frameworkName)
		}
	}

	for _, snapshot := range s.snapshotDirty() {
		if snapshot.taskStatuses != nil {
			err := s.persister.SetTaskStatuses(ctx, s.frameworkName, snapshot.taskStatuses)
			if err != nil {
				return errors.Wrapf(err,
					"Failed to push TaskStatuses of TaskRole %v", snapshot.taskRoleName)
			}
		}
		if snapshot.taskRoleStatus != nil {
			err := s.persister.SetTaskRoleStatus(ctx, s.frameworkName, snapshot.taskRoleStatus)
			if err != nil {
				return errors.Wrapf(err,
					"Failed to push TaskRoleStatus of TaskRole %v", snapshot.taskRoleName)
			}
		}
		s.onPushed(snapshot)
	}
	return nil
}

func (s *TaskStatusStore) snapshotDirty() []*taskRoleSnapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	snapshots := []*taskRoleSnapshot{}
	for _, taskRoleName := range s.taskRoleNamesLocked() {
		if !s.taskRoleStatusDirty[taskRoleName] && !s.taskStatusesDirty[taskRoleName] {
			continue
		}
		snapshot := &taskRoleSnapshot{
			taskRoleName: taskRoleName,
			generation:   s.taskRoleGenerations[taskRoleName],
		}
		if s.taskRoleStatusDirty[taskRoleName] {
			snapshot.taskRoleStatus = s.taskRoleStatuses[taskRoleName].DeepCopy()
		}
		if s.taskStatusesDirty[taskRoleName] {
			snapshot.taskStatuses = s.taskStatuseses[taskRoleName].DeepCopy()
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func (s *TaskStatusStore) onPushed(snapshot *taskRoleSnapshot) {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskRoleName := snapshot.taskRoleName
	// Otherwise, it is changed during the push and still needs the next push.
	if s.taskRoleGenerations[taskRoleName] == snapshot.generation {
		s.taskRoleStatusDirty[taskRoleName] = false
		s.taskStatusesDirty[taskRoleName] = false
	}

	persisted, ok := s.persistedTaskRoleStatuses[taskRoleName]
	if !ok {
		persisted = &ci.AggregatedTaskRoleStatus{}
		s.persistedTaskRoleStatuses[taskRoleName] = persisted
	}
	if snapshot.taskRoleStatus != nil {
		persisted.TaskRoleStatus = snapshot.taskRoleStatus
	}
	if snapshot.taskStatuses != nil {
		persisted.TaskStatuses = snapshot.taskStatuses
	}
}

func (s *TaskStatusStore) markTaskRoleStatusDirtyLocked(taskRoleName string) {
	s.taskRoleStatusDirty[taskRoleName] = true
	s.taskRoleGenerations[taskRoleName]++
}

func (s *TaskStatusStore) markTaskStatusesDirtyLocked(taskRoleName string) {
	s.taskStatusesDirty[taskRoleName] = true
	s.taskRoleGenerations[taskRoleName]++
}

///////////////////////////////////////////////////////////////////////////////////////
// Writes
///////////////////////////////////////////////////////////////////////////////////////

// SetPortDefinitions takes effect on the later Container associations of the
// TaskRole.
func (s *TaskStatusStore) SetPortDefinitions(
	taskRoleName string, portDefinitions map[string]ci.PortDefinition) {
	s.lock.Lock()
	defer s.lock.Unlock()

	defs := map[string]ci.PortDefinition{}
	for label, def := range portDefinitions {
		defs[label] = def
	}
	s.portDefinitions[taskRoleName] = defs
}

// UpdateTaskNumbers makes each given TaskRole have exactly the given number
// of Tasks:
// New Tasks are appended to the tail in TaskWaiting, and extra Tasks are
// removed from the tail with TaskToReleaseContainer for its allocated or live
// Container and then TaskToRemove notified.
// So the TaskIndex of a surviving Task never changes.
// TaskRoles which are not given are not changed.
func (s *TaskStatusStore) UpdateTaskNumbers(taskNumbers map[string]int32) {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskRoleNames := []string{}
	for taskRoleName := range taskNumbers {
		taskRoleNames = append(taskRoleNames, taskRoleName)
	}
	sort.Strings(taskRoleNames)

	for _, taskRoleName := range taskRoleNames {
		logPfx := fmt.Sprintf("[%v][%v]: UpdateTaskNumbers: ", s.frameworkName, taskRoleName)
		taskNumber := taskNumbers[taskRoleName]
		if taskNumber < 0 {
			taskNumber = 0
		}

		taskStatuses, ok := s.taskStatuseses[taskRoleName]
		if !ok {
			s.taskRoleStatuses[taskRoleName] = &ci.TaskRoleStatus{
				TaskRoleName:          taskRoleName,
				TaskRoleRolloutStatus: &ci.TaskRoleRolloutStatus{},
				FrameworkVersion:      s.frameworkVersion,
			}
			taskStatuses = &ci.TaskStatuses{
				TaskRoleName:     taskRoleName,
				TaskStatusArray:  []*ci.TaskStatus{},
				FrameworkVersion: s.frameworkVersion,
			}
			s.taskStatuseses[taskRoleName] = taskStatuses
			s.markTaskRoleStatusDirtyLocked(taskRoleName)
			s.markTaskStatusesDirtyLocked(taskRoleName)
			log.Infof(logPfx + "Added TaskRole")
		}

		curTaskNumber := int32(len(taskStatuses.TaskStatusArray))
		if curTaskNumber == taskNumber {
			continue
		}

		for taskIndex := curTaskNumber; taskIndex < taskNumber; taskIndex++ {
			taskStatus := &ci.TaskStatus{
				TaskIndex:            taskIndex,
				TaskRoleName:         taskRoleName,
				TaskState:            ci.TaskWaiting,
				TaskRetryPolicyState: ci.RetryPolicyState{},
				TaskCreatedTimestamp: common.PtrNow(),
				TaskServiceStatus:    &ci.TaskServiceStatus{ServiceVersion: 0},
			}
			taskStatuses.TaskStatusArray = append(taskStatuses.TaskStatusArray, taskStatus)
			s.taskStateLocators[ci.TaskWaiting][taskStatus.Locator()] = common.Empty{}
		}

		for taskIndex := curTaskNumber - 1; taskIndex >= taskNumber; taskIndex-- {
			s.removeTaskLocked(taskStatuses.TaskStatusArray[taskIndex])
			taskStatuses.TaskStatusArray[taskIndex] = nil
			taskStatuses.TaskStatusArray = taskStatuses.TaskStatusArray[:taskIndex]
		}

		s.markTaskStatusesDirtyLocked(taskRoleName)
		log.Infof(logPfx+"Updated TaskNumber from %v to %v", curTaskNumber, taskNumber)
	}

	s.syncOutstandingTaskLocked()
}

func (s *TaskStatusStore) removeTaskLocked(taskStatus *ci.TaskStatus) {
	locator := taskStatus.Locator()
	state := taskStatus.TaskState

	var request *ci.ContainerRequest
	if state == ci.ContainerRequested {
		request = s.taskContainerRequests[locator]
		s.removeContainerRequestLocked(locator)
	}
	if state == ci.ContainerAllocated {
		delete(s.taskAllocatedContainers, locator)
	}
	if ci.ContainerLiveAssociatedStates.Contains(state) {
		s.removeLiveAssociatedLocked(taskStatus)
	}
	delete(s.taskStateLocators[state], locator)

	if state == ci.ContainerAllocated || ci.ContainerLiveAssociatedStates.Contains(state) {
		s.events.add(TaskToReleaseContainer{TaskStatus: taskStatus.DeepCopy()})
	}
	s.events.add(TaskToRemove{TaskStatus: taskStatus.DeepCopy(), ContainerRequest: request})
	log.Infof("[%v]: %v: Removed Task in %v", s.frameworkName, locator, state)
}

// TransitionTaskState transitions the Task to dstState atomically together
// with all indexes.
//
// The event must match the transition:
//   -> ContainerRequested: EnterContainerRequested
//   -> ContainerAllocated: EnterContainerAssociated
//   -> ContainerCompleted: EnterContainerCompleted
//   ContainerCompleted -> TaskWaiting: EnterTaskWaitingForRetry
//   non-associated -> associated: EnterContainerAssociated or EnterContainerCompleted
//   otherwise: nil
// A mismatched event or a transition from a FinalState panics.
//
// If the Container cannot be associated, the Task stays unchanged and the
// error is returned.
func (s *TaskStatusStore) TransitionTaskState(
	locator ci.TaskStatusLocator, dstState ci.TaskState, event TaskEvent) error {
	logPfx := fmt.Sprintf("[%v]: %v: TransitionTaskState: ", s.frameworkName, locator)

	var container *ci.Container
	switch e := event.(type) {
	case EnterContainerAssociated:
		container = e.Container
	case EnterContainerCompleted:
		container = e.Container
	}
	// Resolve outside the lock since it may need network.
	var ip string
	var ipErr error
	if container != nil {
		ip, ipErr = s.ipResolver(container.Host)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.getTaskStatusLocked(locator)
	if err != nil {
		return err
	}
	srcState := taskStatus.TaskState
	if srcState == dstState {
		return nil
	}
	if ci.TaskFinalStates.Contains(srcState) {
		panic(fmt.Errorf(logPfx+
			"Failed to transition from FinalState %v to %v", srcState, dstState))
	}
	validateTaskEvent(logPfx, srcState, dstState, event)

	srcAssociated := ci.ContainerAssociatedStates.Contains(srcState)
	dstAssociated := ci.ContainerAssociatedStates.Contains(dstState)
	srcLive := ci.ContainerLiveAssociatedStates.Contains(srcState)
	dstLive := ci.ContainerLiveAssociatedStates.Contains(dstState)

	// All fallible work is done before any change.
	var association *containerAssociation
	if dstAssociated && !srcAssociated {
		if ipErr != nil {
			err = errors.Wrapf(ipErr, "Failed to resolve the IP of host %v", container.Host)
		} else {
			association, err = buildContainerAssociation(
				container, ip, *s.cConfig.AMUser, s.portDefinitions[locator.TaskRoleName])
		}
		if err != nil {
			disassociateContainer(taskStatus)
			log.Warnf(logPfx+"Failed to associate with Container %v: %v", container.ID, err)
			return err
		}
	}

	// Update ContainerRequest
	if srcState == ci.ContainerRequested {
		s.removeContainerRequestLocked(locator)
	}
	if dstState == ci.ContainerRequested {
		request := event.(EnterContainerRequested).Request.DeepCopy()
		request.Priority = s.nextContainerRequestPriority
		s.nextContainerRequestPriority++
		s.taskContainerRequests[locator] = request
		s.priorityLocators[request.Priority] = locator
	}

	// Update allocated Container
	if srcState == ci.ContainerAllocated {
		delete(s.taskAllocatedContainers, locator)
	}
	if dstState == ci.ContainerAllocated {
		s.taskAllocatedContainers[locator] = container.DeepCopy()
	}

	// Update Container association
	if srcLive && !dstLive {
		s.removeLiveAssociatedLocked(taskStatus)
	}
	if association != nil {
		association.applyTo(taskStatus)
	}
	if srcAssociated && !dstAssociated {
		disassociateContainer(taskStatus)
	}
	if !srcLive && dstLive {
		s.addLiveAssociatedLocked(taskStatus)
	}

	switch dstState {
	case ci.ContainerLaunched:
		taskStatus.ContainerLaunchedTimestamp = common.PtrNow()
	case ci.ContainerCompleted:
		e := event.(EnterContainerCompleted)
		exitInfo := ci.LookupContainerExit(e.RawExitStatus, e.RawDiagnostics)
		exitType := exitInfo.Type
		taskStatus.ContainerCompletedTimestamp = common.PtrNow()
		taskStatus.ContainerExitCode = exitInfo.Code.Ptr()
		taskStatus.ContainerExitDescription = common.PtrString(exitInfo.Description)
		taskStatus.ContainerExitDiagnostics = common.PtrString(e.RawDiagnostics)
		taskStatus.ContainerExitType = &exitType
	case ci.TaskCompleted:
		taskStatus.TaskCompletedTimestamp = common.PtrNow()
	case ci.TaskWaiting:
		if e, ok := event.(EnterTaskWaitingForRetry); ok {
			taskStatus.TaskRetryPolicyState = e.RetryPolicyState
		}
	}

	// Update TaskState
	delete(s.taskStateLocators[srcState], locator)
	s.taskStateLocators[dstState][locator] = common.Empty{}
	taskStatus.TaskState = dstState
	s.markTaskStatusesDirtyLocked(locator.TaskRoleName)
	log.Infof(logPfx+"Transitioned Task from [%v] to [%v]", srcState, dstState)

	if ci.TaskOutstandingStates.Contains(srcState) !=
		ci.TaskOutstandingStates.Contains(dstState) {
		s.syncOutstandingTaskLocked()
	}
	return nil
}

func validateTaskEvent(
	logPfx string, srcState ci.TaskState, dstState ci.TaskState, event TaskEvent) {
	srcAssociated := ci.ContainerAssociatedStates.Contains(srcState)
	dstAssociated := ci.ContainerAssociatedStates.Contains(dstState)

	legal := false
	switch e := event.(type) {
	case nil:
		legal = dstState != ci.ContainerRequested &&
			dstState != ci.ContainerAllocated &&
			dstState != ci.ContainerCompleted &&
			!(srcState == ci.ContainerCompleted && dstState == ci.TaskWaiting) &&
			!(dstAssociated && !srcAssociated)
	case EnterContainerRequested:
		legal = dstState == ci.ContainerRequested && e.Request != nil
	case EnterContainerAssociated:
		legal = e.Container != nil && dstAssociated && !srcAssociated &&
			dstState != ci.ContainerCompleted && dstState != ci.TaskCompleted
	case EnterContainerCompleted:
		legal = dstState == ci.ContainerCompleted &&
			(srcAssociated || e.Container != nil)
	case EnterTaskWaitingForRetry:
		legal = srcState == ci.ContainerCompleted && dstState == ci.TaskWaiting
	}

	if !legal {
		panic(fmt.Errorf(logPfx+
			"Event %T is illegal for the transition from %v to %v",
			event, srcState, dstState))
	}
}

func (s *TaskStatusStore) removeContainerRequestLocked(locator ci.TaskStatusLocator) {
	if request, ok := s.taskContainerRequests[locator]; ok {
		delete(s.priorityLocators, request.Priority)
		delete(s.taskContainerRequests, locator)
	}
}

func (s *TaskStatusStore) addLiveAssociatedLocked(taskStatus *ci.TaskStatus) {
	s.liveAssociatedContainerIDLocators[*taskStatus.ContainerID] = taskStatus.Locator()
	s.liveAssociatedHostNames[*taskStatus.ContainerHost]++
}

func (s *TaskStatusStore) removeLiveAssociatedLocked(taskStatus *ci.TaskStatus) {
	delete(s.liveAssociatedContainerIDLocators, *taskStatus.ContainerID)
	host := *taskStatus.ContainerHost
	s.liveAssociatedHostNames[host]--
	if s.liveAssociatedHostNames[host] <= 0 {
		delete(s.liveAssociatedHostNames, host)
	}
}

// syncOutstandingTaskLocked notifies the edge which matches the current
// outstanding Task count, if it is not notified yet.
// So the first call always notifies, and then appeared and disappeared are
// notified alternately.
func (s *TaskStatusStore) syncOutstandingTaskLocked() {
	count := s.outstandingTaskCountLocked()
	if count > 0 {
		if s.outstandingTaskCallbackTriggered && s.outstandingTaskAppeared {
			return
		}
		s.outstandingTaskCallbackTriggered = true
		s.outstandingTaskAppeared = true
		s.outstandingTaskAppearedRound++
		log.Infof("[%v]: OutstandingTask appeared: Round %v, Count %v",
			s.frameworkName, s.outstandingTaskAppearedRound, count)
		s.events.add(OutstandingTaskAppeared{
			Round: s.outstandingTaskAppearedRound, Count: count})
	} else {
		if s.outstandingTaskCallbackTriggered && !s.outstandingTaskAppeared {
			return
		}
		s.outstandingTaskCallbackTriggered = true
		s.outstandingTaskAppeared = false
		log.Infof("[%v]: OutstandingTask disappeared: Round %v",
			s.frameworkName, s.outstandingTaskAppearedRound)
		s.events.add(OutstandingTaskDisappeared{Round: s.outstandingTaskAppearedRound})
	}
}

func (s *TaskStatusStore) outstandingTaskCountLocked() int {
	count := 0
	for _, state := range ci.TaskOutstandingStates.Items() {
		count += len(s.taskStateLocators[state.(ci.TaskState)])
	}
	return count
}

func (s *TaskStatusStore) liveTaskStatusWithContainerIDLocked(
	containerID string) (*ci.TaskStatus, error) {
	locator, ok := s.liveAssociatedContainerIDLocators[containerID]
	if !ok {
		return nil, errors.Wrapf(ErrTaskNotFound,
			"No live Task is associated with Container %v", containerID)
	}
	return s.getTaskStatusLocked(locator)
}

func (s *TaskStatusStore) IncreaseContainerConnectionLostCount(containerID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.liveTaskStatusWithContainerIDLocked(containerID)
	if err != nil {
		return err
	}
	taskStatus.ContainerConnectionLostCount++
	s.markTaskStatusesDirtyLocked(taskStatus.TaskRoleName)
	return nil
}

func (s *TaskStatusStore) ResetContainerConnectionLostCount(containerID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.liveTaskStatusWithContainerIDLocked(containerID)
	if err != nil {
		return err
	}
	if taskStatus.ContainerConnectionLostCount != 0 {
		taskStatus.ContainerConnectionLostCount = 0
		s.markTaskStatusesDirtyLocked(taskStatus.TaskRoleName)
	}
	return nil
}

func (s *TaskStatusStore) UpdateContainerIsDecommissioning(
	containerID string, isDecommissioning bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.liveTaskStatusWithContainerIDLocked(containerID)
	if err != nil {
		return err
	}
	if taskStatus.ContainerIsDecommissioning == nil ||
		*taskStatus.ContainerIsDecommissioning != isDecommissioning {
		taskStatus.ContainerIsDecommissioning = common.PtrBool(isDecommissioning)
		s.markTaskStatusesDirtyLocked(taskStatus.TaskRoleName)
	}
	return nil
}
