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
	"sort"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// All queries return deep copies, so they never observe a partial change.

func (s *TaskStatusStore) getTaskStatusLocked(
	locator ci.TaskStatusLocator) (*ci.TaskStatus, error) {
	taskStatuses, ok := s.taskStatuseses[locator.TaskRoleName]
	if !ok || locator.TaskIndex < 0 ||
		int(locator.TaskIndex) >= len(taskStatuses.TaskStatusArray) {
		return nil, errors.Wrapf(ErrTaskNotFound, "Task %v", locator)
	}
	return taskStatuses.TaskStatusArray[locator.TaskIndex], nil
}

func (s *TaskStatusStore) taskRoleNamesLocked() []string {
	taskRoleNames := []string{}
	for taskRoleName := range s.taskStatuseses {
		taskRoleNames = append(taskRoleNames, taskRoleName)
	}
	sort.Strings(taskRoleNames)
	return taskRoleNames
}

func sortTaskStatuses(taskStatuses []*ci.TaskStatus) []*ci.TaskStatus {
	sort.Slice(taskStatuses, func(i, j int) bool {
		if taskStatuses[i].TaskRoleName != taskStatuses[j].TaskRoleName {
			return taskStatuses[i].TaskRoleName < taskStatuses[j].TaskRoleName
		}
		return taskStatuses[i].TaskIndex < taskStatuses[j].TaskIndex
	})
	return taskStatuses
}

func (s *TaskStatusStore) GetTaskRoleNames() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.taskRoleNamesLocked()
}

func (s *TaskStatusStore) ContainsTask(locator ci.TaskStatusLocator) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.getTaskStatusLocked(locator)
	return err == nil
}

// GetTaskStatus returns an error satisfying IsTaskNotFound if the Task does
// not exist.
func (s *TaskStatusStore) GetTaskStatus(
	locator ci.TaskStatusLocator) (*ci.TaskStatus, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.getTaskStatusLocked(locator)
	if err != nil {
		return nil, err
	}
	return taskStatus.DeepCopy(), nil
}

// GetTaskStatuses returns the Tasks whose TaskState is in the given states if
// contains is true, otherwise the Tasks whose TaskState is not.
// The result is ordered by TaskRoleName and then TaskIndex.
func (s *TaskStatusStore) GetTaskStatuses(
	states []ci.TaskState, contains bool) []*ci.TaskStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	given := map[ci.TaskState]bool{}
	for _, state := range states {
		given[state] = true
	}

	result := []*ci.TaskStatus{}
	for state, locators := range s.taskStateLocators {
		if given[state] != contains {
			continue
		}
		for locator := range locators {
			taskStatus, _ := s.getTaskStatusLocked(locator)
			result = append(result, taskStatus.DeepCopy())
		}
	}
	return sortTaskStatuses(result)
}

// GetAllTaskStatuses returns all Tasks of the given TaskRole, or of all
// TaskRoles if taskRoleName is empty.
func (s *TaskStatusStore) GetAllTaskStatuses(taskRoleName string) []*ci.TaskStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	result := []*ci.TaskStatus{}
	for name, taskStatuses := range s.taskStatuseses {
		if taskRoleName != "" && name != taskRoleName {
			continue
		}
		for _, taskStatus := range taskStatuses.TaskStatusArray {
			result = append(result, taskStatus.DeepCopy())
		}
	}
	return sortTaskStatuses(result)
}

func (s *TaskStatusStore) GetTaskStatusWithPriority(priority ci.Priority) *ci.TaskStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	locator, ok := s.priorityLocators[priority]
	if !ok {
		return nil
	}
	taskStatus, _ := s.getTaskStatusLocked(locator)
	return taskStatus.DeepCopy()
}

func (s *TaskStatusStore) GetTaskStatusWithLiveContainerID(containerID string) *ci.TaskStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskStatus, err := s.liveTaskStatusWithContainerIDLocked(containerID)
	if err != nil {
		return nil
	}
	return taskStatus.DeepCopy()
}

// GetContainerRequest returns nil if the Task is not in ContainerRequested.
func (s *TaskStatusStore) GetContainerRequest(locator ci.TaskStatusLocator) *ci.ContainerRequest {
	s.lock.Lock()
	defer s.lock.Unlock()

	if request, ok := s.taskContainerRequests[locator]; ok {
		return request.DeepCopy()
	}
	return nil
}

// GetAllocatedContainer returns nil if the Task is not in ContainerAllocated.
func (s *TaskStatusStore) GetAllocatedContainer(locator ci.TaskStatusLocator) *ci.Container {
	s.lock.Lock()
	defer s.lock.Unlock()

	if container, ok := s.taskAllocatedContainers[locator]; ok {
		return container.DeepCopy()
	}
	return nil
}

// NextContainerRequestPriority is the Priority which will be assigned to the
// next ContainerRequest.
func (s *TaskStatusStore) NextContainerRequestPriority() ci.Priority {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.nextContainerRequestPriority
}

func (s *TaskStatusStore) GetFailedTaskStatuses() []*ci.TaskStatus {
	return s.getCompletedTaskStatuses(false)
}

func (s *TaskStatusStore) GetSucceededTaskStatuses() []*ci.TaskStatus {
	return s.getCompletedTaskStatuses(true)
}

func (s *TaskStatusStore) getCompletedTaskStatuses(succeeded bool) []*ci.TaskStatus {
	result := []*ci.TaskStatus{}
	for _, taskStatus := range s.GetTaskStatuses([]ci.TaskState{ci.TaskCompleted}, true) {
		if taskStatus.IsSucceeded() == succeeded {
			result = append(result, taskStatus)
		}
	}
	return result
}

func (s *TaskStatusStore) GetLiveAssociatedHostNames() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	hostNames := sets.NewString()
	for hostName := range s.liveAssociatedHostNames {
		hostNames.Insert(hostName)
	}
	return hostNames.List()
}

func (s *TaskStatusStore) GetLiveAssociatedContainerIDs() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	containerIDs := sets.NewString()
	for containerID := range s.liveAssociatedContainerIDLocators {
		containerIDs.Insert(containerID)
	}
	return containerIDs.List()
}

func (s *TaskStatusStore) IsContainerLiveAssociated(containerID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.liveAssociatedContainerIDLocators[containerID]
	return ok
}

// GetTaskCount returns 0 if the TaskRole does not exist.
func (s *TaskStatusStore) GetTaskCount(taskRoleName string) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	if taskStatuses, ok := s.taskStatuseses[taskRoleName]; ok {
		return len(taskStatuses.TaskStatusArray)
	}
	return 0
}

func (s *TaskStatusStore) GetTotalTaskCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.totalTaskCountLocked()
}

func (s *TaskStatusStore) totalTaskCountLocked() int {
	count := 0
	for _, taskStatuses := range s.taskStatuseses {
		count += len(taskStatuses.TaskStatusArray)
	}
	return count
}

func (s *TaskStatusStore) GetOutstandingTaskCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.outstandingTaskCountLocked()
}

// GetTaskStateCounters returns the Task count of every TaskState.
func (s *TaskStatusStore) GetTaskStateCounters() map[ci.TaskState]int {
	s.lock.Lock()
	defer s.lock.Unlock()

	counters := map[ci.TaskState]int{}
	for _, state := range ci.TaskStates {
		counters[state] = len(s.taskStateLocators[state])
	}
	return counters
}

// GetApplicationProgress returns the completed fraction of all Tasks, or nil
// if there is no Task at all.
func (s *TaskStatusStore) GetApplicationProgress() *float64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	total := s.totalTaskCountLocked()
	if total == 0 {
		return nil
	}
	return common.PtrFloat64(
		float64(len(s.taskStateLocators[ci.TaskCompleted])) / float64(total))
}

// GetTaskRoleStatus returns nil if the TaskRole does not exist.
func (s *TaskStatusStore) GetTaskRoleStatus(taskRoleName string) *ci.TaskRoleStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	if taskRoleStatus, ok := s.taskRoleStatuses[taskRoleName]; ok {
		return taskRoleStatus.DeepCopy()
	}
	return nil
}
