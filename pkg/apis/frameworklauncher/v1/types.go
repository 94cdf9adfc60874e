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

package v1

import (
	"fmt"

	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

//////////////////////////////////////////////////////////////////////////////////////////////////
// A Framework represents a distributed job with a set of Tasks:
// 1. Hosted by one scheduler Application per attempt, whose ApplicationMaster
//    requests and launches the Task Containers
// 2. Partitioned to different heterogeneous TaskRoles which share the same lifecycle
// 3. Ordered in the same homogeneous TaskRole by TaskIndex
// 4. With fine grained RetryPolicy for the whole Framework and each Task
// 5. Guarantees at most one live Application of a specific Framework at any point in time
//
// Notes:
// 1. The FrameworkRequest is only written by the launch client, and the
//    FrameworkStatus and the TaskStatuses are only written by the launcher.
// 2. The TaskIndex is stable: Tasks are only appended to or removed from the tail
//    of its TaskRole.
//////////////////////////////////////////////////////////////////////////////////////////////////

//////////////////////////////////////////////////////////////////////////////////////////////////
// Request
//////////////////////////////////////////////////////////////////////////////////////////////////
type FrameworkRequest struct {
	FrameworkName         string               `json:"frameworkName"`
	FrameworkDescriptor   *FrameworkDescriptor `json:"frameworkDescriptor"`
	LaunchClientType      string               `json:"launchClientType"`
	LaunchClientHostName  string               `json:"launchClientHostName"`
	LaunchClientUserName  string               `json:"launchClientUserName"`
	FirstRequestTimestamp *meta.Time           `json:"firstRequestTimestamp"`
	LastRequestTimestamp  *meta.Time           `json:"lastRequestTimestamp"`
}

type FrameworkDescriptor struct {
	Description string `json:"description"`
	// Changing the Version of an existing Framework removes the old Framework
	// and then starts the new one from scratch.
	Version int32 `json:"version"`
	// Only support to update from ExecutionStart to ExecutionStop
	ExecutionType              ExecutionType                  `json:"executionType"`
	RetryPolicy                RetryPolicyDescriptor          `json:"retryPolicy"`
	User                       string                         `json:"user"`
	TaskRoles                  map[string]*TaskRoleDescriptor `json:"taskRoles"`
	PlatformSpecificParameters PlatformSpecificParameters     `json:"platformSpecificParameters"`
}

type TaskRoleDescriptor struct {
	// Tasks with TaskIndex in range [0, TaskNumber)
	TaskNumber int32              `json:"taskNumber"`
	Resource   ResourceDescriptor `json:"resource"`
	// Label -> Ports to be picked from the allocated Container's PortRanges.
	PortDefinitions map[string]PortDefinition `json:"portDefinitions"`
}

type PortDefinition struct {
	// 0 means any port within the allocated PortRanges.
	Start int32 `json:"start"`
	Count int32 `json:"count"`
}

type PlatformSpecificParameters struct {
	Queue      string             `json:"queue"`
	AmResource ResourceDescriptor `json:"amResource"`
	AmPriority int32              `json:"amPriority"`
	AmNodeName string             `json:"amNodeName"`
}

type ExecutionType string

const (
	ExecutionStart ExecutionType = "START"
	ExecutionStop  ExecutionType = "STOP"
)

// RetryPolicyDescriptor is configured for the whole Framework to control the
// conditions to retry the Framework after its current Application completed.
//
// Usage:
// If the FancyRetryPolicy is enabled,
//   will retry immediately if the completion is due to TRANSIENT_NORMAL ExitType,
//   will retry after a random backoff if the completion is due to
//     TRANSIENT_CONFLICT ExitType,
//   will not retry if the completion is due to NON_TRANSIENT ExitType,
//   will apply the NormalRetryPolicy defined below if all above conditions are
//   not satisfied.
//
// If the FancyRetryPolicy is not enabled,
//   will directly apply the NormalRetryPolicy for all kinds of completions.
//
// The NormalRetryPolicy is defined as,
//   will retry and RetriedCount++ if MaxRetryCount == -2,
//   will retry and RetriedCount++ if the completion is due to any
//     failure and MaxRetryCount == -1,
//   will retry and RetriedCount++ if the completion is due to any
//     failure and RetriedCount < MaxRetryCount,
//   will not retry if all above conditions are not satisfied.
type RetryPolicyDescriptor struct {
	FancyRetryPolicy bool  `json:"fancyRetryPolicy"`
	MaxRetryCount    int32 `json:"maxRetryCount"`
}

type ResourceDescriptor struct {
	CpuNumber    int32        `json:"cpuNumber"`
	MemoryMB     int32        `json:"memoryMB"`
	GpuNumber    int32        `json:"gpuNumber"`
	GpuAttribute uint64       `json:"gpuAttribute"`
	PortRanges   []ValueRange `json:"portRanges"`
}

// Represent [Begin, End].
type ValueRange struct {
	Begin int32 `json:"begin"`
	End   int32 `json:"end"`
}

//////////////////////////////////////////////////////////////////////////////////////////////////
// Scheduler Handles
// They are only valid within one scheduler attempt, so they are never persisted.
//////////////////////////////////////////////////////////////////////////////////////////////////
type Container struct {
	ID              string             `json:"id"`
	Host            string             `json:"host"`
	NodeHTTPAddress string             `json:"nodeHTTPAddress"`
	Resource        ResourceDescriptor `json:"resource"`
}

// Priority identifies a ContainerRequest within one ApplicationMaster attempt.
// It is monotonically increasing and restarts from 0 in every attempt.
type Priority int32

type ContainerRequest struct {
	Priority  Priority           `json:"priority"`
	Resource  ResourceDescriptor `json:"resource"`
	NodeLabel string             `json:"nodeLabel"`
	HostNames []string           `json:"hostNames"`
}

//////////////////////////////////////////////////////////////////////////////////////////////////
// Status
//////////////////////////////////////////////////////////////////////////////////////////////////
type TaskStatusLocator struct {
	TaskRoleName string
	TaskIndex    int32
}

func (l TaskStatusLocator) String() string {
	return fmt.Sprintf("[%v][%v]", l.TaskRoleName, l.TaskIndex)
}

type RetryPolicyState struct {
	// Used to compare against MaxRetryCount.
	// It only counts the retries decided by the NormalRetryPolicy.
	RetriedCount int32 `json:"retriedCount"`

	// Counters for the completions decided with a specific ExitType.
	// All counters are monotonically increasing during the whole lifetime of
	// the Framework or the Task, and exactly one of them is increased for each
	// completion.
	TransientNormalRetriedCount   int32 `json:"transientNormalRetriedCount"`
	TransientConflictRetriedCount int32 `json:"transientConflictRetriedCount"`
	NonTransientRetriedCount      int32 `json:"nonTransientRetriedCount"`
	SucceededRetriedCount         int32 `json:"succeededRetriedCount"`
	UnknownRetriedCount           int32 `json:"unknownRetriedCount"`
}

type TaskServiceStatus struct {
	ServiceVersion int32 `json:"serviceVersion"`
}

type TaskStatus struct {
	TaskIndex              int32              `json:"taskIndex"`
	TaskRoleName           string             `json:"taskRoleName"`
	TaskState              TaskState          `json:"taskState"`
	TaskRetryPolicyState   RetryPolicyState   `json:"taskRetryPolicyState"`
	TaskCreatedTimestamp   *meta.Time         `json:"taskCreatedTimestamp"`
	TaskCompletedTimestamp *meta.Time         `json:"taskCompletedTimestamp"`
	TaskServiceStatus      *TaskServiceStatus `json:"taskServiceStatus"`

	// Only available in ContainerAssociatedStates, otherwise all of them are unset.
	ContainerID                  *string    `json:"containerId"`
	ContainerHost                *string    `json:"containerHost"`
	ContainerIP                  *string    `json:"containerIp"`
	ContainerLogHTTPAddress      *string    `json:"containerLogHttpAddress"`
	ContainerConnectionLostCount int32      `json:"containerConnectionLostCount"`
	ContainerIsDecommissioning   *bool      `json:"containerIsDecommissioning"`
	ContainerLaunchedTimestamp   *meta.Time `json:"containerLaunchedTimestamp"`
	ContainerCompletedTimestamp  *meta.Time `json:"containerCompletedTimestamp"`
	ContainerExitCode            *ExitCode  `json:"containerExitCode"`
	ContainerExitDescription     *string    `json:"containerExitDescription"`
	ContainerExitDiagnostics     *string    `json:"containerExitDiagnostics"`
	ContainerExitType            *ExitType  `json:"containerExitType"`
	ContainerGpus                *uint64    `json:"containerGpus"`
	ContainerPorts               *string    `json:"containerPorts"`
}

func (ts *TaskStatus) Locator() TaskStatusLocator {
	return TaskStatusLocator{TaskRoleName: ts.TaskRoleName, TaskIndex: ts.TaskIndex}
}

type TaskRoleRolloutStatus struct {
	OverallRolloutServiceVersion *int32 `json:"overallRolloutServiceVersion"`
}

type TaskRoleStatus struct {
	TaskRoleName          string                 `json:"taskRoleName"`
	TaskRoleRolloutStatus *TaskRoleRolloutStatus `json:"taskRoleRolloutStatus"`
	FrameworkVersion      int32                  `json:"frameworkVersion"`
}

type TaskStatuses struct {
	TaskRoleName     string        `json:"taskRoleName"`
	TaskStatusArray  []*TaskStatus `json:"taskStatusArray"`
	FrameworkVersion int32         `json:"frameworkVersion"`
}

type AggregatedTaskRoleStatus struct {
	TaskRoleStatus *TaskRoleStatus `json:"taskRoleStatus"`
	TaskStatuses   *TaskStatuses   `json:"taskStatuses"`
}

type AggregatedFrameworkStatus struct {
	FrameworkStatus            *FrameworkStatus                     `json:"frameworkStatus"`
	AggregatedTaskRoleStatuses map[string]*AggregatedTaskRoleStatus `json:"aggregatedTaskRoleStatuses"`
}

type FrameworkStatus struct {
	FrameworkName               string           `json:"frameworkName"`
	FrameworkVersion            int32            `json:"frameworkVersion"`
	FrameworkState              FrameworkState   `json:"frameworkState"`
	FrameworkRetryPolicyState   RetryPolicyState `json:"frameworkRetryPolicyState"`
	FrameworkCreatedTimestamp   *meta.Time       `json:"frameworkCreatedTimestamp"`
	FrameworkCompletedTimestamp *meta.Time       `json:"frameworkCompletedTimestamp"`

	// Only available in ApplicationAssociatedStates, otherwise all of them are unset.
	ApplicationID                      *string    `json:"applicationId"`
	ApplicationTrackingURL             *string    `json:"applicationTrackingUrl"`
	ApplicationCreatedTimestamp        *meta.Time `json:"applicationCreatedTimestamp"`
	ApplicationLaunchedTimestamp       *meta.Time `json:"applicationLaunchedTimestamp"`
	ApplicationCompletedTimestamp      *meta.Time `json:"applicationCompletedTimestamp"`
	ApplicationExitCode                *ExitCode  `json:"applicationExitCode"`
	ApplicationExitDescription         *string    `json:"applicationExitDescription"`
	ApplicationExitDiagnostics         *string    `json:"applicationExitDiagnostics"`
	ApplicationExitType                *ExitType  `json:"applicationExitType"`
	ApplicationExitTriggerMessage      *string    `json:"applicationExitTriggerMessage"`
	ApplicationExitTriggerTaskRoleName *string    `json:"applicationExitTriggerTaskRoleName"`
	ApplicationExitTriggerTaskIndex    *int32     `json:"applicationExitTriggerTaskIndex"`
}

// AMDiagnostics is the exit summary written by the ApplicationMaster before it
// exits, and retrieved by the launcher to complete the Application.
type AMDiagnostics struct {
	ApplicationExitCode                *ExitCode `json:"applicationExitCode"`
	ApplicationExitDiagnostics         string    `json:"applicationExitDiagnostics"`
	ApplicationExitTriggerMessage      string    `json:"applicationExitTriggerMessage"`
	ApplicationExitTriggerTaskRoleName string    `json:"applicationExitTriggerTaskRoleName"`
	ApplicationExitTriggerTaskIndex    *int32    `json:"applicationExitTriggerTaskIndex"`
}

type ExitType string

const (
	ExitTypeSucceeded         ExitType = "SUCCEEDED"
	ExitTypeTransientNormal   ExitType = "TRANSIENT_NORMAL"
	ExitTypeTransientConflict ExitType = "TRANSIENT_CONFLICT"
	ExitTypeNonTransient      ExitType = "NON_TRANSIENT"
	ExitTypeUnknown           ExitType = "UNKNOWN"
	// The completion has not been observed, such as the container is still live.
	ExitTypeNotAvailable ExitType = "NOT_AVAILABLE"
)

// [AssociatedState]: ContainerID is not nil
// [LiveAssociatedState]: the Container is actually executing
// [OutstandingState]: the Task still needs a Container to be satisfied
type TaskState string

const (
	// No Container is requested for the Task.
	// [StartState]
	// [OutstandingState]
	// -> ContainerRequested
	TaskWaiting TaskState = "TASK_WAITING"

	// A ContainerRequest is pending in the scheduler.
	// [OutstandingState]
	// -> TaskWaiting
	// -> ContainerAllocated
	ContainerRequested TaskState = "CONTAINER_REQUESTED"

	// A Container is allocated but not launched yet.
	// [AssociatedState]
	// [OutstandingState]
	// -> ContainerLaunched
	// -> ContainerCompleted
	ContainerAllocated TaskState = "CONTAINER_ALLOCATED"

	// The Container is launch requested.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ContainerRunning
	// -> ContainerCompleted
	ContainerLaunched TaskState = "CONTAINER_LAUNCHED"

	// The Container is running.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ContainerCompleted
	ContainerRunning TaskState = "CONTAINER_RUNNING"

	// The Container is completed and the ExitStatus is available.
	// [AssociatedState]
	// -> TaskWaiting
	// -> TaskCompleted
	ContainerCompleted TaskState = "CONTAINER_COMPLETED"

	// The Task will never be retried, the exit info of its last Container is kept.
	// [AssociatedState]
	// [FinalState]
	TaskCompleted TaskState = "TASK_COMPLETED"
)

// [AssociatedState]: ApplicationID is not nil
// [LiveAssociatedState]: the Application may be live in the scheduler
type FrameworkState string

const (
	// No Application is associated with the Framework.
	// [StartState]
	// -> ApplicationCreated
	FrameworkWaiting FrameworkState = "FRAMEWORK_WAITING"

	// An Application handle is created, its submission context is being set up.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ApplicationLaunched
	// -> ApplicationRetrievingDiagnostics
	ApplicationCreated FrameworkState = "APPLICATION_CREATED"

	// The Application is submitted.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ApplicationWaiting
	// -> ApplicationRunning
	// -> ApplicationRetrievingDiagnostics
	ApplicationLaunched FrameworkState = "APPLICATION_LAUNCHED"

	// The Application is accepted by the scheduler but not running yet.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ApplicationRunning
	// -> ApplicationRetrievingDiagnostics
	ApplicationWaiting FrameworkState = "APPLICATION_WAITING"

	// The ApplicationMaster is running.
	// [AssociatedState]
	// [LiveAssociatedState]
	// -> ApplicationRetrievingDiagnostics
	ApplicationRunning FrameworkState = "APPLICATION_RUNNING"

	// The Application is killed or completed, and its exit diagnostics are being
	// retrieved.
	// [AssociatedState]
	// -> ApplicationCompleted
	ApplicationRetrievingDiagnostics FrameworkState = "APPLICATION_RETRIEVING_DIAGNOSTICS"

	// The Application is completed and its ExitStatus is available.
	// [AssociatedState]
	// -> FrameworkWaiting
	// -> FrameworkCompleted
	ApplicationCompleted FrameworkState = "APPLICATION_COMPLETED"

	// The Framework will never be retried, the exit info of its last
	// Application is kept.
	// [AssociatedState]
	// [FinalState]
	FrameworkCompleted FrameworkState = "FRAMEWORK_COMPLETED"
)
