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
	"github.com/microsoft/frameworklauncher/pkg/common"
)

var TaskStates = []TaskState{
	TaskWaiting,
	ContainerRequested,
	ContainerAllocated,
	ContainerLaunched,
	ContainerRunning,
	ContainerCompleted,
	TaskCompleted,
}

var TaskStartStates = common.NewImmutableSet(TaskWaiting)
var TaskFinalStates = common.NewImmutableSet(TaskCompleted)

var ContainerAssociatedStates = common.NewImmutableSet(
	ContainerAllocated,
	ContainerLaunched,
	ContainerRunning,
	ContainerCompleted,
	TaskCompleted)

var ContainerLiveAssociatedStates = common.NewImmutableSet(
	ContainerLaunched,
	ContainerRunning)

var TaskOutstandingStates = common.NewImmutableSet(
	TaskWaiting,
	ContainerRequested,
	ContainerAllocated)

// The ContainerRequest and the allocated Container are only valid within the
// previous ApplicationMaster attempt, so the Task is revised back to
// TaskWaiting after restart.
var TaskStateCorruptedAfterRestartStates = common.NewImmutableSet(
	ContainerRequested,
	ContainerAllocated)

var FrameworkStates = []FrameworkState{
	FrameworkWaiting,
	ApplicationCreated,
	ApplicationLaunched,
	ApplicationWaiting,
	ApplicationRunning,
	ApplicationRetrievingDiagnostics,
	ApplicationCompleted,
	FrameworkCompleted,
}

var FrameworkStartStates = common.NewImmutableSet(FrameworkWaiting)
var FrameworkFinalStates = common.NewImmutableSet(FrameworkCompleted)

var ApplicationAssociatedStates = common.NewImmutableSet(
	ApplicationCreated,
	ApplicationLaunched,
	ApplicationWaiting,
	ApplicationRunning,
	ApplicationRetrievingDiagnostics,
	ApplicationCompleted,
	FrameworkCompleted)

var ApplicationLiveAssociatedStates = common.NewImmutableSet(
	ApplicationCreated,
	ApplicationLaunched,
	ApplicationWaiting,
	ApplicationRunning)

// The submission context of an ApplicationCreated Framework only lives in the
// memory of the previous launcher process, so the state is revised forward
// after restart.
var StateCorruptedAfterRestartStates = common.NewImmutableSet(
	ApplicationCreated)

// The queued work of these states only lives in the memory of the previous
// launcher process, so it is queued again after restart.
var QueueCorruptedAfterRestartStates = common.NewImmutableSet(
	FrameworkWaiting,
	ApplicationRetrievingDiagnostics,
	ApplicationCompleted)
