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
	"testing"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrameworkRequest(name string, version int32) *ci.FrameworkRequest {
	return &ci.FrameworkRequest{
		FrameworkName: name,
		FrameworkDescriptor: &ci.FrameworkDescriptor{
			Version:       version,
			ExecutionType: ci.ExecutionStart,
			TaskRoles:     map[string]*ci.TaskRoleDescriptor{},
		},
	}
}

func TestFrameworkStatusStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ls := store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher")
	s := NewFrameworkStatusStore(ls)
	require.NoError(t, s.Recover(ctx))

	frameworkStatus := s.AddFramework(newTestFrameworkRequest("fw", 3))
	assert.Equal(t, ci.FrameworkWaiting, frameworkStatus.FrameworkState)
	assert.Equal(t, int32(3), frameworkStatus.FrameworkVersion)

	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationCreated,
		EnterApplicationCreated{ApplicationID: "app1"}))
	assert.True(t, s.IsApplicationIDAssociated("app1"))
	assert.Equal(t, map[string]string{"app1": "fw"}, s.GetLiveAssociatedApplicationIDs())

	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationLaunched, nil))
	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationRunning, nil))
	s.UpdateApplicationTrackingURL("fw", "http://am")
	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationRetrievingDiagnostics,
		EnterApplicationRetrievingDiagnostics{
			ExitCode: ci.ExitCodeAppKilledUnexpectedly.Ptr(), Diagnostics: "killed"}))
	assert.Empty(t, s.GetLiveAssociatedApplicationIDs())
	assert.NotNil(t, s.GetFrameworkStatusWithApplicationID("app1"))
	assert.Nil(t, s.GetFrameworkStatusWithLiveApplicationID("app1"))

	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationCompleted,
		EnterApplicationCompleted{
			ExitCode:            ci.ExitCodeAppKilledUnexpectedly,
			Diagnostics:         "killed",
			TriggerTaskRoleName: "A",
			TriggerTaskIndex:    common.PtrInt32(1),
		}))
	frameworkStatus = s.GetFrameworkStatus("fw")
	assert.Equal(t, ci.ExitCodeAppKilledUnexpectedly, *frameworkStatus.ApplicationExitCode)
	assert.Equal(t, ci.LookupExitInfo(ci.ExitCodeAppKilledUnexpectedly).Type,
		*frameworkStatus.ApplicationExitType)
	assert.Equal(t, "http://am", *frameworkStatus.ApplicationTrackingURL)
	assert.Equal(t, int32(1), *frameworkStatus.ApplicationExitTriggerTaskIndex)

	retryState := ci.RetryPolicyState{RetriedCount: 1}
	require.NoError(t, s.TransitionFrameworkState("fw", ci.FrameworkWaiting,
		EnterFrameworkWaitingForRetry{RetryPolicyState: retryState}))
	frameworkStatus = s.GetFrameworkStatus("fw")
	assert.Nil(t, frameworkStatus.ApplicationID)
	assert.Nil(t, frameworkStatus.ApplicationExitCode)
	assert.Equal(t, retryState, frameworkStatus.FrameworkRetryPolicyState)
	assert.False(t, s.IsApplicationIDAssociated("app1"))

	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationCreated,
		EnterApplicationCreated{ApplicationID: "app2"}))
	require.NoError(t, s.PushStatus(ctx))

	persisted, err := ls.GetFrameworkStatus(ctx, "fw")
	require.NoError(t, err)
	assert.Equal(t, "app2", *persisted.ApplicationID)

	recovered := NewFrameworkStatusStore(ls)
	require.NoError(t, recovered.Recover(ctx))
	assert.Equal(t, []string{"fw"}, recovered.GetFrameworkNames())
	assert.Len(t, recovered.GetFrameworkStatuses(ci.ApplicationCreated), 1)
	assert.Equal(t, map[string]string{"app2": "fw"}, recovered.GetLiveAssociatedApplicationIDs())
}

func TestFrameworkStatusStore_IllegalTransition(t *testing.T) {
	s := NewFrameworkStatusStore(
		store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher"))
	s.AddFramework(newTestFrameworkRequest("fw1", 1))
	s.AddFramework(newTestFrameworkRequest("fw2", 1))

	assert.Panics(t, func() {
		_ = s.TransitionFrameworkState("fw1", ci.ApplicationCreated, nil)
	})
	assert.Panics(t, func() {
		_ = s.TransitionFrameworkState("fw1", ci.ApplicationLaunched, nil)
	})
	assert.Panics(t, func() {
		s.AddFramework(newTestFrameworkRequest("fw1", 2))
	})

	require.NoError(t, s.TransitionFrameworkState("fw1", ci.ApplicationCreated,
		EnterApplicationCreated{ApplicationID: "app1"}))
	assert.Panics(t, func() {
		_ = s.TransitionFrameworkState("fw2", ci.ApplicationCreated,
			EnterApplicationCreated{ApplicationID: "app1"})
	})
	assert.Panics(t, func() {
		_ = s.TransitionFrameworkState("fw1", ci.FrameworkWaiting,
			EnterFrameworkWaitingForRetry{})
	})

	err := s.TransitionFrameworkState("fw3", ci.ApplicationLaunched, nil)
	assert.True(t, IsFrameworkNotFound(err))
}

func TestFrameworkStatusStore_ContainsFramework(t *testing.T) {
	s := NewFrameworkStatusStore(
		store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher"))
	s.AddFramework(newTestFrameworkRequest("fw", 1))
	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationCreated,
		EnterApplicationCreated{ApplicationID: "app1"}))

	snapshot := s.GetFrameworkStatus("fw")
	assert.True(t, s.ContainsFramework(snapshot))

	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationLaunched, nil))
	assert.False(t, s.ContainsFramework(snapshot))
	assert.True(t, s.ContainsFramework(s.GetFrameworkStatus("fw")))
}

func TestFrameworkStatusStore_RemoveFramework(t *testing.T) {
	ctx := context.Background()
	ls := store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher")
	s := NewFrameworkStatusStore(ls)
	s.AddFramework(newTestFrameworkRequest("fw", 1))
	require.NoError(t, s.TransitionFrameworkState("fw", ci.ApplicationCreated,
		EnterApplicationCreated{ApplicationID: "app1"}))
	require.NoError(t, s.PushStatus(ctx))

	require.NoError(t, s.RemoveFramework(ctx, "fw"))
	require.NoError(t, s.PushStatus(ctx))
	assert.Nil(t, s.GetFrameworkStatus("fw"))
	assert.False(t, s.IsApplicationIDAssociated("app1"))

	_, err := ls.GetFrameworkStatus(ctx, "fw")
	assert.True(t, store.IsNoNode(err))
}

func TestFrameworkStatusStore_RecoverDeletesCorrupted(t *testing.T) {
	ctx := context.Background()
	nodes := store.NewMemoryNodeStore()
	ls := store.NewLauncherStore(nodes, "/Launcher")
	require.NoError(t, ls.SetFrameworkStatus(ctx, &ci.FrameworkStatus{
		FrameworkName: "good", FrameworkVersion: 1, FrameworkState: ci.FrameworkWaiting}))
	require.NoError(t, nodes.SetData(ctx, "/Launcher/Frameworks/bad/FrameworkStatus", []byte("[")))

	s := NewFrameworkStatusStore(ls)
	require.NoError(t, s.Recover(ctx))
	assert.Equal(t, []string{"good"}, s.GetFrameworkNames())
	assert.Equal(t, 1, s.GetFrameworkStateCounters()[ci.FrameworkWaiting])

	_, err := ls.GetFrameworkStatus(ctx, "bad")
	assert.True(t, store.IsNoNode(err))
}
