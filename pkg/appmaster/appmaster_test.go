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
	"sync"
	"testing"
	"time"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/status"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	core "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubeFake "k8s.io/client-go/kubernetes/fake"
)

type recorder struct {
	lock      sync.Mutex
	released  []string
	appeared  []int
	withdrawn []ci.TaskStatusLocator
}

func (r *recorder) ReleaseContainer(ctx context.Context, containerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.released = append(r.released, containerID)
	return nil
}

func (r *recorder) OnOutstandingTaskAppeared(round int32, count int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.appeared = append(r.appeared, count)
}

func (r *recorder) OnOutstandingTaskDisappeared(round int32) {}

func (r *recorder) OnContainerRequestWithdrawn(
	locator ci.TaskStatusLocator, request *ci.ContainerRequest) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.withdrawn = append(r.withdrawn, locator)
}

func (r *recorder) getReleased() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string{}, r.released...)
}

func newRequest(version int32, taskNumber int32) *ci.FrameworkRequest {
	return &ci.FrameworkRequest{
		FrameworkName: "f1",
		FrameworkDescriptor: &ci.FrameworkDescriptor{
			Version:       version,
			ExecutionType: ci.ExecutionStart,
			TaskRoles: map[string]*ci.TaskRoleDescriptor{
				"worker": {TaskNumber: taskNumber},
			},
		},
	}
}

func newTestAM(t *testing.T, requestVersion int32) (
	*ApplicationMaster, *store.LauncherStore, *recorder) {
	ctx := context.Background()
	storeType := ci.StoreTypeMemory
	cConfig := &ci.Config{StoreType: &storeType}
	ci.Default(cConfig)
	cConfig.AMStatusPushIntervalSec = common.PtrInt64(1)

	s := store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher")
	require.NoError(t, s.SetFrameworkRequest(ctx, newRequest(requestVersion, 2)))
	require.NoError(t, s.SetFrameworkStatus(ctx, &ci.FrameworkStatus{
		FrameworkName:    "f1",
		FrameworkVersion: 1,
		FrameworkState:   ci.ApplicationRunning,
		ApplicationID:    common.PtrString("app1"),
	}))

	r := &recorder{}
	am := NewApplicationMaster(cConfig, s, "f1", 1, "app1", r, r)
	return am, s, r
}

func launchContainer(t *testing.T, am *ApplicationMaster, taskIndex int32, containerID string) {
	locator := ci.TaskStatusLocator{TaskRoleName: "worker", TaskIndex: taskIndex}
	require.NoError(t, am.tStore.TransitionTaskState(locator, ci.ContainerRequested,
		status.EnterContainerRequested{Request: &ci.ContainerRequest{}}))
	require.NoError(t, am.tStore.TransitionTaskState(locator, ci.ContainerAllocated,
		status.EnterContainerAssociated{Container: &ci.Container{
			ID: containerID, Host: "10.0.0.1",
		}}))
	require.NoError(t, am.tStore.TransitionTaskState(locator, ci.ContainerLaunched, nil))
}

func TestApplicationMaster_ShrinkTasks(t *testing.T) {
	ctx := context.Background()
	am, s, r := newTestAM(t, 1)
	exceptions := []error{}
	require.NoError(t, am.Initialize(func(err error) { exceptions = append(exceptions, err) }))
	require.NoError(t, am.Recover(ctx))
	assert.Equal(t, 2, am.tStore.GetTaskCount("worker"))

	launchContainer(t, am, 0, "c0")
	require.NoError(t, am.tStore.TransitionTaskState(
		ci.TaskStatusLocator{TaskRoleName: "worker", TaskIndex: 1},
		ci.ContainerRequested,
		status.EnterContainerRequested{Request: &ci.ContainerRequest{}}))

	require.NoError(t, s.SetFrameworkRequest(ctx, newRequest(1, 0)))
	am.pullFrameworkRequest()
	assert.Equal(t, 0, am.tStore.GetTaskCount("worker"))

	require.NoError(t, am.Stop(ctx))
	assert.Equal(t, []string{"c0"}, r.getReleased())
	assert.Equal(t, []int{2}, r.appeared)
	assert.Equal(t, []ci.TaskStatusLocator{{TaskRoleName: "worker", TaskIndex: 1}},
		r.withdrawn)
	assert.Empty(t, exceptions)

	aggStatus, _, err := s.GetAggregatedFrameworkStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, aggStatus.AggregatedTaskRoleStatuses["worker"].TaskStatuses.TaskStatusArray)
}

func TestApplicationMaster_StaleRecover(t *testing.T) {
	am, _, _ := newTestAM(t, 2)
	require.NoError(t, am.Initialize(func(err error) {}))

	err := am.Recover(context.Background())
	assert.True(t, common.IsNonTransient(err))
	// Nothing of the stale attempt is pushed.
	assert.True(t, common.IsNonTransient(am.Stop(context.Background())))
}

func TestApplicationMaster_RollbackOnStaleStop(t *testing.T) {
	ctx := context.Background()
	am, s, r := newTestAM(t, 1)
	require.NoError(t, am.Initialize(func(err error) {}))
	require.NoError(t, am.Recover(ctx))
	launchContainer(t, am, 0, "c0")

	// c0 is never persisted as live, so it must not survive the attempt.
	require.NoError(t, s.DeleteFrameworkRequest(ctx, "f1"))
	err := am.Stop(ctx)
	assert.True(t, common.IsNonTransient(err))
	assert.Equal(t, []string{"c0"}, r.getReleased())
}

func TestApplicationMaster_RunPullsRequest(t *testing.T) {
	ctx := context.Background()
	am, s, _ := newTestAM(t, 1)
	am.cConfig.ServiceRequestPullIntervalSec = common.PtrInt64(1)

	exceptions := make(chan error, 1)
	require.NoError(t, am.Initialize(func(err error) {
		select {
		case exceptions <- err:
		default:
		}
	}))
	require.NoError(t, am.Recover(ctx))

	stopCh := make(chan struct{})
	go am.Run(stopCh)
	defer func() {
		close(stopCh)
		am.Stop(ctx)
	}()

	require.NoError(t, s.SetFrameworkRequest(ctx, newRequest(1, 3)))
	require.Eventually(t, func() bool {
		return am.tStore.GetTaskCount("worker") == 3
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, s.SetFrameworkRequest(ctx, newRequest(2, 3)))
	select {
	case err := <-exceptions:
		assert.True(t, common.IsNonTransient(err))
	case <-time.After(10 * time.Second):
		assert.Fail(t, "Stale FrameworkRequest is never reported")
	}
}

func TestPodContainerReleaser(t *testing.T) {
	ctx := context.Background()
	kClient := kubeFake.NewSimpleClientset(&core.Pod{
		ObjectMeta: meta.ObjectMeta{Name: "c0", Namespace: "launcher"},
	})
	r := NewPodContainerReleaser(kClient, "launcher")

	require.NoError(t, r.ReleaseContainer(ctx, "c0"))
	pods, err := kClient.CoreV1().Pods("launcher").List(ctx, meta.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)

	require.NoError(t, r.ReleaseContainer(ctx, "c0"))
}
