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

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	core "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubeFake "k8s.io/client-go/kubernetes/fake"
	kubeTesting "k8s.io/client-go/testing"
)

const testNamespace = "launcher"

func newTestSubmissionContext(applicationID string, applicationType string) *SubmissionContext {
	return &SubmissionContext{
		ApplicationID:   applicationID,
		ApplicationName: "[fw]_[1]_[test]_[host]_[user]",
		ApplicationType: applicationType,
		User:            "user",
		Queue:           "default",
		Priority:        10,
		AMResource:      ci.ResourceDescriptor{CpuNumber: 1, MemoryMB: 512},
		AMImage:         "frameworklauncher:latest",
		AMCommand:       []string{"frameworklauncher", "am"},
		AMEnvironments: map[string]string{
			ci.EnvNameFrameworkName:    "fw",
			ci.EnvNameFrameworkVersion: "1",
		},
		Annotations: map[string]string{ci.AnnotationKeyFrameworkName: "fw"},
	}
}

func TestKubeClient_SubmitApplication(t *testing.T) {
	ctx := context.Background()
	kClient := kubeFake.NewSimpleClientset()
	c := NewKubeClient(kClient, testNamespace)

	id, err := c.CreateApplication(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, applicationIDPrefix))

	require.NoError(t, c.SubmitApplication(ctx, newTestSubmissionContext(id, ci.ApplicationType)))
	pod, err := kClient.CoreV1().Pods(testNamespace).Get(ctx, id, meta.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, ci.ApplicationType, pod.Labels[ci.LabelKeyApplicationType])
	assert.Equal(t, "default", pod.Labels[labelKeyQueue])
	assert.Equal(t, "fw", pod.Annotations[ci.AnnotationKeyFrameworkName])
	assert.Equal(t, "[fw]_[1]_[test]_[host]_[user]", pod.Annotations[ci.AnnotationKeyApplicationName])
	assert.Equal(t, core.RestartPolicyNever, pod.Spec.RestartPolicy)
	assert.Equal(t, int32(10), *pod.Spec.Priority)

	amContainer := pod.Spec.Containers[0]
	assert.Equal(t, ci.AMContainerName, amContainer.Name)
	assert.Equal(t, []core.EnvVar{
		{Name: ci.EnvNameFrameworkName, Value: "fw"},
		{Name: ci.EnvNameFrameworkVersion, Value: "1"},
	}, amContainer.Env)
	assert.Equal(t, "512Mi", amContainer.Resources.Requests.Memory().String())
	assert.Equal(t, int64(1), amContainer.Resources.Requests.Cpu().Value())

	err = c.SubmitApplication(ctx, newTestSubmissionContext(id, ci.ApplicationType))
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsIOError(err))
}

func TestKubeClient_SubmitApplicationIOError(t *testing.T) {
	kClient := kubeFake.NewSimpleClientset()
	kClient.PrependReactor("create", "pods",
		func(action kubeTesting.Action) (bool, runtime.Object, error) {
			return true, nil, fmt.Errorf("connection refused")
		})
	c := NewKubeClient(kClient, testNamespace)

	err := c.SubmitApplication(context.Background(),
		newTestSubmissionContext("app1", ci.ApplicationType))
	assert.True(t, IsIOError(err))
	assert.True(t, IsIOError(errors.Wrapf(err, "wrapped")))
	assert.False(t, IsProtocolError(err))
}

func TestKubeClient_ListGetKill(t *testing.T) {
	ctx := context.Background()
	kClient := kubeFake.NewSimpleClientset()
	c := NewKubeClient(kClient, testNamespace)

	require.NoError(t, c.SubmitApplication(ctx, newTestSubmissionContext("app1", ci.ApplicationType)))
	require.NoError(t, c.SubmitApplication(ctx, newTestSubmissionContext("app2", "OTHER")))

	reports, err := c.ListApplications(ctx, ci.ApplicationType)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "app1", reports[0].ApplicationID)
	assert.Equal(t, ApplicationAccepted, reports[0].State)
	assert.Equal(t, FinalStatusUndefined, reports[0].FinalStatus)

	reports, err = c.ListApplications(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	report, err := c.GetApplicationReport(ctx, "app1")
	require.NoError(t, err)
	assert.Equal(t, "[fw]_[1]_[test]_[host]_[user]", report.ApplicationName)

	require.NoError(t, c.KillApplication(ctx, "app1"))
	require.NoError(t, c.KillApplication(ctx, "app1"))
	_, err = c.GetApplicationReport(ctx, "app1")
	assert.True(t, IsApplicationNotFound(err))
}

func TestToApplicationReport(t *testing.T) {
	terminated := func(message string) []core.ContainerStatus {
		return []core.ContainerStatus{{
			Name: ci.AMContainerName,
			State: core.ContainerState{Terminated: &core.ContainerStateTerminated{
				Message: message,
			}},
		}}
	}
	now := meta.Now()

	for _, c := range []struct {
		name        string
		pod         *core.Pod
		state       ApplicationState
		finalStatus FinalStatus
		diagnostics string
	}{
		{"pending", &core.Pod{Status: core.PodStatus{Phase: core.PodPending}},
			ApplicationAccepted, FinalStatusUndefined, ""},
		{"running", &core.Pod{Status: core.PodStatus{Phase: core.PodRunning}},
			ApplicationRunning, FinalStatusUndefined, ""},
		{"succeeded", &core.Pod{Status: core.PodStatus{
			Phase: core.PodSucceeded, ContainerStatuses: terminated(`{"applicationExitCode":0}`)}},
			ApplicationFinished, FinalStatusSucceeded, `{"applicationExitCode":0}`},
		{"failed", &core.Pod{Status: core.PodStatus{
			Phase: core.PodFailed, Reason: "Evicted", Message: "node pressure"}},
			ApplicationFinished, FinalStatusFailed, "Evicted: node pressure"},
		{"deleting", &core.Pod{
			ObjectMeta: meta.ObjectMeta{DeletionTimestamp: &now},
			Status:     core.PodStatus{Phase: core.PodRunning}},
			ApplicationKilled, FinalStatusKilled, ""},
	} {
		t.Run(c.name, func(t *testing.T) {
			report := ToApplicationReport(c.pod)
			assert.Equal(t, c.state, report.State)
			assert.Equal(t, c.finalStatus, report.FinalStatus)
			assert.Equal(t, c.diagnostics, report.Diagnostics)
		})
	}
}
