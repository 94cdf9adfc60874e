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

package resync

import (
	"context"
	"fmt"
	"testing"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/scheduler"
	"github.com/microsoft/frameworklauncher/pkg/scheduler/fake"
	"github.com/microsoft/frameworklauncher/pkg/status"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFramework(t *testing.T, s *status.FrameworkStatusStore,
	name string, applicationID string, states ...ci.FrameworkState) {
	s.AddFramework(&ci.FrameworkRequest{
		FrameworkName:       name,
		FrameworkDescriptor: &ci.FrameworkDescriptor{Version: 1},
	})
	require.NoError(t, s.TransitionFrameworkState(name, ci.ApplicationCreated,
		status.EnterApplicationCreated{ApplicationID: applicationID}))
	for _, state := range states {
		require.NoError(t, s.TransitionFrameworkState(name, state, nil))
	}
}

func report(id string, applicationType string, finalStatus scheduler.FinalStatus) *scheduler.ApplicationReport {
	state := scheduler.ApplicationRunning
	if finalStatus != scheduler.FinalStatusUndefined {
		state = scheduler.ApplicationFinished
	}
	return &scheduler.ApplicationReport{
		ApplicationID:   id,
		ApplicationType: applicationType,
		State:           state,
		FinalStatus:     finalStatus,
	}
}

// hiddenClient hides some Applications from the listing, as if the listing
// was taken before they were completed.
type hiddenClient struct {
	*fake.Client
	hidden map[string]bool
}

func (c *hiddenClient) ListApplications(
	ctx context.Context, applicationTypes ...string) ([]*scheduler.ApplicationReport, error) {
	reports, err := c.Client.ListApplications(ctx, applicationTypes...)
	if err != nil {
		return nil, err
	}
	visible := []*scheduler.ApplicationReport{}
	for _, r := range reports {
		if !c.hidden[r.ApplicationID] {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

func TestReconciler_Resync(t *testing.T) {
	frameworks := status.NewFrameworkStatusStore(
		store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher"))
	addFramework(t, frameworks, "listed", "app1", ci.ApplicationLaunched)
	addFramework(t, frameworks, "completedMissing", "app2", ci.ApplicationLaunched)
	addFramework(t, frameworks, "runningMissing", "app3", ci.ApplicationLaunched)
	addFramework(t, frameworks, "created", "app4")
	addFramework(t, frameworks, "lost", "app5", ci.ApplicationLaunched)

	client := &hiddenClient{Client: fake.NewClient(), hidden: map[string]bool{
		"app2": true, "app3": true, "app4": true,
	}}
	client.SetApplicationReport(report("app1", ci.ApplicationType, scheduler.FinalStatusUndefined))
	client.SetApplicationReport(report("app2", ci.ApplicationType, scheduler.FinalStatusFailed))
	client.SetApplicationReport(report("app3", ci.ApplicationType, scheduler.FinalStatusUndefined))
	client.SetApplicationReport(report("app4", ci.ApplicationType, scheduler.FinalStatusSucceeded))
	client.SetApplicationReport(report("other", "OTHER", scheduler.FinalStatusUndefined))

	reports, ok := NewReconciler(client, frameworks).Resync(context.Background())
	require.True(t, ok)

	ids := []string{}
	for id := range reports {
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []string{"app1", "app2"}, ids)
	assert.Equal(t, scheduler.FinalStatusFailed, reports["app2"].FinalStatus)
}

func TestReconciler_ListFailure(t *testing.T) {
	frameworks := status.NewFrameworkStatusStore(
		store.NewLauncherStore(store.NewMemoryNodeStore(), "/Launcher"))
	client := fake.NewClient()
	client.SetErrors(nil, nil, nil, fmt.Errorf("connection refused"), nil)

	reports, ok := NewReconciler(client, frameworks).Resync(context.Background())
	assert.False(t, ok)
	assert.Nil(t, reports)
}
