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
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeepCopy methods of the status types, the result shares no memory with the
// receiver.

func copyTime(t *meta.Time) *meta.Time {
	if t == nil {
		return nil
	}
	return t.DeepCopy()
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	o := *s
	return &o
}

func copyInt32(i *int32) *int32 {
	if i == nil {
		return nil
	}
	o := *i
	return &o
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	o := *b
	return &o
}

func copyExitCode(c *ExitCode) *ExitCode {
	if c == nil {
		return nil
	}
	o := *c
	return &o
}

func copyExitType(t *ExitType) *ExitType {
	if t == nil {
		return nil
	}
	o := *t
	return &o
}

func (in *TaskStatus) DeepCopy() *TaskStatus {
	if in == nil {
		return nil
	}
	out := *in
	out.TaskCreatedTimestamp = copyTime(in.TaskCreatedTimestamp)
	out.TaskCompletedTimestamp = copyTime(in.TaskCompletedTimestamp)
	if in.TaskServiceStatus != nil {
		serviceStatus := *in.TaskServiceStatus
		out.TaskServiceStatus = &serviceStatus
	}
	out.ContainerID = copyString(in.ContainerID)
	out.ContainerHost = copyString(in.ContainerHost)
	out.ContainerIP = copyString(in.ContainerIP)
	out.ContainerLogHTTPAddress = copyString(in.ContainerLogHTTPAddress)
	out.ContainerIsDecommissioning = copyBool(in.ContainerIsDecommissioning)
	out.ContainerLaunchedTimestamp = copyTime(in.ContainerLaunchedTimestamp)
	out.ContainerCompletedTimestamp = copyTime(in.ContainerCompletedTimestamp)
	out.ContainerExitCode = copyExitCode(in.ContainerExitCode)
	out.ContainerExitDescription = copyString(in.ContainerExitDescription)
	out.ContainerExitDiagnostics = copyString(in.ContainerExitDiagnostics)
	out.ContainerExitType = copyExitType(in.ContainerExitType)
	if in.ContainerGpus != nil {
		gpus := *in.ContainerGpus
		out.ContainerGpus = &gpus
	}
	out.ContainerPorts = copyString(in.ContainerPorts)
	return &out
}

func (in *TaskRoleStatus) DeepCopy() *TaskRoleStatus {
	if in == nil {
		return nil
	}
	out := *in
	if in.TaskRoleRolloutStatus != nil {
		out.TaskRoleRolloutStatus = &TaskRoleRolloutStatus{
			OverallRolloutServiceVersion: copyInt32(
				in.TaskRoleRolloutStatus.OverallRolloutServiceVersion),
		}
	}
	return &out
}

func (in *TaskStatuses) DeepCopy() *TaskStatuses {
	if in == nil {
		return nil
	}
	out := *in
	if in.TaskStatusArray != nil {
		out.TaskStatusArray = make([]*TaskStatus, len(in.TaskStatusArray))
		for i, taskStatus := range in.TaskStatusArray {
			out.TaskStatusArray[i] = taskStatus.DeepCopy()
		}
	}
	return &out
}

func (in *AggregatedTaskRoleStatus) DeepCopy() *AggregatedTaskRoleStatus {
	if in == nil {
		return nil
	}
	return &AggregatedTaskRoleStatus{
		TaskRoleStatus: in.TaskRoleStatus.DeepCopy(),
		TaskStatuses:   in.TaskStatuses.DeepCopy(),
	}
}

func (in *AggregatedFrameworkStatus) DeepCopy() *AggregatedFrameworkStatus {
	if in == nil {
		return nil
	}
	out := &AggregatedFrameworkStatus{
		FrameworkStatus: in.FrameworkStatus.DeepCopy(),
	}
	if in.AggregatedTaskRoleStatuses != nil {
		out.AggregatedTaskRoleStatuses = map[string]*AggregatedTaskRoleStatus{}
		for name, status := range in.AggregatedTaskRoleStatuses {
			out.AggregatedTaskRoleStatuses[name] = status.DeepCopy()
		}
	}
	return out
}

func (in *FrameworkStatus) DeepCopy() *FrameworkStatus {
	if in == nil {
		return nil
	}
	out := *in
	out.FrameworkCreatedTimestamp = copyTime(in.FrameworkCreatedTimestamp)
	out.FrameworkCompletedTimestamp = copyTime(in.FrameworkCompletedTimestamp)
	out.ApplicationID = copyString(in.ApplicationID)
	out.ApplicationTrackingURL = copyString(in.ApplicationTrackingURL)
	out.ApplicationCreatedTimestamp = copyTime(in.ApplicationCreatedTimestamp)
	out.ApplicationLaunchedTimestamp = copyTime(in.ApplicationLaunchedTimestamp)
	out.ApplicationCompletedTimestamp = copyTime(in.ApplicationCompletedTimestamp)
	out.ApplicationExitCode = copyExitCode(in.ApplicationExitCode)
	out.ApplicationExitDescription = copyString(in.ApplicationExitDescription)
	out.ApplicationExitDiagnostics = copyString(in.ApplicationExitDiagnostics)
	out.ApplicationExitType = copyExitType(in.ApplicationExitType)
	out.ApplicationExitTriggerMessage = copyString(in.ApplicationExitTriggerMessage)
	out.ApplicationExitTriggerTaskRoleName = copyString(in.ApplicationExitTriggerTaskRoleName)
	out.ApplicationExitTriggerTaskIndex = copyInt32(in.ApplicationExitTriggerTaskIndex)
	return &out
}

func (in *FrameworkRequest) DeepCopy() *FrameworkRequest {
	if in == nil {
		return nil
	}
	out := *in
	out.FirstRequestTimestamp = copyTime(in.FirstRequestTimestamp)
	out.LastRequestTimestamp = copyTime(in.LastRequestTimestamp)
	if in.FrameworkDescriptor != nil {
		descriptor := *in.FrameworkDescriptor
		if in.FrameworkDescriptor.TaskRoles != nil {
			descriptor.TaskRoles = map[string]*TaskRoleDescriptor{}
			for name, taskRole := range in.FrameworkDescriptor.TaskRoles {
				descriptor.TaskRoles[name] = taskRole.DeepCopy()
			}
		}
		descriptor.PlatformSpecificParameters.AmResource =
			*in.FrameworkDescriptor.PlatformSpecificParameters.AmResource.DeepCopy()
		out.FrameworkDescriptor = &descriptor
	}
	return &out
}

func (in *TaskRoleDescriptor) DeepCopy() *TaskRoleDescriptor {
	if in == nil {
		return nil
	}
	out := *in
	out.Resource = *in.Resource.DeepCopy()
	if in.PortDefinitions != nil {
		out.PortDefinitions = map[string]PortDefinition{}
		for label, ports := range in.PortDefinitions {
			out.PortDefinitions[label] = ports
		}
	}
	return &out
}

func (in *ResourceDescriptor) DeepCopy() *ResourceDescriptor {
	if in == nil {
		return nil
	}
	out := *in
	if in.PortRanges != nil {
		out.PortRanges = append([]ValueRange{}, in.PortRanges...)
	}
	return &out
}

func (in *Container) DeepCopy() *Container {
	if in == nil {
		return nil
	}
	out := *in
	out.Resource = *in.Resource.DeepCopy()
	return &out
}

func (in *ContainerRequest) DeepCopy() *ContainerRequest {
	if in == nil {
		return nil
	}
	out := *in
	out.Resource = *in.Resource.DeepCopy()
	if in.HostNames != nil {
		out.HostNames = append([]string{}, in.HostNames...)
	}
	return &out
}
