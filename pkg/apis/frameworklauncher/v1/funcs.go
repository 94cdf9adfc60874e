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
	"strings"

	"github.com/microsoft/frameworklauncher/pkg/common"
)

func (r *FrameworkRequest) Version() int32 {
	return r.FrameworkDescriptor.Version
}

func (r *FrameworkRequest) IsStopRequested() bool {
	return r.FrameworkDescriptor.ExecutionType == ExecutionStop
}

// TaskNumbers returns TaskRoleName -> TaskNumber.
func (r *FrameworkRequest) TaskNumbers() map[string]int32 {
	taskNumbers := map[string]int32{}
	for name, taskRole := range r.FrameworkDescriptor.TaskRoles {
		taskNumbers[name] = taskRole.TaskNumber
	}
	return taskNumbers
}

// ApplicationName is unique for a FrameworkVersion and traceable to its
// launch client.
func (r *FrameworkRequest) ApplicationName() string {
	return fmt.Sprintf("[%v]_[%v]_[%v]_[%v]_[%v]",
		r.FrameworkName, r.Version(), r.LaunchClientType,
		r.LaunchClientHostName, r.LaunchClientUserName)
}

func (f *FrameworkStatus) IsApplicationLiveAssociated() bool {
	return ApplicationLiveAssociatedStates.Contains(f.FrameworkState)
}

func (f *FrameworkStatus) IsApplicationAssociated() bool {
	return ApplicationAssociatedStates.Contains(f.FrameworkState)
}

// ApplicationIDOrEmpty is safe to be called in any FrameworkState.
func (f *FrameworkStatus) ApplicationIDOrEmpty() string {
	if f.ApplicationID == nil {
		return ""
	}
	return *f.ApplicationID
}

func (ts *TaskStatus) IsSucceeded() bool {
	return ts.ContainerExitType != nil && *ts.ContainerExitType == ExitTypeSucceeded
}

// IsAMDiagnosticsEmpty tells whether the ApplicationMaster has left nothing
// for the launcher, i.e. the launcher needs to retrieve it.
func IsAMDiagnosticsEmpty(diagnostics string) bool {
	return strings.TrimSpace(diagnostics) == ""
}

func ParseAMDiagnostics(diagnostics string) (*AMDiagnostics, error) {
	amDiag := &AMDiagnostics{}
	err := common.TryFromJson(diagnostics, amDiag)
	if err != nil {
		return nil, fmt.Errorf("Failed to deserialize AMDiagnostics %v: %v",
			common.Quote(diagnostics), err)
	}
	return amDiag, nil
}

func (d *AMDiagnostics) String() string {
	return common.ToJson(d)
}
