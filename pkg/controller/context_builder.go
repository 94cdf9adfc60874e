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

package controller

import (
	"fmt"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/scheduler"
)

// ContextBuilder builds the SubmissionContext of a newly created Application.
// It is called off the serial queue and may be retried, so it should not
// change anything.
type ContextBuilder interface {
	BuildSubmissionContext(
		frameworkStatus *ci.FrameworkStatus,
		request *ci.FrameworkRequest) (*scheduler.SubmissionContext, error)
}

// DefaultContextBuilder launches the launcher's own ApplicationMaster image,
// which finds its Framework by the predefined environment variables.
type DefaultContextBuilder struct {
	cConfig *ci.Config
}

func NewDefaultContextBuilder(cConfig *ci.Config) *DefaultContextBuilder {
	return &DefaultContextBuilder{cConfig: cConfig}
}

func (b *DefaultContextBuilder) BuildSubmissionContext(
	frameworkStatus *ci.FrameworkStatus,
	request *ci.FrameworkRequest) (*scheduler.SubmissionContext, error) {
	if frameworkStatus.ApplicationID == nil {
		return nil, fmt.Errorf(
			"[%v]: Framework is not associated with any Application",
			frameworkStatus.FrameworkName)
	}
	if request.FrameworkDescriptor == nil {
		return nil, fmt.Errorf(
			"[%v]: FrameworkRequest has no FrameworkDescriptor",
			request.FrameworkName)
	}

	applicationID := *frameworkStatus.ApplicationID
	frameworkVersion := fmt.Sprint(frameworkStatus.FrameworkVersion)
	platParams := request.FrameworkDescriptor.PlatformSpecificParameters

	return &scheduler.SubmissionContext{
		ApplicationID:   applicationID,
		ApplicationName: request.ApplicationName(),
		ApplicationType: ci.ApplicationType,
		User:            request.FrameworkDescriptor.User,
		Queue:           platParams.Queue,
		Priority:        platParams.AmPriority,
		AMResource:      platParams.AmResource,
		AMNodeName:      platParams.AmNodeName,
		AMImage:         *b.cConfig.AMImage,
		AMCommand:       append([]string{}, b.cConfig.AMCommand...),
		AMEnvironments: map[string]string{
			ci.EnvNameFrameworkName:    frameworkStatus.FrameworkName,
			ci.EnvNameFrameworkVersion: frameworkVersion,
			ci.EnvNameApplicationID:    applicationID,
			ci.EnvNameAMUser:           *b.cConfig.AMUser,
		},
		Annotations: map[string]string{
			ci.AnnotationKeyFrameworkName:    frameworkStatus.FrameworkName,
			ci.AnnotationKeyFrameworkVersion: frameworkVersion,
		},
	}, nil
}
