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

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/pkg/errors"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type ApplicationState string

const (
	ApplicationNew       ApplicationState = "NEW"
	ApplicationNewSaving ApplicationState = "NEW_SAVING"
	ApplicationSubmitted ApplicationState = "SUBMITTED"
	ApplicationAccepted  ApplicationState = "ACCEPTED"
	ApplicationRunning   ApplicationState = "RUNNING"
	ApplicationFinished  ApplicationState = "FINISHED"
	ApplicationFailed    ApplicationState = "FAILED"
	ApplicationKilled    ApplicationState = "KILLED"
)

// FinalStatus is FinalStatusUndefined until the Application is completed.
type FinalStatus string

const (
	FinalStatusUndefined FinalStatus = "UNDEFINED"
	FinalStatusSucceeded FinalStatus = "SUCCEEDED"
	FinalStatusFailed    FinalStatus = "FAILED"
	FinalStatusKilled    FinalStatus = "KILLED"
)

type ApplicationReport struct {
	ApplicationID   string           `json:"applicationId"`
	ApplicationName string           `json:"applicationName"`
	ApplicationType string           `json:"applicationType"`
	State           ApplicationState `json:"state"`
	FinalStatus     FinalStatus      `json:"finalStatus"`
	TrackingURL     string           `json:"trackingUrl"`
	// The AMDiagnostics left by the ApplicationMaster, or the scheduler
	// diagnostics if the ApplicationMaster left nothing.
	Diagnostics string     `json:"diagnostics"`
	StartTime   *meta.Time `json:"startTime"`
	FinishTime  *meta.Time `json:"finishTime"`
}

// SubmissionContext is everything needed to launch the ApplicationMaster of
// an Application.
type SubmissionContext struct {
	ApplicationID   string
	ApplicationName string
	ApplicationType string
	User            string
	Queue           string
	Priority        int32
	AMResource      ci.ResourceDescriptor
	AMNodeName      string
	AMImage         string
	AMCommand       []string
	AMEnvironments  map[string]string
	Annotations     map[string]string
}

// Client is the resource manager which runs the Applications.
//
// Errors of SubmitApplication are classified:
// ProtocolError: the request itself is rejected, retrying it is useless.
// IOError: the request may not reach the scheduler, retrying it may succeed.
type Client interface {
	// CreateApplication reserves a new ApplicationID, nothing is run yet.
	CreateApplication(ctx context.Context) (string, error)
	SubmitApplication(ctx context.Context, sctx *SubmissionContext) error
	// KillApplication succeeds if the Application does not exist.
	KillApplication(ctx context.Context, applicationID string) error
	// ListApplications lists the Applications of the given types, or of all
	// types if none is given.
	ListApplications(
		ctx context.Context, applicationTypes ...string) ([]*ApplicationReport, error)
	// GetApplicationReport returns an error satisfying IsApplicationNotFound
	// if the Application does not exist.
	GetApplicationReport(
		ctx context.Context, applicationID string) (*ApplicationReport, error)
}

///////////////////////////////////////////////////////////////////////////////////////
// Errors
///////////////////////////////////////////////////////////////////////////////////////
var ErrApplicationNotFound = errors.New("Application is not found")

func IsApplicationNotFound(err error) bool {
	return errors.Cause(err) == ErrApplicationNotFound
}

type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "ProtocolError: " + e.Err.Error()
}

func (e *ProtocolError) Cause() error {
	return e.Err
}

type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return "IOError: " + e.Err.Error()
}

func (e *IOError) Cause() error {
	return e.Err
}

func IsProtocolError(err error) bool {
	return findError(err, func(err error) bool {
		_, ok := err.(*ProtocolError)
		return ok
	})
}

func IsIOError(err error) bool {
	return findError(err, func(err error) bool {
		_, ok := err.(*IOError)
		return ok
	})
}

// findError walks through the wrapped errors, since a ProtocolError or an
// IOError may be wrapped with more context.
func findError(err error, match func(err error) bool) bool {
	type causer interface {
		Cause() error
	}
	for err != nil {
		if match(err) {
			return true
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}
