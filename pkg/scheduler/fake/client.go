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

// Package fake provides an in-memory scheduler.Client for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/microsoft/frameworklauncher/pkg/scheduler"
	"github.com/pkg/errors"
)

type Client struct {
	lock    sync.Mutex
	nextID  int
	reports map[string]*scheduler.ApplicationReport

	// Submitted contexts in the submission order.
	Submitted []*scheduler.SubmissionContext
	Killed    []string

	// Injected errors, nil means to succeed.
	CreateErr error
	SubmitErr error
	KillErr   error
	ListErr   error
	GetErr    error
}

var _ scheduler.Client = &Client{}

func NewClient() *Client {
	return &Client{reports: map[string]*scheduler.ApplicationReport{}}
}

func (c *Client) CreateApplication(ctx context.Context) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.CreateErr != nil {
		return "", c.CreateErr
	}
	c.nextID++
	return fmt.Sprintf("application_%04d", c.nextID), nil
}

func (c *Client) SubmitApplication(ctx context.Context, sctx *scheduler.SubmissionContext) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.SubmitErr != nil {
		return c.SubmitErr
	}
	c.Submitted = append(c.Submitted, sctx)
	c.reports[sctx.ApplicationID] = &scheduler.ApplicationReport{
		ApplicationID:   sctx.ApplicationID,
		ApplicationName: sctx.ApplicationName,
		ApplicationType: sctx.ApplicationType,
		State:           scheduler.ApplicationSubmitted,
		FinalStatus:     scheduler.FinalStatusUndefined,
	}
	return nil
}

func (c *Client) KillApplication(ctx context.Context, applicationID string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.KillErr != nil {
		return c.KillErr
	}
	c.Killed = append(c.Killed, applicationID)
	if report, ok := c.reports[applicationID]; ok &&
		report.FinalStatus == scheduler.FinalStatusUndefined {
		report.State = scheduler.ApplicationKilled
		report.FinalStatus = scheduler.FinalStatusKilled
	}
	return nil
}

func (c *Client) ListApplications(
	ctx context.Context, applicationTypes ...string) ([]*scheduler.ApplicationReport, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}

	types := map[string]bool{}
	for _, t := range applicationTypes {
		types[t] = true
	}
	reports := []*scheduler.ApplicationReport{}
	for _, report := range c.reports {
		if len(types) == 0 || types[report.ApplicationType] {
			copied := *report
			reports = append(reports, &copied)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ApplicationID < reports[j].ApplicationID
	})
	return reports, nil
}

func (c *Client) GetApplicationReport(
	ctx context.Context, applicationID string) (*scheduler.ApplicationReport, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	report, ok := c.reports[applicationID]
	if !ok {
		return nil, errors.Wrapf(scheduler.ErrApplicationNotFound, "Application %v", applicationID)
	}
	copied := *report
	return &copied, nil
}

// SetApplicationReport adds or replaces the Application.
func (c *Client) SetApplicationReport(report *scheduler.ApplicationReport) {
	c.lock.Lock()
	defer c.lock.Unlock()
	copied := *report
	c.reports[report.ApplicationID] = &copied
}

// RemoveApplication makes the Application unknown to the scheduler.
func (c *Client) RemoveApplication(applicationID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.reports, applicationID)
}

// SetErrors replaces all injected errors under the lock.
func (c *Client) SetErrors(createErr, submitErr, killErr, listErr, getErr error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.CreateErr, c.SubmitErr, c.KillErr, c.ListErr, c.GetErr =
		createErr, submitErr, killErr, listErr, getErr
}

func (c *Client) GetSubmitted() []*scheduler.SubmissionContext {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*scheduler.SubmissionContext{}, c.Submitted...)
}

func (c *Client) GetKilled() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.Killed...)
}
