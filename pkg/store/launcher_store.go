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

package store

import (
	"context"
	"encoding/json"
	"path"
	"sort"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/pkg/errors"
)

const (
	frameworksDirName   = "Frameworks"
	requestsDirName     = "Requests"
	taskRolesDirName    = "TaskRoles"
	frameworkStatusName = "FrameworkStatus"
	taskRoleStatusName  = "TaskRoleStatus"
	taskStatusesName    = "TaskStatuses"
)

// LauncherStore lays out the launcher records in a NodeStore:
//   {root}/Requests/{FrameworkName}
//   {root}/Frameworks/{FrameworkName}/FrameworkStatus
//   {root}/Frameworks/{FrameworkName}/TaskRoles/{TaskRoleName}/TaskRoleStatus
//   {root}/Frameworks/{FrameworkName}/TaskRoles/{TaskRoleName}/TaskStatuses
type LauncherStore struct {
	nodes   NodeStore
	rootDir string
}

func NewLauncherStore(nodes NodeStore, rootDir string) *LauncherStore {
	return &LauncherStore{nodes: nodes, rootDir: cleanPath(rootDir)}
}

func (s *LauncherStore) Close() error {
	return s.nodes.Close()
}

func (s *LauncherStore) requestPath(frameworkName string) string {
	return path.Join(s.rootDir, requestsDirName, frameworkName)
}

func (s *LauncherStore) frameworkDir(frameworkName string) string {
	return path.Join(s.rootDir, frameworksDirName, frameworkName)
}

func (s *LauncherStore) frameworkStatusPath(frameworkName string) string {
	return path.Join(s.frameworkDir(frameworkName), frameworkStatusName)
}

func (s *LauncherStore) taskRoleDir(frameworkName, taskRoleName string) string {
	return path.Join(s.frameworkDir(frameworkName), taskRolesDirName, taskRoleName)
}

func (s *LauncherStore) get(ctx context.Context, nodePath string, objAddr interface{}) error {
	data, err := s.nodes.GetData(ctx, nodePath)
	if err != nil {
		return err
	}
	err = json.Unmarshal(data, objAddr)
	if err != nil {
		return &CorruptedError{Path: nodePath, Err: err}
	}
	return nil
}

func (s *LauncherStore) set(ctx context.Context, nodePath string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		// Unreachable
		panic(errors.Wrapf(err, "Failed to marshal %v", nodePath))
	}
	return s.nodes.SetData(ctx, nodePath, data)
}

func (s *LauncherStore) deleteIfExists(ctx context.Context, nodePath string) error {
	err := s.nodes.DeleteNode(ctx, nodePath)
	if err != nil && !IsNoNode(err) {
		return err
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////////////
// Requests
///////////////////////////////////////////////////////////////////////////////////////
func (s *LauncherStore) GetFrameworkRequest(
	ctx context.Context, frameworkName string) (*ci.FrameworkRequest, error) {
	request := &ci.FrameworkRequest{}
	err := s.get(ctx, s.requestPath(frameworkName), request)
	if err != nil {
		return nil, err
	}
	return request, nil
}

// GetFrameworkRequests skips the corrupted requests, so that one bad request
// cannot block all the others.
func (s *LauncherStore) GetFrameworkRequests(
	ctx context.Context) (map[string]*ci.FrameworkRequest, []error, error) {
	requests := map[string]*ci.FrameworkRequest{}
	names, err := s.nodes.GetChildren(ctx, path.Join(s.rootDir, requestsDirName))
	if IsNoNode(err) {
		return requests, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	corruptions := []error{}
	for _, name := range names {
		request, err := s.GetFrameworkRequest(ctx, name)
		if IsNoNode(err) {
			continue
		} else if IsCorrupted(err) {
			corruptions = append(corruptions, err)
			continue
		} else if err != nil {
			return nil, nil, err
		}
		requests[name] = request
	}
	return requests, corruptions, nil
}

func (s *LauncherStore) SetFrameworkRequest(
	ctx context.Context, request *ci.FrameworkRequest) error {
	return s.set(ctx, s.requestPath(request.FrameworkName), request)
}

func (s *LauncherStore) DeleteFrameworkRequest(
	ctx context.Context, frameworkName string) error {
	return s.deleteIfExists(ctx, s.requestPath(frameworkName))
}

// ExistsFrameworkRequest tells whether the request of the exact
// FrameworkVersion still exists.
func (s *LauncherStore) ExistsFrameworkRequest(
	ctx context.Context, frameworkName string, frameworkVersion int32) (bool, error) {
	request, err := s.GetFrameworkRequest(ctx, frameworkName)
	if IsNoNode(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return request.Version() == frameworkVersion, nil
}

///////////////////////////////////////////////////////////////////////////////////////
// FrameworkStatuses
///////////////////////////////////////////////////////////////////////////////////////
func (s *LauncherStore) GetFrameworkStatus(
	ctx context.Context, frameworkName string) (*ci.FrameworkStatus, error) {
	status := &ci.FrameworkStatus{}
	err := s.get(ctx, s.frameworkStatusPath(frameworkName), status)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// GetFrameworkStatuses returns the names of the corrupted FrameworkStatuses
// beside the good ones.
func (s *LauncherStore) GetFrameworkStatuses(
	ctx context.Context) (map[string]*ci.FrameworkStatus, []string, error) {
	statuses := map[string]*ci.FrameworkStatus{}
	names, err := s.nodes.GetChildren(ctx, path.Join(s.rootDir, frameworksDirName))
	if IsNoNode(err) {
		return statuses, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	corrupted := []string{}
	for _, name := range names {
		status, err := s.GetFrameworkStatus(ctx, name)
		if IsNoNode(err) {
			// Only TaskRoles are left, such as the FrameworkStatus is deleted
			// during the ApplicationMaster is pushing.
			corrupted = append(corrupted, name)
			continue
		} else if IsCorrupted(err) {
			corrupted = append(corrupted, name)
			continue
		} else if err != nil {
			return nil, nil, err
		}
		statuses[name] = status
	}
	return statuses, corrupted, nil
}

func (s *LauncherStore) SetFrameworkStatus(
	ctx context.Context, status *ci.FrameworkStatus) error {
	return s.set(ctx, s.frameworkStatusPath(status.FrameworkName), status)
}

// DeleteFrameworkStatus deletes the FrameworkStatus together with all its
// TaskRoleStatuses and TaskStatuses.
func (s *LauncherStore) DeleteFrameworkStatus(
	ctx context.Context, frameworkName string) error {
	return s.deleteIfExists(ctx, s.frameworkDir(frameworkName))
}

///////////////////////////////////////////////////////////////////////////////////////
// TaskStatuses
///////////////////////////////////////////////////////////////////////////////////////

// GetAggregatedFrameworkStatus returns ErrNoNode if the FrameworkStatus does
// not exist, and CorruptedError if the FrameworkStatus itself is corrupted.
// TaskRoles are checked one by one, so a half written TaskRole never hides
// the others:
// A TaskRole whose TaskStatuses is missing or corrupted is returned in the
// corrupted TaskRole names instead of the AggregatedFrameworkStatus.
// A TaskRole whose TaskRoleStatus is missing or corrupted is returned with a
// nil TaskRoleStatus, since it can be rebuilt from its TaskStatuses.
func (s *LauncherStore) GetAggregatedFrameworkStatus(
	ctx context.Context, frameworkName string) (
	*ci.AggregatedFrameworkStatus, []string, error) {
	frameworkStatus, err := s.GetFrameworkStatus(ctx, frameworkName)
	if err != nil {
		return nil, nil, err
	}

	aggStatus := &ci.AggregatedFrameworkStatus{
		FrameworkStatus:            frameworkStatus,
		AggregatedTaskRoleStatuses: map[string]*ci.AggregatedTaskRoleStatus{},
	}
	corruptedTaskRoleNames := []string{}
	taskRoleNames, err := s.nodes.GetChildren(ctx,
		path.Join(s.frameworkDir(frameworkName), taskRolesDirName))
	if IsNoNode(err) {
		return aggStatus, corruptedTaskRoleNames, nil
	} else if err != nil {
		return nil, nil, err
	}
	sort.Strings(taskRoleNames)

	for _, taskRoleName := range taskRoleNames {
		taskRoleDir := s.taskRoleDir(frameworkName, taskRoleName)
		taskStatuses := &ci.TaskStatuses{}
		err := s.get(ctx, path.Join(taskRoleDir, taskStatusesName), taskStatuses)
		if IsNoNode(err) || IsCorrupted(err) {
			corruptedTaskRoleNames = append(corruptedTaskRoleNames, taskRoleName)
			continue
		} else if err != nil {
			return nil, nil, err
		}

		taskRoleStatus := &ci.TaskRoleStatus{}
		err = s.get(ctx, path.Join(taskRoleDir, taskRoleStatusName), taskRoleStatus)
		if IsNoNode(err) || IsCorrupted(err) {
			taskRoleStatus = nil
		} else if err != nil {
			return nil, nil, err
		}

		aggStatus.AggregatedTaskRoleStatuses[taskRoleName] = &ci.AggregatedTaskRoleStatus{
			TaskRoleStatus: taskRoleStatus,
			TaskStatuses:   taskStatuses,
		}
	}
	return aggStatus, corruptedTaskRoleNames, nil
}

func (s *LauncherStore) SetTaskRoleStatus(
	ctx context.Context, frameworkName string, status *ci.TaskRoleStatus) error {
	return s.set(ctx, path.Join(
		s.taskRoleDir(frameworkName, status.TaskRoleName), taskRoleStatusName), status)
}

func (s *LauncherStore) SetTaskStatuses(
	ctx context.Context, frameworkName string, statuses *ci.TaskStatuses) error {
	return s.set(ctx, path.Join(
		s.taskRoleDir(frameworkName, statuses.TaskRoleName), taskStatusesName), statuses)
}

// DeleteTaskRoleStatus deletes the TaskRoleStatus and TaskStatuses of the
// TaskRole, but keeps the other TaskRoles.
func (s *LauncherStore) DeleteTaskRoleStatus(
	ctx context.Context, frameworkName string, taskRoleName string) error {
	return s.deleteIfExists(ctx, s.taskRoleDir(frameworkName, taskRoleName))
}
