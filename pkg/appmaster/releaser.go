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

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	apiErrors "k8s.io/apimachinery/pkg/api/errors"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubeClient "k8s.io/client-go/kubernetes"
)

// ContainerReleaser releases a Container which is no longer owned by any Task.
// It should succeed if the Container does not exist.
type ContainerReleaser interface {
	ReleaseContainer(ctx context.Context, containerID string) error
}

// OutstandingObserver is told when the outstanding Tasks need Containers, and
// when a pending ContainerRequest is no longer needed.
type OutstandingObserver interface {
	OnOutstandingTaskAppeared(round int32, count int)
	OnOutstandingTaskDisappeared(round int32)
	OnContainerRequestWithdrawn(locator ci.TaskStatusLocator, request *ci.ContainerRequest)
}

// PodContainerReleaser runs each Container as a Pod named by the ContainerID.
type PodContainerReleaser struct {
	kClient   kubeClient.Interface
	namespace string
}

func NewPodContainerReleaser(
	kClient kubeClient.Interface, namespace string) *PodContainerReleaser {
	return &PodContainerReleaser{kClient: kClient, namespace: namespace}
}

func (r *PodContainerReleaser) ReleaseContainer(ctx context.Context, containerID string) error {
	gracePeriod := int64(0)
	err := r.kClient.CoreV1().Pods(r.namespace).Delete(ctx, containerID,
		meta.DeleteOptions{GracePeriodSeconds: &gracePeriod})
	if err != nil && !apiErrors.IsNotFound(err) {
		return errors.Wrapf(err, "Failed to delete Pod %v", containerID)
	}
	return nil
}

type LoggingObserver struct{}

func (LoggingObserver) OnOutstandingTaskAppeared(round int32, count int) {
	log.Infof("Outstanding Tasks appeared: Round: %v, Count: %v", round, count)
}

func (LoggingObserver) OnOutstandingTaskDisappeared(round int32) {
	log.Infof("Outstanding Tasks disappeared: Round: %v", round)
}

func (LoggingObserver) OnContainerRequestWithdrawn(
	locator ci.TaskStatusLocator, request *ci.ContainerRequest) {
	log.Infof("%v: ContainerRequest withdrawn: Priority: %v", locator, request.Priority)
}
