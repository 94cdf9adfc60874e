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
	"sort"

	"github.com/google/uuid"
	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	core "k8s.io/api/core/v1"
	apiErrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	kubeClient "k8s.io/client-go/kubernetes"
)

const (
	applicationIDPrefix = "launcher-app-"
	labelKeyQueue       = "frameworklauncher.microsoft.com/queue"
	annotationKeyUser   = "frameworklauncher.microsoft.com/user"
)

// KubeClient runs each Application as a Pod whose name is the ApplicationID,
// and whose only Container is the ApplicationMaster.
// The AMDiagnostics is carried by the termination message of the
// ApplicationMaster Container.
type KubeClient struct {
	kClient   kubeClient.Interface
	namespace string
}

func NewKubeClient(kClient kubeClient.Interface, namespace string) *KubeClient {
	return &KubeClient{kClient: kClient, namespace: namespace}
}

func (c *KubeClient) CreateApplication(ctx context.Context) (string, error) {
	return applicationIDPrefix + uuid.New().String(), nil
}

func (c *KubeClient) SubmitApplication(ctx context.Context, sctx *SubmissionContext) error {
	pod := c.buildPod(sctx)
	_, err := c.kClient.CoreV1().Pods(c.namespace).Create(ctx, pod, meta.CreateOptions{})
	if err != nil {
		return classifyError(err)
	}
	log.Infof("[%v]: Submitted Application Pod", sctx.ApplicationID)
	return nil
}

func (c *KubeClient) buildPod(sctx *SubmissionContext) *core.Pod {
	annotations := map[string]string{
		ci.AnnotationKeyApplicationName: sctx.ApplicationName,
		annotationKeyUser:               sctx.User,
	}
	for k, v := range sctx.Annotations {
		annotations[k] = v
	}

	envNames := []string{}
	for name := range sctx.AMEnvironments {
		envNames = append(envNames, name)
	}
	sort.Strings(envNames)
	env := []core.EnvVar{}
	for _, name := range envNames {
		env = append(env, core.EnvVar{Name: name, Value: sctx.AMEnvironments[name]})
	}

	resources := core.ResourceList{}
	if sctx.AMResource.CpuNumber > 0 {
		resources[core.ResourceCPU] =
			*resource.NewQuantity(int64(sctx.AMResource.CpuNumber), resource.DecimalSI)
	}
	if sctx.AMResource.MemoryMB > 0 {
		resources[core.ResourceMemory] =
			*resource.NewQuantity(int64(sctx.AMResource.MemoryMB)*1024*1024, resource.BinarySI)
	}

	pod := &core.Pod{
		ObjectMeta: meta.ObjectMeta{
			Name:      sctx.ApplicationID,
			Namespace: c.namespace,
			Labels: map[string]string{
				ci.LabelKeyApplicationType: sctx.ApplicationType,
			},
			Annotations: annotations,
		},
		Spec: core.PodSpec{
			RestartPolicy: core.RestartPolicyNever,
			NodeName:      sctx.AMNodeName,
			Containers: []core.Container{{
				Name:    ci.AMContainerName,
				Image:   sctx.AMImage,
				Command: sctx.AMCommand,
				Env:     env,
				Resources: core.ResourceRequirements{
					Requests: resources,
					Limits:   resources,
				},
				TerminationMessagePolicy: core.TerminationMessageReadFile,
			}},
		},
	}
	if sctx.Queue != "" {
		pod.Labels[labelKeyQueue] = sctx.Queue
	}
	if sctx.Priority != 0 {
		priority := sctx.Priority
		pod.Spec.Priority = &priority
	}
	return pod
}

func (c *KubeClient) KillApplication(ctx context.Context, applicationID string) error {
	gracePeriod := int64(0)
	err := c.kClient.CoreV1().Pods(c.namespace).Delete(ctx, applicationID,
		meta.DeleteOptions{GracePeriodSeconds: &gracePeriod})
	if err != nil && !apiErrors.IsNotFound(err) {
		return classifyError(err)
	}
	log.Infof("[%v]: Killed Application Pod", applicationID)
	return nil
}

func (c *KubeClient) ListApplications(
	ctx context.Context, applicationTypes ...string) ([]*ApplicationReport, error) {
	selector := labels.NewSelector()
	if len(applicationTypes) > 0 {
		req, err := labels.NewRequirement(
			ci.LabelKeyApplicationType, selection.In, applicationTypes)
		if err != nil {
			return nil, &ProtocolError{Err: err}
		}
		selector = selector.Add(*req)
	} else {
		req, err := labels.NewRequirement(
			ci.LabelKeyApplicationType, selection.Exists, nil)
		if err != nil {
			// Unreachable
			panic(err)
		}
		selector = selector.Add(*req)
	}

	pods, err := c.kClient.CoreV1().Pods(c.namespace).List(ctx,
		meta.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, classifyError(err)
	}

	reports := []*ApplicationReport{}
	for i := range pods.Items {
		reports = append(reports, ToApplicationReport(&pods.Items[i]))
	}
	return reports, nil
}

func (c *KubeClient) GetApplicationReport(
	ctx context.Context, applicationID string) (*ApplicationReport, error) {
	pod, err := c.kClient.CoreV1().Pods(c.namespace).Get(ctx, applicationID, meta.GetOptions{})
	if apiErrors.IsNotFound(err) {
		return nil, errors.Wrapf(ErrApplicationNotFound, "Application %v", applicationID)
	} else if err != nil {
		return nil, classifyError(err)
	}
	return ToApplicationReport(pod), nil
}

// classifyError tells whether the api request itself is rejected.
func classifyError(err error) error {
	if apiErrors.IsInvalid(err) ||
		apiErrors.IsBadRequest(err) ||
		apiErrors.IsForbidden(err) ||
		apiErrors.IsUnauthorized(err) ||
		apiErrors.IsAlreadyExists(err) ||
		apiErrors.IsMethodNotSupported(err) ||
		apiErrors.IsNotAcceptable(err) ||
		apiErrors.IsRequestEntityTooLargeError(err) {
		return &ProtocolError{Err: err}
	}
	return &IOError{Err: err}
}

// ToApplicationReport converts the Application Pod to its report:
//   Pending -> ACCEPTED / UNDEFINED
//   Running or Unknown -> RUNNING / UNDEFINED
//   Succeeded -> FINISHED / SUCCEEDED
//   Failed -> FINISHED / FAILED
//   Deleting and not completed -> KILLED / KILLED
func ToApplicationReport(pod *core.Pod) *ApplicationReport {
	report := &ApplicationReport{
		ApplicationID:   pod.Name,
		ApplicationName: pod.Annotations[ci.AnnotationKeyApplicationName],
		ApplicationType: pod.Labels[ci.LabelKeyApplicationType],
		StartTime:       pod.Status.StartTime,
	}

	switch pod.Status.Phase {
	case core.PodSucceeded:
		report.State, report.FinalStatus = ApplicationFinished, FinalStatusSucceeded
	case core.PodFailed:
		report.State, report.FinalStatus = ApplicationFinished, FinalStatusFailed
	case core.PodRunning, core.PodUnknown:
		report.State, report.FinalStatus = ApplicationRunning, FinalStatusUndefined
	default:
		report.State, report.FinalStatus = ApplicationAccepted, FinalStatusUndefined
	}
	if pod.DeletionTimestamp != nil && report.FinalStatus == FinalStatusUndefined {
		report.State, report.FinalStatus = ApplicationKilled, FinalStatusKilled
		report.FinishTime = pod.DeletionTimestamp
	}

	for _, status := range pod.Status.ContainerStatuses {
		if status.Name != ci.AMContainerName {
			continue
		}
		if terminated := status.State.Terminated; terminated != nil {
			report.Diagnostics = terminated.Message
			finishTime := terminated.FinishedAt
			report.FinishTime = &finishTime
		}
	}
	if report.Diagnostics == "" && pod.Status.Message != "" {
		report.Diagnostics = fmt.Sprintf("%v: %v", pod.Status.Reason, pod.Status.Message)
	}
	if pod.Status.PodIP != "" {
		report.TrackingURL = fmt.Sprintf("http://%v", pod.Status.PodIP)
	}
	return report
}
