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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go"
	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/metrics"
	"github.com/microsoft/frameworklauncher/pkg/queue"
	"github.com/microsoft/frameworklauncher/pkg/resync"
	"github.com/microsoft/frameworklauncher/pkg/retrypolicy"
	"github.com/microsoft/frameworklauncher/pkg/scheduler"
	"github.com/microsoft/frameworklauncher/pkg/status"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	errorAgg "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
)

const frameworkQueueName = "FrameworkQueue"

// Store is the durable storage of the FrameworkRequests and the
// FrameworkStatuses, such as the store.LauncherStore.
type Store interface {
	status.FrameworkStatusPersister
	GetFrameworkRequests(
		ctx context.Context) (map[string]*ci.FrameworkRequest, []error, error)
	GetFrameworkRequest(
		ctx context.Context, frameworkName string) (*ci.FrameworkRequest, error)
}

// FrameworkController drives all Frameworks of the launcher to satisfy their
// FrameworkRequests, each Framework by at most one live Application in the
// scheduler at any point in time.
//
// All FrameworkState transitions are executed on the serial fQueue, so they
// are ordered even if they are triggered by the request pulls, the resyncs,
// the async submissions and the async diagnostics retrievals concurrently.
// A queued Op must double check its input is still valid when it is executed,
// such as by FrameworkStatusStore.ContainsFramework.
type FrameworkController struct {
	cConfig        *ci.Config
	store          Store
	client         scheduler.Client
	contextBuilder ContextBuilder

	fStore     *status.FrameworkStatusStore
	reconciler *resync.Reconciler
	fQueue     *queue.SerialTaskQueue

	onException func(err error)

	// FrameworkName -> the RetryAfter decision which is waiting for its delay.
	// Only accessed in the fQueue.
	pendingRetries map[string]*pendingRetry

	// Canceled by Stop to abort the scheduler calls and the async retries.
	ctx    context.Context
	cancel context.CancelFunc
	// Tracks the goroutines which work off the fQueue.
	asyncWG sync.WaitGroup
	// Closed once Run is called.
	started     chan struct{}
	startedOnce sync.Once
}

type pendingRetry struct {
	snapshot            *ci.FrameworkStatus
	newRetryPolicyState ci.RetryPolicyState
}

func NewFrameworkController(
	cConfig *ci.Config, store Store, client scheduler.Client,
	contextBuilder ContextBuilder) *FrameworkController {
	ctx, cancel := context.WithCancel(context.Background())
	fStore := status.NewFrameworkStatusStore(store)
	c := &FrameworkController{
		cConfig:        cConfig,
		store:          store,
		client:         client,
		contextBuilder: contextBuilder,
		fStore:         fStore,
		reconciler:     resync.NewReconciler(client, fStore),
		ctx:            ctx,
		cancel:         cancel,
		started:        make(chan struct{}),
		pendingRetries: map[string]*pendingRetry{},
		onException: func(err error) {
			log.Errorf("Unhandled exception: %v", err)
		},
	}
	c.fQueue = queue.NewSerialTaskQueue(frameworkQueueName, c.handleQueueError)
	return c
}

///////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
///////////////////////////////////////////////////////////////////////////////////////

// Initialize sets the handler of the exceptions which the controller cannot
// handle by itself, such as a failed Op of the fQueue.
func (c *FrameworkController) Initialize(onException func(err error)) error {
	log.Infof("Initializing FrameworkController")
	if onException != nil {
		c.onException = onException
	}
	return nil
}

// Recover must be called before Run.
func (c *FrameworkController) Recover(ctx context.Context) error {
	logPfx := "FrameworkController: Recover: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	err := c.fStore.Recover(ctx)
	if err != nil {
		return err
	}

	err = c.reviseCorruptedFrameworkStates()
	if err != nil {
		return err
	}
	c.recoverFrameworkQueue()
	return nil
}

func (c *FrameworkController) Run(stopCh <-chan struct{}) {
	defer log.Errorf("Stopping FrameworkController")
	defer runtime.HandleCrash()

	c.startedOnce.Do(func() { close(c.started) })
	log.Infof("Running FrameworkController")

	go c.fQueue.Run(stopCh)
	go c.fStore.Run(c.cConfig.ServiceStatusPushIntervalSec, stopCh, c.handlePushError)
	go wait.Until(c.pullFrameworkRequests,
		common.SecToDuration(c.cConfig.ServiceRequestPullIntervalSec), stopCh)
	go wait.Until(c.recordMetrics,
		common.SecToDuration(c.cConfig.ServiceStatusPushIntervalSec), stopCh)

	// All the previous ApplicationLaunched, ApplicationWaiting and
	// ApplicationRunning Frameworks are driven by the resyncs.
	c.enqueueResync(0)

	<-stopCh
}

// Stop waits the running Op to finish, then pushes the FrameworkStatuses for
// the last time.
func (c *FrameworkController) Stop(ctx context.Context) error {
	logPfx := "FrameworkController: Stop: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	c.cancel()
	c.fQueue.Shutdown()
	select {
	case <-c.started:
		c.fQueue.WaitForShutdown()
	default:
	}
	c.asyncWG.Wait()

	return c.fStore.PushStatus(ctx)
}

func (c *FrameworkController) handleQueueError(err error) {
	metrics.RecordQueueFailure(frameworkQueueName)
	c.onException(err)
}

// A transient push failure is retried by the next push.
func (c *FrameworkController) handlePushError(err error) {
	if common.IsNonTransient(err) {
		c.onException(err)
	} else {
		log.Warnf("Failed to push FrameworkStatuses, will retry later: %v", err)
	}
}

func (c *FrameworkController) recordMetrics() {
	counts := map[string]int{}
	for state, count := range c.fStore.GetFrameworkStateCounters() {
		counts[string(state)] = count
	}
	metrics.SetFrameworkStateCounts(counts)
	metrics.SetLiveApplicationCount(len(c.fStore.GetLiveAssociatedApplicationIDs()))
	metrics.SetQueueLength(frameworkQueueName, c.fQueue.Len())
}

///////////////////////////////////////////////////////////////////////////////////////
// Recovery
///////////////////////////////////////////////////////////////////////////////////////

// The SubmissionContext of an ApplicationCreated Framework is lost with the
// previous process, so it is revised to ApplicationLaunched.
// Misjudging a live Application as not live would violate the single live
// Application guarantee, while a misjudged not live Application is completed
// by the resync eventually.
func (c *FrameworkController) reviseCorruptedFrameworkStates() error {
	logPfx := "reviseCorruptedFrameworkStates: "
	for _, frameworkStatus := range c.fStore.GetFrameworkStatuses(ci.ApplicationCreated) {
		log.Infof(logPfx+"[%v]: Revise Application %v to %v",
			frameworkStatus.FrameworkName, frameworkStatus.ApplicationIDOrEmpty(),
			ci.ApplicationLaunched)
		err := c.fStore.TransitionFrameworkState(
			frameworkStatus.FrameworkName, ci.ApplicationLaunched, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// The pending works of the QueueCorruptedAfterRestartStates are queued once per
// FrameworkState instead of once per Framework.
func (c *FrameworkController) recoverFrameworkQueue() {
	log.Infof("recoverFrameworkQueue: %v", ci.QueueCorruptedAfterRestartStates.Items())

	c.fQueue.Enqueue(c.createApplications)
	c.fQueue.Enqueue(c.retrieveApplicationExitDiagnosticsOfAll)
	c.fQueue.Enqueue(c.attemptToRetryAll)
}

///////////////////////////////////////////////////////////////////////////////////////
// Requests
///////////////////////////////////////////////////////////////////////////////////////
func (c *FrameworkController) pullFrameworkRequests() {
	logPfx := "pullFrameworkRequests: "

	requests, corruptions, err := c.store.GetFrameworkRequests(c.ctx)
	if err != nil {
		log.Warnf(logPfx+"Failed to get FrameworkRequests, will retry later: %v", err)
		return
	}
	for _, corruption := range corruptions {
		log.Warnf(logPfx+"Skipped corrupted FrameworkRequest: %v", corruption)
	}
	for name, request := range requests {
		if request.FrameworkDescriptor == nil {
			log.Warnf(logPfx+"[%v]: Skipped FrameworkRequest without FrameworkDescriptor", name)
			delete(requests, name)
		}
	}

	c.onFrameworkRequestsUpdated(requests)
}

// onFrameworkRequestsUpdated takes a snapshot of all FrameworkRequests, i.e.
// FrameworkName -> FrameworkRequest.
func (c *FrameworkController) onFrameworkRequestsUpdated(requests map[string]*ci.FrameworkRequest) {
	log.Infof("onFrameworkRequestsUpdated: FrameworkRequests: [%v]", len(requests))
	c.fQueue.Enqueue(func() error {
		return c.updateFrameworkRequests(requests)
	})
}

func (c *FrameworkController) updateFrameworkRequests(requests map[string]*ci.FrameworkRequest) error {
	// Remove the Frameworks whose request is deleted or upgraded
	for _, name := range c.fStore.GetFrameworkNames() {
		frameworkStatus := c.fStore.GetFrameworkStatus(name)
		request, ok := requests[name]
		if ok && request.Version() == frameworkStatus.FrameworkVersion {
			continue
		}

		err := c.onFrameworkToRemove(frameworkStatus, ok)
		if err != nil {
			return err
		}
		err = c.fStore.RemoveFramework(c.ctx, name)
		if err != nil {
			return err
		}
	}

	names := []string{}
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	// Add the new Frameworks, including the upgraded ones
	for _, name := range names {
		if c.fStore.GetFrameworkStatus(name) == nil {
			c.fStore.AddFramework(requests[name])
		}
	}

	// Stop the Frameworks requested to stop
	for _, name := range names {
		if !requests[name].IsStopRequested() {
			continue
		}
		frameworkStatus := c.fStore.GetFrameworkStatus(name)
		if frameworkStatus.FrameworkState == ci.FrameworkCompleted {
			continue
		}
		err := c.onFrameworkToStop(frameworkStatus)
		if err != nil {
			return err
		}
	}

	return c.createApplications()
}

// onFrameworkToRemove kills the live Application before the Framework is
// removed. It is already executed in the fQueue.
func (c *FrameworkController) onFrameworkToRemove(
	frameworkStatus *ci.FrameworkStatus, usedToUpgrade bool) error {
	log.Infof("[%v]: onFrameworkToRemove: FrameworkVersion: %v, UsedToUpgrade: %v",
		frameworkStatus.FrameworkName, frameworkStatus.FrameworkVersion, usedToUpgrade)
	delete(c.pendingRetries, frameworkStatus.FrameworkName)

	if frameworkStatus.IsApplicationLiveAssociated() {
		// No need to complete the Application, since the Framework is to be removed.
		return c.killApplication(*frameworkStatus.ApplicationID)
	}
	return nil
}

// onFrameworkToStop completes the Framework with its Application killed.
// It is already executed in the fQueue.
func (c *FrameworkController) onFrameworkToStop(frameworkStatus *ci.FrameworkStatus) error {
	name := frameworkStatus.FrameworkName
	logPfx := fmt.Sprintf("[%v]: onFrameworkToStop: ", name)
	log.Infof(logPfx+"Stop Framework in %v", frameworkStatus.FrameworkState)

	if !frameworkStatus.IsApplicationAssociated() {
		// Ensure a stopped Framework is always associated with an Application,
		// so that the Application exit info always reflects the Framework exit
		// info.
		err := c.createApplication(name, true)
		if err != nil {
			return err
		}
	} else if frameworkStatus.IsApplicationLiveAssociated() {
		err := c.killApplication(*frameworkStatus.ApplicationID)
		if err != nil {
			return err
		}
	}

	frameworkStatus = c.fStore.GetFrameworkStatus(name)
	if frameworkStatus.FrameworkState != ci.ApplicationCompleted {
		err := c.fStore.TransitionFrameworkState(name, ci.ApplicationCompleted,
			status.EnterApplicationCompleted{
				ExitCode:    ci.ExitCodeAppStopFrameworkRequested,
				Diagnostics: "Framework is requested to stop",
			})
		if err != nil {
			return err
		}
		metrics.RecordApplicationCompletion(
			string(ci.LookupExitInfo(ci.ExitCodeAppStopFrameworkRequested).Type))
	}

	// The counter increased by a pending RetryAfter is still recorded, even
	// though the retry is abandoned.
	var newRetryPolicyState *ci.RetryPolicyState
	if pending, ok := c.pendingRetries[name]; ok {
		if c.fStore.ContainsFramework(pending.snapshot) {
			log.Infof(logPfx+"Abandon the pending retry with NewRetryPolicyState: %v",
				common.ToJson(pending.newRetryPolicyState))
			newRetryPolicyState = &pending.newRetryPolicyState
		}
		delete(c.pendingRetries, name)
	}
	return c.completeFramework(name, newRetryPolicyState)
}

///////////////////////////////////////////////////////////////////////////////////////
// FrameworkStateMachine
// Must be executed in the fQueue.
///////////////////////////////////////////////////////////////////////////////////////
func (c *FrameworkController) createApplications() error {
	errs := []error{}
	for _, frameworkStatus := range c.fStore.GetFrameworkStatuses(ci.FrameworkWaiting) {
		errs = append(errs, c.createApplication(frameworkStatus.FrameworkName, false))
	}
	return errorAgg.NewAggregate(errs)
}

// createApplication associates a new Application with the FrameworkWaiting
// Framework, and then submits it asynchronously unless it is a placeholder.
// A placeholder Application is never submitted.
func (c *FrameworkController) createApplication(frameworkName string, isPlaceholder bool) error {
	logPfx := fmt.Sprintf("[%v]: createApplication: ", frameworkName)

	frameworkStatus := c.fStore.GetFrameworkStatus(frameworkName)
	if frameworkStatus == nil || frameworkStatus.FrameworkState != ci.FrameworkWaiting {
		log.Warnf(logPfx+"Skipped: Framework is not in %v", ci.FrameworkWaiting)
		return nil
	}

	applicationID, err := c.client.CreateApplication(c.ctx)
	if err != nil {
		return errors.Wrapf(err, logPfx+"Failed to create Application")
	}
	err = c.fStore.TransitionFrameworkState(frameworkName, ci.ApplicationCreated,
		status.EnterApplicationCreated{ApplicationID: applicationID})
	if err != nil {
		return err
	}
	log.Infof(logPfx+"Created Application %v, IsPlaceholder: %v",
		applicationID, isPlaceholder)

	if !isPlaceholder {
		snapshot := c.fStore.GetFrameworkStatus(frameworkName)
		c.asyncWG.Add(1)
		go func() {
			defer c.asyncWG.Done()
			c.setupApplicationContext(snapshot)
		}()
	}
	return nil
}

// setupApplicationContext builds the SubmissionContext off the fQueue, and
// retries since it may race with the Framework removal.
func (c *FrameworkController) setupApplicationContext(snapshot *ci.FrameworkStatus) {
	logPfx := fmt.Sprintf("[%v][%v][%v]: setupApplicationContext: ",
		snapshot.FrameworkName, snapshot.FrameworkVersion, snapshot.ApplicationIDOrEmpty())

	var sctx *scheduler.SubmissionContext
	skipped := ""
	err := c.retryFixed(logPfx,
		c.cConfig.ApplicationSetupContextMaxRetryCount,
		c.cConfig.ApplicationSetupContextRetryIntervalSec,
		func() error {
			sctx, skipped = nil, ""
			if !c.fStore.ContainsFramework(snapshot) {
				skipped = "Framework is changed"
				return nil
			}

			request, err := c.store.GetFrameworkRequest(c.ctx, snapshot.FrameworkName)
			if store.IsNoNode(err) {
				skipped = "FrameworkRequest is deleted"
				return nil
			} else if err != nil {
				return err
			}
			if request.FrameworkDescriptor == nil ||
				request.Version() != snapshot.FrameworkVersion {
				skipped = "FrameworkRequest is changed"
				return nil
			}

			sctx, err = c.contextBuilder.BuildSubmissionContext(snapshot, request)
			return err
		})

	if err != nil {
		if c.ctx.Err() != nil {
			log.Infof(logPfx+"Aborted: %v", err)
			return
		}
		c.onException(errors.Wrapf(err, logPfx+"Failed after retries"))
		return
	}
	if skipped != "" {
		log.Warnf(logPfx+"Skipped: %v", skipped)
		return
	}

	c.fQueue.Enqueue(func() error {
		return c.launchApplication(snapshot, sctx)
	})
}

func (c *FrameworkController) launchApplication(
	snapshot *ci.FrameworkStatus, sctx *scheduler.SubmissionContext) error {
	name := snapshot.FrameworkName
	applicationID := sctx.ApplicationID
	logPfx := fmt.Sprintf("[%v][%v][%v]: launchApplication: ",
		name, snapshot.FrameworkVersion, applicationID)

	if !c.fStore.ContainsFramework(snapshot) {
		log.Warnf(logPfx + "Skipped: Framework is changed")
		return nil
	}

	log.Infof(logPfx+"Submitting: ApplicationName: %v, Queue: %v, AMResource: %v",
		sctx.ApplicationName, sctx.Queue, common.ToJson(sctx.AMResource))
	err := c.client.SubmitApplication(c.ctx, sctx)
	if err != nil {
		log.Warnf(logPfx+"Failed to submit: %v", err)

		// A ProtocolError is rejected by the scheduler itself, while an IOError
		// may not reach the scheduler.
		exitCode := ci.ExitCodeAppSubmissionUnknownError
		if scheduler.IsProtocolError(err) {
			exitCode = ci.ExitCodeAppSubmissionProtocolError
		} else if scheduler.IsIOError(err) {
			exitCode = ci.ExitCodeAppSubmissionIOError
		}
		return c.retrieveApplicationExitDiagnostics(
			applicationID, exitCode.Ptr(), err.Error(), true)
	}

	log.Infof(logPfx + "Submitted")
	return c.fStore.TransitionFrameworkState(name, ci.ApplicationLaunched, nil)
}

func (c *FrameworkController) retrieveApplicationExitDiagnosticsOfAll() error {
	errs := []error{}
	for _, frameworkStatus := range c.fStore.GetFrameworkStatuses(
		ci.ApplicationRetrievingDiagnostics) {
		// No need to kill, since the Application is already killed before
		// ApplicationRetrievingDiagnostics.
		var diagnostics string
		if frameworkStatus.ApplicationExitDiagnostics != nil {
			diagnostics = *frameworkStatus.ApplicationExitDiagnostics
		}
		errs = append(errs, c.retrieveApplicationExitDiagnostics(
			*frameworkStatus.ApplicationID, frameworkStatus.ApplicationExitCode,
			diagnostics, false))
	}
	return errorAgg.NewAggregate(errs)
}

// retrieveApplicationExitDiagnostics checkpoints the best known exit info of
// the Application, and retrieves the AMDiagnostics asynchronously if the
// ApplicationMaster is expected to leave more exit info.
// A nil exitCode means unknown, and an already checkpointed ExitCode is kept.
func (c *FrameworkController) retrieveApplicationExitDiagnostics(
	applicationID string, exitCode *ci.ExitCode, diagnostics string,
	needToKill bool) error {
	logPfx := fmt.Sprintf("[%v]: retrieveApplicationExitDiagnostics: ", applicationID)

	if needToKill {
		err := c.killApplication(applicationID)
		if err != nil {
			return err
		}
	}

	frameworkStatus := c.fStore.GetFrameworkStatusWithApplicationID(applicationID)
	if frameworkStatus == nil {
		log.Warnf(logPfx + "Skipped: Application is not associated")
		return nil
	}
	name := frameworkStatus.FrameworkName
	logPfx = fmt.Sprintf("[%v]", name) + logPfx
	if !frameworkStatus.IsApplicationLiveAssociated() &&
		frameworkStatus.FrameworkState != ci.ApplicationRetrievingDiagnostics {
		log.Warnf(logPfx+"Skipped: Framework is already in %v",
			frameworkStatus.FrameworkState)
		return nil
	}
	log.Infof(logPfx+"ExitCode: %v, ExitDiagnostics: %v, NeedToKill: %v",
		common.ToJson(exitCode), common.Quote(diagnostics), needToKill)

	err := c.fStore.TransitionFrameworkState(name, ci.ApplicationRetrievingDiagnostics,
		status.EnterApplicationRetrievingDiagnostics{
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
		})
	if err != nil {
		return err
	}

	exitCode = c.fStore.GetFrameworkStatus(name).ApplicationExitCode
	if exitCode == nil || *exitCode == ci.ExitCodeSucceeded {
		// The diagnostics must be the AMDiagnostics.
		if ci.IsAMDiagnosticsEmpty(diagnostics) {
			c.retrieveAMDiagnosticsAsync(applicationID)
			return nil
		}
	}

	return c.retrieveApplicationExitCode(applicationID, diagnostics, nil)
}

func (c *FrameworkController) retrieveAMDiagnosticsAsync(applicationID string) {
	logPfx := fmt.Sprintf("[%v]: retrieveAMDiagnosticsAsync: ", applicationID)

	c.asyncWG.Add(1)
	go func() {
		defer c.asyncWG.Done()
		log.Infof(logPfx + "Started")

		var amDiagnostics string
		retrieveErr := c.retryFixed(logPfx,
			c.cConfig.ApplicationRetrieveDiagnosticsMaxRetryCount,
			c.cConfig.ApplicationRetrieveDiagnosticsRetryIntervalSec,
			func() error {
				report, err := c.client.GetApplicationReport(c.ctx, applicationID)
				if err != nil {
					return err
				}
				if ci.IsAMDiagnosticsEmpty(report.Diagnostics) {
					return fmt.Errorf("AMDiagnostics of Application %v is empty", applicationID)
				}
				amDiagnostics = report.Diagnostics
				return nil
			})
		if retrieveErr != nil {
			if c.ctx.Err() != nil {
				log.Infof(logPfx+"Aborted: %v", retrieveErr)
				return
			}
			log.Warnf(logPfx+"Failed: %v", retrieveErr)
		} else {
			log.Infof(logPfx + "Succeeded")
		}

		c.fQueue.Enqueue(func() error {
			return c.retrieveApplicationExitCode(applicationID, amDiagnostics, retrieveErr)
		})
	}()
}

// retrieveApplicationExitCode completes the ApplicationRetrievingDiagnostics
// Application with the exit info derived from the diagnostics.
func (c *FrameworkController) retrieveApplicationExitCode(
	applicationID string, diagnostics string, retrieveErr error) error {
	logPfx := fmt.Sprintf("[%v]: retrieveApplicationExitCode: ", applicationID)

	frameworkStatus := c.fStore.GetFrameworkStatusWithApplicationID(applicationID)
	if frameworkStatus == nil {
		log.Warnf(logPfx + "Skipped: Application is not associated")
		return nil
	}
	if frameworkStatus.FrameworkState != ci.ApplicationRetrievingDiagnostics {
		log.Warnf(logPfx+"Skipped: Framework is in %v instead of %v",
			frameworkStatus.FrameworkState, ci.ApplicationRetrievingDiagnostics)
		return nil
	}

	event := status.EnterApplicationCompleted{Diagnostics: diagnostics}
	exitCode := frameworkStatus.ApplicationExitCode
	if exitCode == nil || *exitCode == ci.ExitCodeSucceeded {
		// The diagnostics must be the AMDiagnostics which contains more exit
		// info from the ApplicationMaster.
		amDiagnostics := toAMDiagnostics(diagnostics, retrieveErr)
		if exitCode == nil {
			exitCode = amDiagnostics.ApplicationExitCode
		}
		event.Diagnostics = amDiagnostics.ApplicationExitDiagnostics
		event.TriggerMessage = amDiagnostics.ApplicationExitTriggerMessage
		event.TriggerTaskRoleName = amDiagnostics.ApplicationExitTriggerTaskRoleName
		event.TriggerTaskIndex = amDiagnostics.ApplicationExitTriggerTaskIndex
	}
	if exitCode == nil {
		exitCode = ci.ExitCodeAMInternalUnknownError.Ptr()
	}
	event.ExitCode = *exitCode

	return c.completeApplication(frameworkStatus.FrameworkName, event)
}

func toAMDiagnostics(diagnostics string, retrieveErr error) *ci.AMDiagnostics {
	if ci.IsAMDiagnosticsEmpty(diagnostics) {
		return &ci.AMDiagnostics{
			ApplicationExitCode: ci.ExitCodeAppAMDiagnosticsLost.Ptr(),
			ApplicationExitDiagnostics: fmt.Sprintf(
				"Cannot get more exit info due to retrieved empty AMDiagnostics: %v",
				retrieveErr),
		}
	}

	amDiagnostics, err := ci.ParseAMDiagnostics(diagnostics)
	if err != nil {
		return &ci.AMDiagnostics{
			ApplicationExitCode: ci.ExitCodeAppAMDiagnosticsDeserializationFailed.Ptr(),
			ApplicationExitDiagnostics: fmt.Sprintf(
				"Cannot get more exit info due to failed to deserialize AMDiagnostics: %v"+
					"\nAMDiagnostics:\n[%v]", err, diagnostics),
		}
	}
	return amDiagnostics
}

func (c *FrameworkController) completeApplication(
	frameworkName string, event status.EnterApplicationCompleted) error {
	common.LogLines("[%v]: completeApplication: ExitCode: %v, ExitDiagnostics: %v, "+
		"TriggerMessage: %v, TriggerTaskRoleName: %v, TriggerTaskIndex: %v",
		frameworkName, event.ExitCode, event.Diagnostics, event.TriggerMessage,
		event.TriggerTaskRoleName, common.ToJson(event.TriggerTaskIndex))

	err := c.fStore.TransitionFrameworkState(frameworkName, ci.ApplicationCompleted, event)
	if err != nil {
		return err
	}
	metrics.RecordApplicationCompletion(string(ci.LookupExitInfo(event.ExitCode).Type))
	return c.attemptToRetry(frameworkName)
}

func (c *FrameworkController) attemptToRetryAll() error {
	errs := []error{}
	for _, frameworkStatus := range c.fStore.GetFrameworkStatuses(ci.ApplicationCompleted) {
		errs = append(errs, c.attemptToRetry(frameworkStatus.FrameworkName))
	}
	return errorAgg.NewAggregate(errs)
}

// attemptToRetry applies the Framework RetryPolicy to the ApplicationCompleted
// Framework.
func (c *FrameworkController) attemptToRetry(frameworkName string) error {
	logPfx := fmt.Sprintf("[%v]: attemptToRetry: ", frameworkName)

	frameworkStatus := c.fStore.GetFrameworkStatus(frameworkName)
	if frameworkStatus == nil || frameworkStatus.FrameworkState != ci.ApplicationCompleted {
		log.Warnf(logPfx+"Skipped: Framework is not in %v", ci.ApplicationCompleted)
		return nil
	}

	request, err := c.store.GetFrameworkRequest(c.ctx, frameworkName)
	if store.IsNoNode(err) {
		log.Warnf(logPfx + "Skipped: FrameworkRequest is deleted")
		return nil
	} else if err != nil {
		return errors.Wrapf(err, logPfx+"Failed to get FrameworkRequest")
	}
	if request.FrameworkDescriptor == nil ||
		request.Version() != frameworkStatus.FrameworkVersion {
		log.Warnf(logPfx + "Skipped: FrameworkRequest is changed")
		return nil
	}

	exitType := ci.ExitTypeUnknown
	if frameworkStatus.ApplicationExitType != nil {
		exitType = *frameworkStatus.ApplicationExitType
	}
	decision := retrypolicy.Decide(
		exitType,
		frameworkStatus.FrameworkRetryPolicyState,
		request.FrameworkDescriptor.RetryPolicy,
		*c.cConfig.ApplicationTransientConflictMinDelaySec,
		*c.cConfig.ApplicationTransientConflictMaxDelaySec)
	metrics.RecordRetryDecision(string(decision.Action))
	log.Infof(logPfx+"ApplicationExitCode: %v, ApplicationExitType: %v, Decision: %v",
		common.ToJson(frameworkStatus.ApplicationExitCode), exitType, decision)

	newRetryPolicyState := decision.NewRetryPolicyState
	switch decision.Action {
	case retrypolicy.RetryNow:
		return c.retryFramework(frameworkStatus, newRetryPolicyState)
	case retrypolicy.RetryAfter:
		pending := &pendingRetry{
			snapshot:            frameworkStatus,
			newRetryPolicyState: newRetryPolicyState,
		}
		c.pendingRetries[frameworkName] = pending
		c.fQueue.EnqueueDelayed(func() error {
			if c.pendingRetries[frameworkName] == pending {
				delete(c.pendingRetries, frameworkName)
			}
			return c.retryFramework(frameworkStatus, newRetryPolicyState)
		}, time.Duration(decision.DelaySec)*time.Second)
		return nil
	case retrypolicy.Complete:
		return c.completeFramework(frameworkName, &newRetryPolicyState)
	default:
		// Unreachable
		panic(fmt.Errorf(logPfx+"Unknown RetryPolicy Action %v", decision.Action))
	}
}

func (c *FrameworkController) retryFramework(
	snapshot *ci.FrameworkStatus, newRetryPolicyState ci.RetryPolicyState) error {
	name := snapshot.FrameworkName
	logPfx := fmt.Sprintf("[%v][%v]: retryFramework: ", name, snapshot.FrameworkVersion)

	if !c.fStore.ContainsFramework(snapshot) {
		log.Warnf(logPfx + "Skipped: Framework is changed")
		return nil
	}

	log.Infof(logPfx+"NewRetryPolicyState: %v", common.ToJson(newRetryPolicyState))
	err := c.fStore.TransitionFrameworkState(name, ci.FrameworkWaiting,
		status.EnterFrameworkWaitingForRetry{RetryPolicyState: newRetryPolicyState})
	if err != nil {
		return err
	}
	return c.createApplication(name, false)
}

func (c *FrameworkController) completeFramework(
	frameworkName string, newRetryPolicyState *ci.RetryPolicyState) error {
	common.LogLines("[%v]: completeFramework: FrameworkStatus:\n%v",
		frameworkName, common.ToYaml(c.fStore.GetFrameworkStatus(frameworkName)))

	return c.fStore.TransitionFrameworkState(frameworkName, ci.FrameworkCompleted,
		status.EnterFrameworkCompleted{RetryPolicyState: newRetryPolicyState})
}

///////////////////////////////////////////////////////////////////////////////////////
// Resync
///////////////////////////////////////////////////////////////////////////////////////

// enqueueResync queues the next resync, and each resync queues its next one.
func (c *FrameworkController) enqueueResync(delay time.Duration) {
	c.fQueue.EnqueueDelayed(func() error {
		defer c.enqueueResync(common.SecToDuration(c.cConfig.ServiceRMResyncIntervalSec))

		reports, ok := c.reconciler.Resync(c.ctx)
		metrics.RecordResync(ok)
		if !ok {
			return nil
		}
		return c.resyncFrameworksWithLiveApplications(reports)
	}, delay)
}

// resyncFrameworksWithLiveApplications drives the live associated Frameworks
// by the reports of the scheduler, i.e. ApplicationID -> ApplicationReport.
func (c *FrameworkController) resyncFrameworksWithLiveApplications(
	reports map[string]*scheduler.ApplicationReport) error {
	logPfx := "resyncFrameworksWithLiveApplications: "
	log.Infof(logPfx+"Got %v live Applications", len(reports))

	applicationIDs := []string{}
	for applicationID := range reports {
		applicationIDs = append(applicationIDs, applicationID)
	}
	sort.Strings(applicationIDs)

	errs := []error{}
	for _, applicationID := range applicationIDs {
		report := reports[applicationID]
		frameworkStatus := c.fStore.GetFrameworkStatusWithLiveApplicationID(applicationID)
		// Applications not live associated are left alone, since they may be
		// owned by other launchers sharing the same scheduler.
		if frameworkStatus == nil ||
			frameworkStatus.FrameworkState == ci.ApplicationCreated {
			continue
		}
		name := frameworkStatus.FrameworkName

		if report.TrackingURL != "" {
			c.fStore.UpdateApplicationTrackingURL(name, report.TrackingURL)
		}

		var err error
		switch report.FinalStatus {
		case scheduler.FinalStatusUndefined:
			switch report.State {
			case scheduler.ApplicationNew, scheduler.ApplicationNewSaving,
				scheduler.ApplicationSubmitted, scheduler.ApplicationAccepted:
				err = c.fStore.TransitionFrameworkState(name, ci.ApplicationWaiting, nil)
			case scheduler.ApplicationRunning:
				err = c.fStore.TransitionFrameworkState(name, ci.ApplicationRunning, nil)
			}
		case scheduler.FinalStatusSucceeded:
			err = c.retrieveApplicationExitDiagnostics(
				applicationID, ci.ExitCodeSucceeded.Ptr(), report.Diagnostics, false)
		case scheduler.FinalStatusKilled:
			err = c.retrieveApplicationExitDiagnostics(
				applicationID, ci.ExitCodeAppKilledUnexpectedly.Ptr(), report.Diagnostics, false)
		case scheduler.FinalStatusFailed:
			err = c.retrieveApplicationExitDiagnostics(
				applicationID, nil, report.Diagnostics, false)
		}
		errs = append(errs, err)
	}

	liveApplicationIDs := c.fStore.GetLiveAssociatedApplicationIDs()
	applicationIDs = []string{}
	for applicationID := range liveApplicationIDs {
		if _, ok := reports[applicationID]; !ok {
			applicationIDs = append(applicationIDs, applicationID)
		}
	}
	sort.Strings(applicationIDs)

	for _, applicationID := range applicationIDs {
		name := liveApplicationIDs[applicationID]
		frameworkStatus := c.fStore.GetFrameworkStatusWithLiveApplicationID(applicationID)
		// An ApplicationCreated Application is expected to be missing.
		if frameworkStatus == nil ||
			frameworkStatus.FrameworkState == ci.ApplicationCreated {
			continue
		}

		log.Warnf(logPfx+"[%v]: Cannot find live associated Application %v, "+
			"will complete it as resync lost", name, applicationID)
		errs = append(errs, c.retrieveApplicationExitDiagnostics(
			applicationID, ci.ExitCodeAppRMResyncLost.Ptr(), "", false))
	}

	return errorAgg.NewAggregate(errs)
}

///////////////////////////////////////////////////////////////////////////////////////
// Utils
///////////////////////////////////////////////////////////////////////////////////////

// KillApplication succeeds if the Application does not exist.
func (c *FrameworkController) killApplication(applicationID string) error {
	log.Infof("[%v]: killApplication", applicationID)
	err := c.client.KillApplication(c.ctx, applicationID)
	if err != nil {
		return errors.Wrapf(err, "Failed to kill Application %v", applicationID)
	}
	return nil
}

// retryFixed executes the action at most maxRetryCount + 1 times with a fixed
// interval between, and returns the last error.
func (c *FrameworkController) retryFixed(
	logPfx string, maxRetryCount *int32, retryIntervalSec *int64,
	action func() error) error {
	return retry.Do(action,
		retry.Context(c.ctx),
		retry.Attempts(uint(*maxRetryCount)+1),
		retry.Delay(common.SecToDuration(retryIntervalSec)),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf(logPfx+"Attempt %v failed: %v", n+1, err)
		}))
}
