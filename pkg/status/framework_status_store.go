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

package status

import (
	"context"
	"fmt"
	"sort"
	"sync"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/wait"
)

var ErrFrameworkNotFound = errors.New("Framework is not found")

func IsFrameworkNotFound(err error) bool {
	return errors.Cause(err) == ErrFrameworkNotFound
}

// FrameworkStatusPersister is the durable storage of the FrameworkStatuses,
// such as the store.LauncherStore.
type FrameworkStatusPersister interface {
	GetFrameworkStatuses(
		ctx context.Context) (map[string]*ci.FrameworkStatus, []string, error)
	SetFrameworkStatus(ctx context.Context, status *ci.FrameworkStatus) error
	DeleteFrameworkStatus(ctx context.Context, frameworkName string) error
}

// FrameworkStatusStore is the single source of truth of all FrameworkStatuses
// within the launcher service.
//
// The FrameworkStatuses and the indexes on them are changed atomically under
// one lock, and the changes are pushed to the FrameworkStatusPersister
// periodically without holding the lock.
type FrameworkStatusStore struct {
	persister FrameworkStatusPersister

	// Serialize the pushes and the removals, so that a removed Framework is
	// never pushed again.
	pushLock sync.Mutex

	// Protect all below fields.
	lock              sync.Mutex
	frameworkStatuses map[string]*ci.FrameworkStatus
	// FrameworkState -> FrameworkNames
	frameworkStateNames map[ci.FrameworkState]map[string]common.Empty
	// ApplicationID -> FrameworkName
	associatedApplicationIDs     map[string]string
	liveAssociatedApplicationIDs map[string]string

	dirty       map[string]bool
	generations map[string]uint64
}

func NewFrameworkStatusStore(persister FrameworkStatusPersister) *FrameworkStatusStore {
	s := &FrameworkStatusStore{
		persister:                    persister,
		frameworkStatuses:            map[string]*ci.FrameworkStatus{},
		frameworkStateNames:          map[ci.FrameworkState]map[string]common.Empty{},
		associatedApplicationIDs:     map[string]string{},
		liveAssociatedApplicationIDs: map[string]string{},
		dirty:                        map[string]bool{},
		generations:                  map[string]uint64{},
	}
	for _, state := range ci.FrameworkStates {
		s.frameworkStateNames[state] = map[string]common.Empty{}
	}
	return s
}

///////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
///////////////////////////////////////////////////////////////////////////////////////

// Recover loads all persisted FrameworkStatuses, and deletes the corrupted
// ones, so that they will be started from scratch if still requested.
func (s *FrameworkStatusStore) Recover(ctx context.Context) error {
	logPfx := "FrameworkStatusStore: Recover: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	frameworkStatuses, corruptedNames, err := s.persister.GetFrameworkStatuses(ctx)
	if err != nil {
		return errors.Wrapf(err, "Failed to get FrameworkStatuses")
	}

	for _, name := range corruptedNames {
		log.Warnf(logPfx+"[%v]: FrameworkStatus is corrupted, delete it", name)
		err := s.persister.DeleteFrameworkStatus(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "Failed to delete corrupted FrameworkStatus %v", name)
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for name, frameworkStatus := range frameworkStatuses {
		s.frameworkStatuses[name] = frameworkStatus
		s.indexLocked(frameworkStatus)
	}
	log.Infof(logPfx+"Recovered %v FrameworkStatuses", len(frameworkStatuses))
	return nil
}

// Run pushes the changed status periodically until stopCh is closed.
// onError is called with every push failure.
func (s *FrameworkStatusStore) Run(
	interval *int64, stopCh <-chan struct{}, onError func(err error)) {
	wait.Until(func() {
		if err := s.PushStatus(context.Background()); err != nil {
			onError(err)
		}
	}, common.SecToDuration(interval), stopCh)
}

// PushStatus writes all changed FrameworkStatuses to the
// FrameworkStatusPersister.
func (s *FrameworkStatusStore) PushStatus(ctx context.Context) error {
	s.pushLock.Lock()
	defer s.pushLock.Unlock()

	type snapshot struct {
		generation      uint64
		frameworkStatus *ci.FrameworkStatus
	}

	s.lock.Lock()
	snapshots := []snapshot{}
	for _, name := range s.frameworkNamesLocked() {
		if s.dirty[name] {
			snapshots = append(snapshots, snapshot{
				generation:      s.generations[name],
				frameworkStatus: s.frameworkStatuses[name].DeepCopy(),
			})
		}
	}
	s.lock.Unlock()

	for _, snap := range snapshots {
		name := snap.frameworkStatus.FrameworkName
		err := s.persister.SetFrameworkStatus(ctx, snap.frameworkStatus)
		if err != nil {
			return errors.Wrapf(err, "Failed to push FrameworkStatus %v", name)
		}

		s.lock.Lock()
		if s.generations[name] == snap.generation {
			s.dirty[name] = false
		}
		s.lock.Unlock()
	}
	return nil
}

func (s *FrameworkStatusStore) markDirtyLocked(frameworkName string) {
	s.dirty[frameworkName] = true
	s.generations[frameworkName]++
}

func (s *FrameworkStatusStore) indexLocked(frameworkStatus *ci.FrameworkStatus) {
	name := frameworkStatus.FrameworkName
	s.frameworkStateNames[frameworkStatus.FrameworkState][name] = common.Empty{}
	if frameworkStatus.IsApplicationAssociated() {
		s.associatedApplicationIDs[*frameworkStatus.ApplicationID] = name
	}
	if frameworkStatus.IsApplicationLiveAssociated() {
		s.liveAssociatedApplicationIDs[*frameworkStatus.ApplicationID] = name
	}
}

func (s *FrameworkStatusStore) unindexLocked(frameworkStatus *ci.FrameworkStatus) {
	delete(s.frameworkStateNames[frameworkStatus.FrameworkState], frameworkStatus.FrameworkName)
	if frameworkStatus.ApplicationID != nil {
		delete(s.associatedApplicationIDs, *frameworkStatus.ApplicationID)
		delete(s.liveAssociatedApplicationIDs, *frameworkStatus.ApplicationID)
	}
}

///////////////////////////////////////////////////////////////////////////////////////
// Writes
///////////////////////////////////////////////////////////////////////////////////////

// AddFramework adds the FrameworkStatus of the request in FrameworkWaiting.
func (s *FrameworkStatusStore) AddFramework(request *ci.FrameworkRequest) *ci.FrameworkStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	name := request.FrameworkName
	if _, ok := s.frameworkStatuses[name]; ok {
		// Unreachable
		panic(fmt.Errorf("[%v]: AddFramework: FrameworkStatus already exists", name))
	}

	frameworkStatus := &ci.FrameworkStatus{
		FrameworkName:             name,
		FrameworkVersion:          request.Version(),
		FrameworkState:            ci.FrameworkWaiting,
		FrameworkRetryPolicyState: ci.RetryPolicyState{},
		FrameworkCreatedTimestamp: common.PtrNow(),
	}
	s.frameworkStatuses[name] = frameworkStatus
	s.indexLocked(frameworkStatus)
	s.markDirtyLocked(name)
	log.Infof("[%v]: Added FrameworkStatus with FrameworkVersion %v",
		name, frameworkStatus.FrameworkVersion)
	return frameworkStatus.DeepCopy()
}

// RemoveFramework removes the FrameworkStatus both from memory and the
// FrameworkStatusPersister.
func (s *FrameworkStatusStore) RemoveFramework(ctx context.Context, frameworkName string) error {
	s.pushLock.Lock()
	defer s.pushLock.Unlock()

	s.lock.Lock()
	if frameworkStatus, ok := s.frameworkStatuses[frameworkName]; ok {
		s.unindexLocked(frameworkStatus)
		delete(s.frameworkStatuses, frameworkName)
		delete(s.dirty, frameworkName)
		delete(s.generations, frameworkName)
	}
	s.lock.Unlock()

	err := s.persister.DeleteFrameworkStatus(ctx, frameworkName)
	if err != nil {
		return errors.Wrapf(err, "Failed to delete FrameworkStatus %v", frameworkName)
	}
	log.Infof("[%v]: Removed FrameworkStatus", frameworkName)
	return nil
}

// TransitionFrameworkState transitions the Framework to dstState atomically
// together with all indexes.
//
// The event must match the transition:
//   -> ApplicationCreated: EnterApplicationCreated
//   -> ApplicationRetrievingDiagnostics: EnterApplicationRetrievingDiagnostics
//   -> ApplicationCompleted: EnterApplicationCompleted
//   -> FrameworkWaiting: EnterFrameworkWaitingForRetry
//   -> FrameworkCompleted: EnterFrameworkCompleted or nil
//   otherwise: nil
// A mismatched event, a transition from a FinalState, or associating an
// ApplicationID which is already associated panics.
func (s *FrameworkStatusStore) TransitionFrameworkState(
	frameworkName string, dstState ci.FrameworkState, event FrameworkEvent) error {
	logPfx := fmt.Sprintf("[%v]: TransitionFrameworkState: ", frameworkName)

	s.lock.Lock()
	defer s.lock.Unlock()

	frameworkStatus, ok := s.frameworkStatuses[frameworkName]
	if !ok {
		return errors.Wrapf(ErrFrameworkNotFound, "Framework %v", frameworkName)
	}
	srcState := frameworkStatus.FrameworkState
	if srcState == dstState {
		return nil
	}
	if ci.FrameworkFinalStates.Contains(srcState) {
		panic(fmt.Errorf(logPfx+
			"Failed to transition from FinalState %v to %v", srcState, dstState))
	}
	validateFrameworkEvent(logPfx, srcState, dstState, event)
	if e, ok := event.(EnterApplicationCreated); ok {
		if name, ok := s.associatedApplicationIDs[e.ApplicationID]; ok {
			panic(fmt.Errorf(logPfx+
				"ApplicationID %v is already associated with Framework %v",
				e.ApplicationID, name))
		}
	}

	s.unindexLocked(frameworkStatus)

	switch dstState {
	case ci.ApplicationCreated:
		e := event.(EnterApplicationCreated)
		frameworkStatus.ApplicationID = common.PtrString(e.ApplicationID)
		frameworkStatus.ApplicationCreatedTimestamp = common.PtrNow()
	case ci.ApplicationLaunched:
		frameworkStatus.ApplicationLaunchedTimestamp = common.PtrNow()
	case ci.ApplicationRetrievingDiagnostics:
		e := event.(EnterApplicationRetrievingDiagnostics)
		if e.ExitCode != nil {
			frameworkStatus.ApplicationExitCode = e.ExitCode.Ptr()
		}
		frameworkStatus.ApplicationExitDiagnostics = common.PtrString(e.Diagnostics)
	case ci.ApplicationCompleted:
		e := event.(EnterApplicationCompleted)
		exitInfo := ci.LookupExitInfo(e.ExitCode)
		exitType := exitInfo.Type
		frameworkStatus.ApplicationCompletedTimestamp = common.PtrNow()
		frameworkStatus.ApplicationExitCode = e.ExitCode.Ptr()
		frameworkStatus.ApplicationExitDescription = common.PtrString(exitInfo.Description)
		frameworkStatus.ApplicationExitDiagnostics = common.PtrString(e.Diagnostics)
		frameworkStatus.ApplicationExitType = &exitType
		frameworkStatus.ApplicationExitTriggerMessage = common.PtrString(e.TriggerMessage)
		frameworkStatus.ApplicationExitTriggerTaskRoleName = common.PtrString(e.TriggerTaskRoleName)
		if e.TriggerTaskIndex != nil {
			frameworkStatus.ApplicationExitTriggerTaskIndex = common.PtrInt32(*e.TriggerTaskIndex)
		} else {
			frameworkStatus.ApplicationExitTriggerTaskIndex = nil
		}
	case ci.FrameworkWaiting:
		e := event.(EnterFrameworkWaitingForRetry)
		frameworkStatus.FrameworkRetryPolicyState = e.RetryPolicyState
		disassociateApplication(frameworkStatus)
	case ci.FrameworkCompleted:
		if e, ok := event.(EnterFrameworkCompleted); ok && e.RetryPolicyState != nil {
			frameworkStatus.FrameworkRetryPolicyState = *e.RetryPolicyState
		}
		frameworkStatus.FrameworkCompletedTimestamp = common.PtrNow()
	}

	frameworkStatus.FrameworkState = dstState
	s.indexLocked(frameworkStatus)
	s.markDirtyLocked(frameworkName)
	log.Infof(logPfx+"Transitioned Framework from [%v] to [%v]", srcState, dstState)
	return nil
}

func validateFrameworkEvent(
	logPfx string, srcState ci.FrameworkState, dstState ci.FrameworkState,
	event FrameworkEvent) {
	srcAssociated := ci.ApplicationAssociatedStates.Contains(srcState)

	legal := false
	switch event.(type) {
	case nil:
		legal = srcAssociated &&
			dstState != ci.ApplicationCreated &&
			dstState != ci.ApplicationRetrievingDiagnostics &&
			dstState != ci.ApplicationCompleted &&
			dstState != ci.FrameworkWaiting
	case EnterApplicationCreated:
		legal = dstState == ci.ApplicationCreated && !srcAssociated
	case EnterApplicationRetrievingDiagnostics:
		legal = dstState == ci.ApplicationRetrievingDiagnostics && srcAssociated
	case EnterApplicationCompleted:
		legal = dstState == ci.ApplicationCompleted && srcAssociated
	case EnterFrameworkWaitingForRetry:
		legal = srcState == ci.ApplicationCompleted && dstState == ci.FrameworkWaiting
	case EnterFrameworkCompleted:
		legal = dstState == ci.FrameworkCompleted && srcAssociated
	}

	if !legal {
		panic(fmt.Errorf(logPfx+
			"Event %T is illegal for the transition from %v to %v",
			event, srcState, dstState))
	}
}

func disassociateApplication(frameworkStatus *ci.FrameworkStatus) {
	frameworkStatus.ApplicationID = nil
	frameworkStatus.ApplicationTrackingURL = nil
	frameworkStatus.ApplicationCreatedTimestamp = nil
	frameworkStatus.ApplicationLaunchedTimestamp = nil
	frameworkStatus.ApplicationCompletedTimestamp = nil
	frameworkStatus.ApplicationExitCode = nil
	frameworkStatus.ApplicationExitDescription = nil
	frameworkStatus.ApplicationExitDiagnostics = nil
	frameworkStatus.ApplicationExitType = nil
	frameworkStatus.ApplicationExitTriggerMessage = nil
	frameworkStatus.ApplicationExitTriggerTaskRoleName = nil
	frameworkStatus.ApplicationExitTriggerTaskIndex = nil
}

// UpdateApplicationTrackingURL is only effective for a live associated
// Framework.
func (s *FrameworkStatusStore) UpdateApplicationTrackingURL(
	frameworkName string, trackingURL string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	frameworkStatus, ok := s.frameworkStatuses[frameworkName]
	if !ok || !frameworkStatus.IsApplicationLiveAssociated() {
		return
	}
	if frameworkStatus.ApplicationTrackingURL == nil ||
		*frameworkStatus.ApplicationTrackingURL != trackingURL {
		frameworkStatus.ApplicationTrackingURL = common.PtrString(trackingURL)
		s.markDirtyLocked(frameworkName)
	}
}

///////////////////////////////////////////////////////////////////////////////////////
// Reads
///////////////////////////////////////////////////////////////////////////////////////
func (s *FrameworkStatusStore) frameworkNamesLocked() []string {
	names := []string{}
	for name := range s.frameworkStatuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *FrameworkStatusStore) GetFrameworkNames() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frameworkNamesLocked()
}

// GetFrameworkStatus returns nil if the Framework does not exist.
func (s *FrameworkStatusStore) GetFrameworkStatus(frameworkName string) *ci.FrameworkStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	if frameworkStatus, ok := s.frameworkStatuses[frameworkName]; ok {
		return frameworkStatus.DeepCopy()
	}
	return nil
}

// GetFrameworkStatuses returns the Frameworks in the given states, or all
// Frameworks if no state is given, ordered by FrameworkName.
func (s *FrameworkStatusStore) GetFrameworkStatuses(
	states ...ci.FrameworkState) []*ci.FrameworkStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	result := []*ci.FrameworkStatus{}
	if len(states) == 0 {
		for _, name := range s.frameworkNamesLocked() {
			result = append(result, s.frameworkStatuses[name].DeepCopy())
		}
		return result
	}
	for _, state := range states {
		for name := range s.frameworkStateNames[state] {
			result = append(result, s.frameworkStatuses[name].DeepCopy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FrameworkName < result[j].FrameworkName
	})
	return result
}

// GetFrameworkStatusWithApplicationID returns nil if the ApplicationID is not
// associated.
func (s *FrameworkStatusStore) GetFrameworkStatusWithApplicationID(
	applicationID string) *ci.FrameworkStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	if name, ok := s.associatedApplicationIDs[applicationID]; ok {
		return s.frameworkStatuses[name].DeepCopy()
	}
	return nil
}

// GetFrameworkStatusWithLiveApplicationID returns nil if the ApplicationID is
// not live associated.
func (s *FrameworkStatusStore) GetFrameworkStatusWithLiveApplicationID(
	applicationID string) *ci.FrameworkStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	if name, ok := s.liveAssociatedApplicationIDs[applicationID]; ok {
		return s.frameworkStatuses[name].DeepCopy()
	}
	return nil
}

// GetLiveAssociatedApplicationIDs returns ApplicationID -> FrameworkName.
func (s *FrameworkStatusStore) GetLiveAssociatedApplicationIDs() map[string]string {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := map[string]string{}
	for id, name := range s.liveAssociatedApplicationIDs {
		ids[id] = name
	}
	return ids
}

func (s *FrameworkStatusStore) IsApplicationIDAssociated(applicationID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.associatedApplicationIDs[applicationID]
	return ok
}

// ContainsFramework tells whether the Framework is still exactly the same as
// the given snapshot, i.e. nothing happened to it after the snapshot was taken.
func (s *FrameworkStatusStore) ContainsFramework(snapshot *ci.FrameworkStatus) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	frameworkStatus, ok := s.frameworkStatuses[snapshot.FrameworkName]
	return ok && equality.Semantic.DeepEqual(frameworkStatus, snapshot)
}

// GetFrameworkStateCounters returns the Framework count of every
// FrameworkState.
func (s *FrameworkStatusStore) GetFrameworkStateCounters() map[ci.FrameworkState]int {
	s.lock.Lock()
	defer s.lock.Unlock()

	counters := map[ci.FrameworkState]int{}
	for _, state := range ci.FrameworkStates {
		counters[state] = len(s.frameworkStateNames[state])
	}
	return counters
}
