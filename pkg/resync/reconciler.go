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

package resync

import (
	"context"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/scheduler"
	log "github.com/sirupsen/logrus"
)

// LiveApplicationSource provides the ApplicationIDs which the launcher
// believes may still be live, i.e. ApplicationID -> FrameworkName.
type LiveApplicationSource interface {
	GetLiveAssociatedApplicationIDs() map[string]string
	GetFrameworkStatusWithLiveApplicationID(applicationID string) *ci.FrameworkStatus
}

// Reconciler takes the snapshot of the live Applications in the scheduler.
type Reconciler struct {
	client scheduler.Client
	source LiveApplicationSource
}

func NewReconciler(client scheduler.Client, source LiveApplicationSource) *Reconciler {
	return &Reconciler{client: client, source: source}
}

// Resync returns ApplicationID -> ApplicationReport of all launcher
// Applications, or ok = false if the listing failed, in which case the caller
// should not draw any conclusion from this round.
//
// The listing may miss a just completed Application, so each live associated
// ApplicationID missing from the listing is looked up individually, and it is
// included only if its report is already final.
// A Framework in ApplicationCreated is skipped since its Application may not
// be submitted yet.
func (r *Reconciler) Resync(ctx context.Context) (map[string]*scheduler.ApplicationReport, bool) {
	logPfx := "Resync: "
	log.Infof(logPfx + "Started")
	defer func() { log.Infof(logPfx + "Completed") }()

	reports, err := r.client.ListApplications(ctx, ci.ApplicationType)
	if err != nil {
		log.Warnf(logPfx+"Failed to list Applications, skip this round: %v", err)
		return nil, false
	}

	liveReports := map[string]*scheduler.ApplicationReport{}
	for _, report := range reports {
		liveReports[report.ApplicationID] = report
	}
	listedCount := len(liveReports)

	for applicationID, frameworkName := range r.source.GetLiveAssociatedApplicationIDs() {
		if _, ok := liveReports[applicationID]; ok {
			continue
		}
		frameworkStatus := r.source.GetFrameworkStatusWithLiveApplicationID(applicationID)
		if frameworkStatus == nil ||
			frameworkStatus.FrameworkState == ci.ApplicationCreated {
			continue
		}

		report, err := r.client.GetApplicationReport(ctx, applicationID)
		if err != nil {
			log.Infof(logPfx+"[%v]: Failed to get the report of missing Application %v: %v",
				frameworkName, applicationID, err)
			continue
		}
		if report.FinalStatus == scheduler.FinalStatusUndefined {
			continue
		}
		liveReports[applicationID] = report
	}

	log.Infof(logPfx+"Listed %v Applications, supplemented %v",
		listedCount, len(liveReports)-listedCount)
	return liveReports, true
}
