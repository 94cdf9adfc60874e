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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "frameworklauncher_"

var frameworkStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "frameworks",
		Help: "Number of Frameworks in each FrameworkState",
	},
	[]string{"state"},
)

var taskStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "tasks",
		Help: "Number of Tasks of the Framework in each TaskState",
	},
	[]string{"framework", "state"},
)

var liveApplicationGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "live_applications",
		Help: "Number of Applications which may be live in the scheduler",
	},
)

var applicationCompletionCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "application_completions_total",
		Help: "Number of completed Applications by ExitType",
	},
	[]string{"exit_type"},
)

var retryDecisionCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "retry_decisions_total",
		Help: "Number of RetryPolicy decisions by action",
	},
	[]string{"action"},
)

var queueLengthGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "queue_length",
		Help: "Number of pending operations in the serial queue",
	},
	[]string{"queue"},
)

var queueFailureCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "queue_failures_total",
		Help: "Number of failed operations in the serial queue",
	},
	[]string{"queue"},
)

var resyncCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "resyncs_total",
		Help: "Number of resyncs with the scheduler by result",
	},
	[]string{"result"},
)

func SetFrameworkStateCounts(counts map[string]int) {
	for state, count := range counts {
		frameworkStateGauge.WithLabelValues(state).Set(float64(count))
	}
}

func SetTaskStateCounts(frameworkName string, counts map[string]int) {
	for state, count := range counts {
		taskStateGauge.WithLabelValues(frameworkName, state).Set(float64(count))
	}
}

func SetLiveApplicationCount(count int) {
	liveApplicationGauge.Set(float64(count))
}

func RecordApplicationCompletion(exitType string) {
	applicationCompletionCounter.WithLabelValues(exitType).Inc()
}

func RecordRetryDecision(action string) {
	retryDecisionCounter.WithLabelValues(action).Inc()
}

func SetQueueLength(queue string, length int) {
	queueLengthGauge.WithLabelValues(queue).Set(float64(length))
}

func RecordQueueFailure(queue string) {
	queueFailureCounter.WithLabelValues(queue).Inc()
}

func RecordResync(ok bool) {
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	resyncCounter.WithLabelValues(result).Inc()
}
