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

package retrypolicy

import (
	"fmt"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
)

type Action string

const (
	RetryNow   Action = "RETRY_NOW"
	RetryAfter Action = "RETRY_AFTER"
	Complete   Action = "COMPLETE"
)

type Decision struct {
	Action Action
	// Only meaningful for RetryAfter
	DelaySec int64
	// The state to be applied together with the Action.
	NewRetryPolicyState ci.RetryPolicyState
	// The reason of the Decision, for logging only
	Reason string
}

func (d Decision) String() string {
	if d.Action == RetryAfter {
		return fmt.Sprintf("%v(%vs): %v", d.Action, d.DelaySec, d.Reason)
	}
	return fmt.Sprintf("%v: %v", d.Action, d.Reason)
}

// Decide applies the RetryPolicyDescriptor to the completion of the given
// ExitType, see RetryPolicyDescriptor for the policy.
//
// Exactly one counter of the returned NewRetryPolicyState is increased by 1:
// 1. If the FancyRetryPolicy decides, it is the counter of the ExitType.
// 2. If the NormalRetryPolicy decides to retry, it is the RetriedCount.
// 3. If the NormalRetryPolicy decides to complete, it is the counter of the
//    ExitType.
// The input state is never modified.
func Decide(
	exitType ci.ExitType,
	state ci.RetryPolicyState,
	policy ci.RetryPolicyDescriptor,
	minDelaySec int64, maxDelaySec int64) Decision {
	newState := state

	// 1. FancyRetryPolicy
	if policy.FancyRetryPolicy {
		switch exitType {
		case ci.ExitTypeTransientNormal:
			newState.TransientNormalRetriedCount++
			return Decision{
				Action:              RetryNow,
				NewRetryPolicyState: newState,
				Reason:              "Transient normal failure will be retried immediately",
			}
		case ci.ExitTypeTransientConflict:
			delaySec := CalcRandomBackoffDelay(
				state.TransientConflictRetriedCount, minDelaySec, maxDelaySec)
			newState.TransientConflictRetriedCount++
			return Decision{
				Action:              RetryAfter,
				DelaySec:            delaySec,
				NewRetryPolicyState: newState,
				Reason:              "Transient conflict failure will be retried after a random backoff",
			}
		case ci.ExitTypeNonTransient:
			newState.NonTransientRetriedCount++
			return Decision{
				Action:              Complete,
				NewRetryPolicyState: newState,
				Reason:              "Non-transient failure will not be retried",
			}
		}
	}

	// 2. NormalRetryPolicy
	succeeded := exitType == ci.ExitTypeSucceeded
	if policy.MaxRetryCount == ci.ExtendedUnlimitedValue ||
		(!succeeded && policy.MaxRetryCount == ci.UnlimitedValue) ||
		(!succeeded && state.RetriedCount < policy.MaxRetryCount) {
		newState.RetriedCount++
		return Decision{
			Action:              RetryNow,
			NewRetryPolicyState: newState,
			Reason: fmt.Sprintf(
				"RetriedCount %v has not reached MaxRetryCount %v",
				state.RetriedCount, policy.MaxRetryCount),
		}
	}

	increaseExitTypeCount(&newState, exitType)
	reason := fmt.Sprintf(
		"RetriedCount %v has reached MaxRetryCount %v",
		state.RetriedCount, policy.MaxRetryCount)
	if succeeded {
		reason = "Succeeded completion will not be retried"
	}
	return Decision{
		Action:              Complete,
		NewRetryPolicyState: newState,
		Reason:              reason,
	}
}

func increaseExitTypeCount(state *ci.RetryPolicyState, exitType ci.ExitType) {
	switch exitType {
	case ci.ExitTypeSucceeded:
		state.SucceededRetriedCount++
	case ci.ExitTypeTransientNormal:
		state.TransientNormalRetriedCount++
	case ci.ExitTypeTransientConflict:
		state.TransientConflictRetriedCount++
	case ci.ExitTypeNonTransient:
		state.NonTransientRetriedCount++
	default:
		state.UnknownRetriedCount++
	}
}

// CalcRandomBackoffDelay returns a random delay in [minDelaySec, maxDelaySec],
// whose upper bound grows exponentially with the retriedCount:
//   [minDelaySec, min(minDelaySec * 2^(retriedCount+1), maxDelaySec)]
func CalcRandomBackoffDelay(retriedCount int32, minDelaySec int64, maxDelaySec int64) int64 {
	if maxDelaySec <= minDelaySec {
		return minDelaySec
	}

	upperSec := minDelaySec
	if upperSec < 1 {
		upperSec = 1
	}
	for i := int32(0); i <= retriedCount && upperSec < maxDelaySec; i++ {
		upperSec *= 2
	}
	if upperSec > maxDelaySec {
		upperSec = maxDelaySec
	}
	if upperSec < minDelaySec {
		upperSec = minDelaySec
	}
	return common.RandInt64(minDelaySec, upperSec)
}
