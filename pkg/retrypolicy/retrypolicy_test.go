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
	"math/rand"
	"testing"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/stretchr/testify/assert"
)

var allExitTypes = []ci.ExitType{
	ci.ExitTypeSucceeded,
	ci.ExitTypeTransientNormal,
	ci.ExitTypeTransientConflict,
	ci.ExitTypeNonTransient,
	ci.ExitTypeUnknown,
	ci.ExitTypeNotAvailable,
}

func counters(s ci.RetryPolicyState) []int32 {
	return []int32{
		s.RetriedCount,
		s.TransientNormalRetriedCount,
		s.TransientConflictRetriedCount,
		s.NonTransientRetriedCount,
		s.SucceededRetriedCount,
		s.UnknownRetriedCount,
	}
}

func TestDecide_TransientConflictBackoff(t *testing.T) {
	fancy := ci.RetryPolicyDescriptor{FancyRetryPolicy: true, MaxRetryCount: 0}
	for i := 0; i < 1000; i++ {
		d := Decide(ci.ExitTypeTransientConflict,
			ci.RetryPolicyState{TransientConflictRetriedCount: 2}, fancy, 600, 3600)
		assert.Equal(t, RetryAfter, d.Action)
		assert.True(t, d.DelaySec >= 600 && d.DelaySec <= 3600, "delay %v", d.DelaySec)
		assert.Equal(t, int32(3), d.NewRetryPolicyState.TransientConflictRetriedCount)
		assert.Equal(t, int32(0), d.NewRetryPolicyState.RetriedCount)
	}
}

func TestDecide_NonTransientAlwaysCompletes(t *testing.T) {
	for _, maxRetryCount := range []int32{ci.ExtendedUnlimitedValue, ci.UnlimitedValue, 0, 5, 100} {
		for _, retriedCount := range []int32{0, 3, 200} {
			d := Decide(ci.ExitTypeNonTransient,
				ci.RetryPolicyState{RetriedCount: retriedCount},
				ci.RetryPolicyDescriptor{FancyRetryPolicy: true, MaxRetryCount: maxRetryCount},
				600, 3600)
			assert.Equal(t, Complete, d.Action)
			assert.Equal(t, int32(1), d.NewRetryPolicyState.NonTransientRetriedCount)
		}
	}
}

func TestDecide_TransientNormalRetriesImmediately(t *testing.T) {
	d := Decide(ci.ExitTypeTransientNormal, ci.RetryPolicyState{},
		ci.RetryPolicyDescriptor{FancyRetryPolicy: true, MaxRetryCount: 0}, 600, 3600)
	assert.Equal(t, RetryNow, d.Action)
	assert.Equal(t, int32(1), d.NewRetryPolicyState.TransientNormalRetriedCount)
}

func TestDecide_NormalRetryPolicy(t *testing.T) {
	cases := []struct {
		name          string
		exitType      ci.ExitType
		fancy         bool
		maxRetryCount int32
		retriedCount  int32
		action        Action
	}{
		{"failed within budget", ci.ExitTypeUnknown, false, 3, 2, RetryNow},
		{"failed out of budget", ci.ExitTypeUnknown, false, 3, 3, Complete},
		{"no retry", ci.ExitTypeTransientNormal, false, 0, 0, Complete},
		{"non transient without fancy", ci.ExitTypeNonTransient, false, 1, 0, RetryNow},
		{"unlimited failed", ci.ExitTypeUnknown, false, ci.UnlimitedValue, 1000, RetryNow},
		{"unlimited succeeded", ci.ExitTypeSucceeded, false, ci.UnlimitedValue, 0, Complete},
		{"succeeded within budget", ci.ExitTypeSucceeded, true, 3, 0, Complete},
		{"extended unlimited succeeded", ci.ExitTypeSucceeded, true, ci.ExtendedUnlimitedValue, 1000, RetryNow},
		{"fancy unknown falls through", ci.ExitTypeUnknown, true, 1, 0, RetryNow},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := Decide(c.exitType, ci.RetryPolicyState{RetriedCount: c.retriedCount},
				ci.RetryPolicyDescriptor{FancyRetryPolicy: c.fancy, MaxRetryCount: c.maxRetryCount},
				600, 3600)
			assert.Equal(t, c.action, d.Action, d.String())
			if c.action == RetryNow {
				assert.Equal(t, c.retriedCount+1, d.NewRetryPolicyState.RetriedCount)
			} else {
				assert.Equal(t, c.retriedCount, d.NewRetryPolicyState.RetriedCount)
			}
		})
	}
}

func TestDecide_ExactlyOneCounterIncreases(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	state := ci.RetryPolicyState{}
	for i := 0; i < 5000; i++ {
		exitType := allExitTypes[r.Intn(len(allExitTypes))]
		policy := ci.RetryPolicyDescriptor{
			FancyRetryPolicy: r.Intn(2) == 0,
			MaxRetryCount:    int32(r.Intn(10) - 2),
		}

		d := Decide(exitType, state, policy, 10, 100)
		before := counters(state)
		after := counters(d.NewRetryPolicyState)
		increased := 0
		for j := range before {
			assert.True(t, after[j] >= before[j], "counter %v decreased", j)
			if after[j] != before[j] {
				assert.Equal(t, before[j]+1, after[j])
				increased++
			}
		}
		assert.Equal(t, 1, increased, "exitType %v policy %+v", exitType, policy)
		state = d.NewRetryPolicyState
	}
}

func TestCalcRandomBackoffDelay(t *testing.T) {
	for retriedCount := int32(0); retriedCount < 40; retriedCount++ {
		for i := 0; i < 50; i++ {
			delay := CalcRandomBackoffDelay(retriedCount, 600, 3600)
			assert.True(t, delay >= 600 && delay <= 3600)
		}
	}
	assert.Equal(t, int64(5), CalcRandomBackoffDelay(3, 5, 5))
	assert.Equal(t, int64(0), CalcRandomBackoffDelay(0, 0, 0))

	// The first retry never waits longer than twice the minimum.
	for i := 0; i < 100; i++ {
		assert.True(t, CalcRandomBackoffDelay(0, 600, 3600) <= 1200)
	}
}
