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

package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// NonTransientError marks a failure which will fail again if retried, such as a
// durable record which has already been deleted or a request rejected by the
// scheduler protocol.
// All other errors are considered as transient.
type NonTransientError struct {
	err error
}

func NewNonTransientError(format string, args ...interface{}) error {
	return &NonTransientError{err: fmt.Errorf(format, args...)}
}

func WrapNonTransientError(err error, format string, args ...interface{}) error {
	return &NonTransientError{err: errors.Wrapf(err, format, args...)}
}

func (e *NonTransientError) Error() string {
	return "NonTransient: " + e.err.Error()
}

func (e *NonTransientError) Cause() error {
	return e.err
}

func (e *NonTransientError) Unwrap() error {
	return e.err
}

// IsNonTransient walks the cause chain, so a NonTransientError stays
// non-transient after being wrapped by errors.Wrapf.
func IsNonTransient(err error) bool {
	for err != nil {
		if _, ok := err.(*NonTransientError); ok {
			return true
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = causer.Cause()
	}
	return false
}
