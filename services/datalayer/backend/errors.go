// Copyright 2023 AI Redefined Inc. <dev+cogment@ai-r.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"errors"
	"fmt"
)

type UnknownUserError struct {
	UserID string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("no user %q found", e.UserID)
}

type UserAlreadyExistsError struct {
	UserID string
}

func (e *UserAlreadyExistsError) Error() string {
	return fmt.Sprintf("user %q already exists", e.UserID)
}

type UnknownThreadError struct {
	ThreadID string
}

func (e *UnknownThreadError) Error() string {
	return fmt.Sprintf("no thread %q found", e.ThreadID)
}

type UnknownStepError struct {
	ThreadID string
	StepID   string
}

func (e *UnknownStepError) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("no step %q found", e.StepID)
	}
	return fmt.Sprintf("no step %q found in thread %q", e.StepID, e.ThreadID)
}

type UnknownElementError struct {
	ThreadID  string
	ElementID string
}

func (e *UnknownElementError) Error() string {
	return fmt.Sprintf("no element %q found in thread %q", e.ElementID, e.ThreadID)
}

type UnexpectedError struct {
	someError error
}

func NewUnexpectedError(format string, a ...interface{}) *UnexpectedError {
	return &UnexpectedError{
		someError: fmt.Errorf(format, a...),
	}
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %v", e.someError)
}

func (e *UnexpectedError) Unwrap() error {
	return e.someError
}

// IsNotFound is true for any of the Unknown*Error types.
func IsNotFound(err error) bool {
	var userErr *UnknownUserError
	var threadErr *UnknownThreadError
	var stepErr *UnknownStepError
	var elementErr *UnknownElementError
	return errors.As(err, &userErr) ||
		errors.As(err, &threadErr) ||
		errors.As(err, &stepErr) ||
		errors.As(err, &elementErr)
}
