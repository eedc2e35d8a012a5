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

package datalayer

import "fmt"

type InvalidFeedbackError struct{}

func (e *InvalidFeedbackError) Error() string {
	return "feedback must have a threadId and forId"
}

type StepNotFoundError struct {
	ForID string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("Step with id or parentId %s not found.", e.ForID)
}

type InvalidCursorError struct {
	Cursor string
}

func (e *InvalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor %q", e.Cursor)
}
