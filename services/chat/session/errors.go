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

package session

import (
	"errors"
	"fmt"
)

// SessionNotFoundError is raised when a chat session doesn't exist or was ended
type SessionNotFoundError struct {
	SessionID string
}

func NewSessionNotFoundError(sessionID string) *SessionNotFoundError {
	return &SessionNotFoundError{SessionID: sessionID}
}

func (err *SessionNotFoundError) Error() string {
	return fmt.Sprintf("Chat session [%s] not found", err.SessionID)
}

// ThreadNotFoundError is raised when resuming a thread that doesn't exist
type ThreadNotFoundError struct {
	ThreadID string
}

func NewThreadNotFoundError(threadID string) *ThreadNotFoundError {
	return &ThreadNotFoundError{ThreadID: threadID}
}

func (err *ThreadNotFoundError) Error() string {
	return fmt.Sprintf("Thread [%s] not found", err.ThreadID)
}

// NotThreadAuthorError is raised when a user tries to resume someone else's thread
type NotThreadAuthorError struct {
	ThreadID       string
	UserIdentifier string
}

func NewNotThreadAuthorError(threadID string, userIdentifier string) *NotThreadAuthorError {
	return &NotThreadAuthorError{ThreadID: threadID, UserIdentifier: userIdentifier}
}

func (err *NotThreadAuthorError) Error() string {
	return fmt.Sprintf("User [%s] is not the author of thread [%s]", err.UserIdentifier, err.ThreadID)
}

// NoAgentError is raised when an agent is required by a session started without chat profile
type NoAgentError struct {
	SessionID string
}

func NewNoAgentError(sessionID string) *NoAgentError {
	return &NoAgentError{SessionID: sessionID}
}

func (err *NoAgentError) Error() string {
	return fmt.Sprintf("No agent selected in chat session [%s]", err.SessionID)
}

// ErrNoPersistence is raised by operations requiring a data layer when none is configured
var ErrNoPersistence = errors.New("No data layer configured")
