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
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/utils"
)

var log = logrus.WithField("component", "session")

type Options struct {
	// DataLayer is optional, without it nothing is persisted
	DataLayer      *datalayer.DataLayer
	NewAgentClient AgentClientFactory
	Drawer         *charts.Drawer
}

// Manager holds the live chat sessions
type Manager struct {
	options Options

	sessionsLock       sync.RWMutex
	sessions           map[string]*Session
	inFlightMessages   int
	sessionsObservable *utils.Observable
}

func NewManager(options Options) (*Manager, error) {
	if options.NewAgentClient == nil {
		return nil, fmt.Errorf("an agent client factory is required")
	}
	if options.Drawer == nil {
		options.Drawer = charts.NewDrawer(afero.NewOsFs(), charts.DefaultDownloadDir)
	}
	return &Manager{
		options:            options,
		sessionsLock:       sync.RWMutex{},
		sessions:           map[string]*Session{},
		sessionsObservable: utils.NewObservable(),
	}, nil
}

func (manager *Manager) addSession(session *Session) {
	manager.sessionsLock.Lock()
	defer manager.sessionsLock.Unlock()
	manager.sessions[session.ID] = session
	manager.sessionsObservable.Emit()
}

func (manager *Manager) removeSession(sessionID string) *Session {
	manager.sessionsLock.Lock()
	defer manager.sessionsLock.Unlock()
	session, ok := manager.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(manager.sessions, sessionID)
	manager.sessionsObservable.Emit()
	return session
}

func (manager *Manager) beginMessage() {
	manager.sessionsLock.Lock()
	defer manager.sessionsLock.Unlock()
	manager.inFlightMessages++
}

func (manager *Manager) endMessage() {
	manager.sessionsLock.Lock()
	defer manager.sessionsLock.Unlock()
	manager.inFlightMessages--
	manager.sessionsObservable.Emit()
}

func (manager *Manager) idle() bool {
	manager.sessionsLock.RLock()
	defer manager.sessionsLock.RUnlock()
	return manager.inFlightMessages == 0
}

func (manager *Manager) Count() int {
	manager.sessionsLock.RLock()
	defer manager.sessionsLock.RUnlock()
	return len(manager.sessions)
}

// Start opens a chat session for the given user, an empty chat profile starts a session without agent.
//
// It returns the messages greeting the user.
func (manager *Manager) Start(ctx context.Context, user auth.User, chatProfile string) (*Session, []*OutputMessage) {
	session := newSession(manager, user, chatProfile, "")
	manager.addSession(session)
	session.logger().WithFields(logrus.Fields{
		"user":  user.Identifier,
		"agent": chatProfile,
	}).Info("chat session started")

	messages := []*OutputMessage{session.newAssistantMessage(fmt.Sprintf("Hello %s", user.Identifier), "")}
	if chatProfile == "" {
		messages = append(messages, session.newAssistantMessage("No agent selected.", ""))
	} else {
		messages = append(messages, session.newAssistantMessage(fmt.Sprintf("Starting chat using **%s**", chatProfile), ""))
	}
	for _, message := range messages {
		// Queued by the data layer until the first user message of the thread
		session.persistMessage(ctx, message, backend.AssistantMessageStepType)
	}
	return session, messages
}

// Resume opens a chat session continuing an existing thread of the given user.
func (manager *Manager) Resume(ctx context.Context, user auth.User, threadID string) (*Session, error) {
	dl := manager.options.DataLayer
	if dl == nil {
		return nil, ErrNoPersistence
	}
	thread, err := dl.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, NewThreadNotFoundError(threadID)
	}
	if thread.UserID != user.Identifier {
		return nil, NewNotThreadAuthorError(threadID, user.Identifier)
	}

	session := newSession(manager, user, thread.Metadata.String(MetadataAgentName), threadID)
	session.conversationID = thread.Metadata.String(MetadataConversationID)
	session.threadStored = true
	dl.MarkThreadReady(threadID)

	manager.addSession(session)
	session.logger().WithFields(logrus.Fields{
		"user":         user.Identifier,
		"agent":        session.AgentName,
		"conversation": session.conversationID,
	}).Info("chat session resumed")
	return session, nil
}

func (manager *Manager) Get(sessionID string) (*Session, error) {
	manager.sessionsLock.RLock()
	defer manager.sessionsLock.RUnlock()
	session, ok := manager.sessions[sessionID]
	if !ok {
		return nil, NewSessionNotFoundError(sessionID)
	}
	return session, nil
}

// End closes a chat session and releases its agent client.
func (manager *Manager) End(sessionID string) error {
	session := manager.removeSession(sessionID)
	if session == nil {
		return NewSessionNotFoundError(sessionID)
	}
	session.close()
	session.logger().Info("chat session ended")
	return nil
}

// Destroy waits for the messages being handled, within the limits of the given context, and ends every session.
func (manager *Manager) Destroy(ctx context.Context) {
	err := manager.sessionsObservable.WaitFor(ctx, manager.idle)
	if err != nil {
		log.WithError(err).Warn("ending the chat sessions while messages are still being handled")
	}

	manager.sessionsLock.Lock()
	sessions := manager.sessions
	manager.sessions = map[string]*Session{}
	manager.sessionsLock.Unlock()

	for _, session := range sessions {
		session.close()
	}
	log.WithField("count", len(sessions)).Debug("all chat sessions ended")
}
