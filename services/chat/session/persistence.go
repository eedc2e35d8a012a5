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
	"io"

	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
)

const threadNameMaxLength = 50

func threadName(text string) string {
	runes := []rune(text)
	if len(runes) > threadNameMaxLength {
		runes = runes[:threadNameMaxLength]
	}
	return string(runes)
}

// Persistence failures never interrupt the chat, they are only logged.

func (s *Session) dataLayer() *datalayer.DataLayer {
	return s.manager.options.DataLayer
}

func (s *Session) logger() *logrus.Entry {
	return log.WithFields(logrus.Fields{"session": s.ID, "thread": s.ThreadID})
}

// ensureThread stores the session thread on its first user message.
func (s *Session) ensureThread(ctx context.Context, firstUserMessage string) {
	dl := s.dataLayer()
	if dl == nil {
		return
	}

	s.stateLock.Lock()
	stored := s.threadStored
	s.threadStored = true
	s.stateLock.Unlock()
	if stored {
		return
	}

	name := threadName(firstUserMessage)
	userID := s.User.Identifier
	metadata := backend.Metadata{}
	if s.AgentName != "" {
		metadata[MetadataAgentName] = s.AgentName
	}
	err := dl.UpdateThread(ctx, s.ThreadID, datalayer.ThreadUpdate{
		Name:     &name,
		UserID:   &userID,
		Metadata: metadata,
	})
	if err != nil {
		s.logger().WithError(err).Warn("unable to store the thread")
	}
}

func (s *Session) persistMessage(ctx context.Context, message *OutputMessage, stepType string) {
	dl := s.dataLayer()
	if dl == nil {
		return
	}
	step := &backend.Step{
		ID:        message.ID,
		ThreadID:  message.ThreadID,
		ParentID:  message.ParentID,
		Name:      message.Author,
		Type:      stepType,
		Output:    message.Content,
		CreatedAt: message.CreatedAt,
		Start:     message.CreatedAt,
		End:       backend.Now(),
	}
	if err := dl.CreateStep(ctx, step); err != nil {
		s.logger().WithField("step", step.ID).WithError(err).Warn("unable to store the message")
	}
}

func (s *Session) persistElement(ctx context.Context, element *backend.Element, content io.Reader) {
	dl := s.dataLayer()
	if dl == nil {
		return
	}
	if err := dl.CreateElement(ctx, element, content); err != nil {
		s.logger().WithField("element", element.ID).WithError(err).Warn("unable to store the element")
	}
}

func (s *Session) persistConversation(ctx context.Context, conversationID string) {
	err := s.dataLayer().UpsertThreadMetadata(ctx, s.ThreadID, backend.Metadata{
		MetadataConversationID: conversationID,
		MetadataAgentName:      s.AgentName,
	})
	if err != nil {
		s.logger().WithError(err).Warn("unable to store the conversation id")
	}
}
