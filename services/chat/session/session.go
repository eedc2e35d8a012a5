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
	"sync"

	"github.com/google/uuid"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/datalayer/backend"
)

const (
	MetadataAgentName      = "agent_name"
	MetadataConversationID = "conversation_id"

	AssistantAuthor = "Assistant"
)

// AgentClient is the part of the agent project client used by a chat session.
type AgentClient interface {
	charts.Agent
	AddUserMessage(ctx context.Context, conversationID string, text string) error
	StreamResponse(ctx context.Context, req foundry.ResponseRequest, onDelta func(string) error) error
	Close()
}

type AgentClientFactory func() (AgentClient, error)

// OutputMessage is a message displayed in the chat.
type OutputMessage struct {
	ID        string             `json:"id"`
	ThreadID  string             `json:"thread_id"`
	ParentID  string             `json:"parent_id,omitempty"`
	Author    string             `json:"author"`
	Content   string             `json:"content"`
	CreatedAt string             `json:"created_at"`
	Elements  []*backend.Element `json:"elements,omitempty"`
}

// Sink receives the messages produced while handling a user message.
type Sink interface {
	// Send displays a new message.
	Send(message *OutputMessage) error
	// StreamToken appends a token to a message previously sent.
	StreamToken(message *OutputMessage, token string) error
	// Update replaces a message previously sent with its final version.
	Update(message *OutputMessage) error
}

type File struct {
	Name    string
	Mime    string
	Size    int64
	Content io.ReaderAt
}

func (f File) reader() io.Reader {
	return io.NewSectionReader(f.Content, 0, f.Size)
}

// Close releases the content of the file when it holds a resource, e.g. an uploaded temporary file.
func (f File) Close() error {
	if closer, ok := f.Content.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type Message struct {
	Content string
	Files   []File
}

// Close releases the content of every file of the message.
func (m Message) Close() {
	for _, file := range m.Files {
		if err := file.Close(); err != nil {
			log.WithField("file", file.Name).WithError(err).Warn("unable to close the file")
		}
	}
}

// Info is the public view of a session.
type Info struct {
	SessionID      string `json:"session_id"`
	UserIdentifier string `json:"user_identifier"`
	AgentName      string `json:"agent_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ThreadID       string `json:"thread_id"`
}

type Session struct {
	ID        string
	User      auth.User
	AgentName string
	ThreadID  string

	manager *Manager

	// Serializes the handling of the messages of this session
	messageLock sync.Mutex

	stateLock      sync.RWMutex
	conversationID string
	client         AgentClient
	threadStored   bool
	ended          bool
}

func newSession(manager *Manager, user auth.User, agentName string, threadID string) *Session {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return &Session{
		ID:        uuid.NewString(),
		User:      user,
		AgentName: agentName,
		ThreadID:  threadID,
		manager:   manager,
	}
}

func (s *Session) ConversationID() string {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.conversationID
}

func (s *Session) Info() Info {
	return Info{
		SessionID:      s.ID,
		UserIdentifier: s.User.Identifier,
		AgentName:      s.AgentName,
		ConversationID: s.ConversationID(),
		ThreadID:       s.ThreadID,
	}
}

// IsOwnedBy returns true if the session was started by the given user.
func (s *Session) IsOwnedBy(identifier string) bool {
	return s.User.Identifier == identifier
}

// agentClient lazily creates the agent client of the session.
func (s *Session) agentClient() (AgentClient, error) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.ended {
		return nil, NewSessionNotFoundError(s.ID)
	}
	if s.client == nil {
		client, err := s.manager.options.NewAgentClient()
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	return s.client, nil
}

// close releases the agent client, if any, and the writes of the thread still waiting for a user message.
func (s *Session) close() {
	s.stateLock.Lock()
	client := s.client
	s.client = nil
	s.ended = true
	s.stateLock.Unlock()

	if client != nil {
		client.Close()
	}
	if dl := s.manager.options.DataLayer; dl != nil {
		dl.DropThreadQueue(s.ThreadID)
	}
}

func (s *Session) setConversationID(conversationID string) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.conversationID = conversationID
}

func (s *Session) newMessage(author string, content string, parentID string) *OutputMessage {
	return &OutputMessage{
		ID:        uuid.NewString(),
		ThreadID:  s.ThreadID,
		ParentID:  parentID,
		Author:    author,
		Content:   content,
		CreatedAt: backend.Now(),
	}
}

func (s *Session) newAssistantMessage(content string, parentID string) *OutputMessage {
	return s.newMessage(AssistantAuthor, content, parentID)
}
