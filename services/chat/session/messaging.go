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
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/chat/csvpayload"
	"github.com/agentchat/agentchat/services/datalayer/backend"
)

// errorKind is the name of the type of an error, e.g. "APIError".
func errorKind(err error) string {
	kind := fmt.Sprintf("%T", err)
	kind = strings.TrimLeft(kind, "*")
	if dot := strings.LastIndex(kind, "."); dot >= 0 {
		kind = kind[dot+1:]
	}
	if kind == "" || strings.ToLower(kind[:1]) == kind[:1] {
		return "Error"
	}
	return kind
}

func errorNotice(err error) string {
	cause := errors.Cause(err)
	if cause == nil {
		cause = err
	}
	return fmt.Sprintf("\n\n⚠️ Error: %s: %s", errorKind(cause), cause.Error())
}

func appendBlock(text string, block string) string {
	if text == "" {
		return block
	}
	return text + "\n\n" + block
}

// storeUserMessage stores the thread, on its first message, the user message and its files.
func (s *Session) storeUserMessage(ctx context.Context, text string, files []File) *OutputMessage {
	message := s.newMessage(s.User.Identifier, text, "")

	name := text
	if name == "" && len(files) > 0 {
		name = files[0].Name
	}
	s.ensureThread(ctx, name)
	s.persistMessage(ctx, message, backend.UserMessageStepType)

	for _, file := range files {
		element := &backend.Element{
			ID:       uuid.NewString(),
			ThreadID: s.ThreadID,
			ForID:    message.ID,
			Type:     "file",
			Name:     file.Name,
			Display:  "inline",
			Mime:     file.Mime,
			Size:     file.Size,
		}
		s.persistElement(ctx, element, file.reader())
		message.Elements = append(message.Elements, element)
	}
	return message
}

// HandleMessage forwards a user message to the agent of the session and streams its answer to the sink.
//
// Failures are reported in the answer, the returned message is its final version, nil if there was nothing to do.
func (s *Session) HandleMessage(ctx context.Context, message Message, sink Sink) *OutputMessage {
	s.messageLock.Lock()
	defer s.messageLock.Unlock()
	s.manager.beginMessage()
	defer s.manager.endMessage()

	text := strings.TrimSpace(message.Content)
	if text == "" && len(message.Files) == 0 {
		return nil
	}

	userMessage := s.storeUserMessage(ctx, text, message.Files)

	if s.AgentName == "" {
		out := s.newAssistantMessage("No agent selected.", userMessage.ID)
		if err := sink.Send(out); err != nil {
			s.logger().WithError(err).Debug("unable to send the message")
		}
		s.persistMessage(ctx, out, backend.AssistantMessageStepType)
		return out
	}

	out := s.newAssistantMessage("", userMessage.ID)
	err := sink.Send(out)
	if err == nil {
		err = s.reply(ctx, text, message.Files, out, sink)
	}
	if err != nil {
		s.logger().WithField("stack", errors.ErrorStack(err)).WithError(err).Error("Error handling message.")
		notice := errorNotice(err)
		if sendErr := sink.StreamToken(out, notice); sendErr != nil {
			s.logger().WithError(sendErr).Debug("unable to stream the error")
		}
		out.Content += notice
	}

	if err := sink.Update(out); err != nil {
		s.logger().WithError(err).Debug("unable to update the message")
	}
	s.persistMessage(ctx, out, backend.AssistantMessageStepType)
	return out
}

func (s *Session) reply(ctx context.Context, text string, files []File, out *OutputMessage, sink Sink) error {
	client, err := s.agentClient()
	if err != nil {
		return errors.Trace(err)
	}

	input := text
	otherFiles := 0
	for _, file := range files {
		if !csvpayload.IsCSV(file.Name, file.Mime) {
			otherFiles++
			continue
		}
		payload, err := csvpayload.ToAgentPayload(file.reader(), file.Name)
		if err != nil {
			return errors.Annotatef(err, "unable to read %q", file.Name)
		}
		input = appendBlock(input, payload)
	}

	stream := func(token string) error {
		out.Content += token
		return sink.StreamToken(out, token)
	}

	if otherFiles > 0 {
		if err := stream(fmt.Sprintf("Received %d file(s). File handling is not implemented yet.\n\n", otherFiles)); err != nil {
			return errors.Trace(err)
		}
	}

	conversationID := s.ConversationID()
	if conversationID == "" {
		conversationID, err = client.CreateConversation(ctx, input)
		if err != nil {
			return errors.Trace(err)
		}
		s.setConversationID(conversationID)
		s.persistConversation(ctx, conversationID)
		s.logger().WithField("conversation", conversationID).Debug("conversation created")
	} else if err := client.AddUserMessage(ctx, conversationID, input); err != nil {
		return errors.Trace(err)
	}

	parts := []string{}
	err = client.StreamResponse(
		ctx,
		foundry.ResponseRequest{ConversationID: conversationID, AgentName: s.AgentName},
		func(delta string) error {
			if delta == "" {
				return nil
			}
			parts = append(parts, delta)
			return stream(delta)
		},
	)
	if err != nil {
		return errors.Trace(err)
	}

	if final := strings.Join(parts, ""); final != "" {
		out.Content = final
	}
	return nil
}

type ChartRequest struct {
	Content string
	// File is an optional CSV file
	File *File
}

type ChartOutput struct {
	*charts.Result
	Message *OutputMessage `json:"message"`
}

// DrawChart asks the agent of the session for a chart, the generated file is attached to the answer.
func (s *Session) DrawChart(ctx context.Context, request ChartRequest) (*ChartOutput, error) {
	s.messageLock.Lock()
	defer s.messageLock.Unlock()
	s.manager.beginMessage()
	defer s.manager.endMessage()

	if s.AgentName == "" {
		return nil, NewNoAgentError(s.ID)
	}
	client, err := s.agentClient()
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(request.Content)
	files := []File{}
	if request.File != nil {
		files = append(files, *request.File)
	}
	userMessage := s.storeUserMessage(ctx, text, files)

	drawRequest := charts.Request{
		ConversationID: s.ConversationID(),
		AgentName:      s.AgentName,
		UserText:       text,
	}
	if request.File != nil {
		drawRequest.CSV = request.File.reader()
		drawRequest.CSVFilename = request.File.Name
	}
	result, err := s.manager.options.Drawer.Run(ctx, client, drawRequest)
	if err != nil {
		return nil, err
	}

	if drawRequest.ConversationID == "" {
		s.setConversationID(result.ConversationID)
		s.persistConversation(ctx, result.ConversationID)
	}

	out := s.newAssistantMessage(result.Text, userMessage.ID)
	if result.LocalPath != "" {
		element, err := s.attachChart(ctx, result, out.ID)
		if err != nil {
			return nil, err
		}
		out.Elements = append(out.Elements, element)
	}
	s.persistMessage(ctx, out, backend.AssistantMessageStepType)

	return &ChartOutput{Result: result, Message: out}, nil
}

func (s *Session) attachChart(ctx context.Context, result *charts.Result, messageID string) (*backend.Element, error) {
	file, err := s.manager.options.Drawer.Open(result.LocalPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	name := charts.ElementName(result.Filename)
	element := &backend.Element{
		ID:       uuid.NewString(),
		ThreadID: s.ThreadID,
		ForID:    messageID,
		Type:     "file",
		Name:     name,
		Display:  "inline",
		Mime:     mime.TypeByExtension(filepath.Ext(name)),
		Size:     info.Size(),
	}
	s.persistElement(ctx, element, file)
	return element, nil
}
