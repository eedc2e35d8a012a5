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

package foundry

import (
	"context"
	"net/url"
)

type inputMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func userMessageItem(text string) inputMessage {
	return inputMessage{Type: "message", Role: "user", Content: text}
}

type conversationRequest struct {
	Items []inputMessage `json:"items,omitempty"`
}

type itemsRequest struct {
	Items []inputMessage `json:"items"`
}

type conversation struct {
	ID string `json:"id"`
}

// CreateConversation starts a conversation, seeded with the first user message when not empty.
func (c *Client) CreateConversation(ctx context.Context, firstUserMessage string) (string, error) {
	body := conversationRequest{}
	if firstUserMessage != "" {
		body.Items = []inputMessage{userMessageItem(firstUserMessage)}
	}
	result := &conversation{}
	err := checkResponse(c.request(ctx).SetBody(body).SetResult(result).Post("/openai/conversations"))
	if err != nil {
		return "", err
	}
	log.WithField("conversation", result.ID).Debug("conversation created")
	return result.ID, nil
}

func (c *Client) AddUserMessage(ctx context.Context, conversationID string, text string) error {
	return checkResponse(c.request(ctx).
		SetBody(itemsRequest{Items: []inputMessage{userMessageItem(text)}}).
		Post("/openai/conversations/" + url.PathEscape(conversationID) + "/items"))
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return checkResponse(c.request(ctx).Delete("/openai/conversations/" + url.PathEscape(conversationID)))
}
