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
	"strings"
)

const ContainerFileCitationType = "container_file_citation"

type AgentReference struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CodeInterpreterContainer struct {
	Type    string   `json:"type"`
	FileIDs []string `json:"file_ids,omitempty"`
}

type Tool struct {
	Type      string                    `json:"type"`
	Container *CodeInterpreterContainer `json:"container,omitempty"`
}

// CodeInterpreterTool exposes the given uploaded files to the code interpreter of the agent.
func CodeInterpreterTool(fileIDs ...string) Tool {
	return Tool{
		Type:      "code_interpreter",
		Container: &CodeInterpreterContainer{Type: "auto", FileIDs: fileIDs},
	}
}

type ResponseRequest struct {
	ConversationID string
	AgentName      string
	// Input is empty when the user message was already added to the conversation.
	Input string
	Tools []Tool
}

type responseBody struct {
	Conversation string          `json:"conversation,omitempty"`
	Agent        *AgentReference `json:"agent,omitempty"`
	Input        string          `json:"input"`
	Tools        []Tool          `json:"tools,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
}

func (r ResponseRequest) body(stream bool) responseBody {
	body := responseBody{
		Conversation: r.ConversationID,
		Input:        r.Input,
		Tools:        r.Tools,
		Stream:       stream,
	}
	if r.AgentName != "" {
		body.Agent = &AgentReference{Name: r.AgentName, Type: "agent_reference"}
	}
	return body
}

type Annotation struct {
	Type        string `json:"type"`
	FileID      string `json:"file_id,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
}

type Content struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	Annotations []*Annotation `json:"annotations,omitempty"`
}

type OutputItem struct {
	ID      string     `json:"id,omitempty"`
	Type    string     `json:"type"`
	Role    string     `json:"role,omitempty"`
	Content []*Content `json:"content,omitempty"`
}

type Response struct {
	ID     string        `json:"id"`
	Status string        `json:"status,omitempty"`
	Output []*OutputItem `json:"output"`
}

// OutputText concatenates the text outputs of the response messages.
func (r *Response) OutputText() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" {
				b.WriteString(content.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// LatestContainerFileCitation returns the last complete citation of a file generated in a container.
func (r *Response) LatestContainerFileCitation() *Annotation {
	for i := len(r.Output) - 1; i >= 0; i-- {
		item := r.Output[i]
		if item.Type != "message" {
			continue
		}
		for j := len(item.Content) - 1; j >= 0; j-- {
			content := item.Content[j]
			if content.Type != "output_text" {
				continue
			}
			for k := len(content.Annotations) - 1; k >= 0; k-- {
				annotation := content.Annotations[k]
				if annotation.Type == ContainerFileCitationType &&
					annotation.FileID != "" &&
					annotation.Filename != "" &&
					annotation.ContainerID != "" {
					return annotation
				}
			}
		}
	}
	return nil
}

func (c *Client) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	response := &Response{}
	err := checkResponse(c.request(ctx).SetBody(req.body(false)).SetResult(response).Post("/openai/responses"))
	if err != nil {
		return nil, err
	}
	return response, nil
}
