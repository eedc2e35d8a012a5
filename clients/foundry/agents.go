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
	"strconv"
)

type AgentDefinition struct {
	Kind         string `json:"kind,omitempty"`
	Model        string `json:"model"`
	Instructions string `json:"instructions,omitempty"`
}

type AgentVersion struct {
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Definition  AgentDefinition `json:"definition"`
}

type AgentVersions struct {
	Latest AgentVersion `json:"latest"`
}

type Agent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Versions AgentVersions `json:"versions"`
}

type agentList struct {
	Data    []*Agent `json:"data"`
	HasMore bool     `json:"has_more"`
	LastID  string   `json:"last_id"`
}

// ListAgents retrieves up to limit agents of the project, limit <= 0 retrieves the first page.
func (c *Client) ListAgents(ctx context.Context, limit int) ([]*Agent, error) {
	agents := []*Agent{}
	after := ""
	for {
		page := &agentList{}
		request := c.request(ctx).SetResult(page)
		if limit > 0 {
			request.SetQueryParam("limit", strconv.Itoa(limit-len(agents)))
		}
		if after != "" {
			request.SetQueryParam("after", after)
		}
		if err := checkResponse(request.Get("/agents")); err != nil {
			return nil, err
		}
		for _, agent := range page.Data {
			agents = append(agents, agent)
			if limit > 0 && len(agents) >= limit {
				return agents, nil
			}
		}
		if limit <= 0 || !page.HasMore || page.LastID == "" {
			return agents, nil
		}
		after = page.LastID
	}
}

func (c *Client) GetAgent(ctx context.Context, name string) (*Agent, error) {
	agent := &Agent{}
	err := checkResponse(c.request(ctx).SetResult(agent).Get("/agents/" + url.PathEscape(name)))
	if err != nil {
		return nil, err
	}
	return agent, nil
}
