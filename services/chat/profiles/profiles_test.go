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

package profiles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentchat/agentchat/clients/foundry"
)

type fakeLister struct {
	agents []*foundry.Agent
	err    error
	calls  int
	limits []int
}

func (l *fakeLister) ListAgents(_ context.Context, limit int) ([]*foundry.Agent, error) {
	l.calls++
	l.limits = append(l.limits, limit)
	if limit < len(l.agents) {
		return l.agents[:limit], l.err
	}
	return l.agents, l.err
}

func makeAgent(name string, model string, description string) *foundry.Agent {
	agent := &foundry.Agent{ID: name, Name: name}
	agent.Versions.Latest.Description = description
	agent.Versions.Latest.Definition.Model = model
	return agent
}

func TestNewChatProfile(t *testing.T) {
	profile := NewChatProfile(makeAgent("agent-km", "gpt-4o", "Knowledge management"))

	assert.Equal(t, "agent-km", profile.Name)
	assert.Equal(
		t,
		"**Agent:** agent-km\n\n**Model:** gpt-4o\n\n**Description:** Knowledge management",
		profile.MarkdownDescription,
	)
}

func TestListIsCached(t *testing.T) {
	lister := &fakeLister{agents: []*foundry.Agent{
		makeAgent("agent-km", "gpt-4o", "a"),
		makeAgent("agent-charts", "gpt-4o-mini", "b"),
	}}
	provider, err := NewProvider(lister, 0, time.Minute)
	assert.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return now }

	profiles, err := provider.List(context.Background())
	assert.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, []int{DefaultLimit}, lister.limits)

	_, err = provider.List(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	now = now.Add(2 * time.Minute)
	_, err = provider.List(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, lister.calls)

	provider.Invalidate()
	_, err = provider.List(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, lister.calls)
}

func TestListWithoutCache(t *testing.T) {
	lister := &fakeLister{agents: []*foundry.Agent{makeAgent("agent-km", "gpt-4o", "a")}}
	provider, err := NewProvider(lister, 3, 0)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = provider.List(context.Background())
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, lister.calls)
	assert.Equal(t, []int{3, 3, 3}, lister.limits)
}

func TestListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("boom")}
	provider, err := NewProvider(lister, 10, time.Minute)
	assert.NoError(t, err)

	_, err = provider.List(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// Errors are not cached
	lister.err = nil
	lister.agents = []*foundry.Agent{makeAgent("agent-km", "gpt-4o", "a")}
	profiles, err := provider.List(context.Background())
	assert.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestHas(t *testing.T) {
	lister := &fakeLister{agents: []*foundry.Agent{makeAgent("agent-km", "gpt-4o", "a")}}
	provider, err := NewProvider(lister, 10, time.Minute)
	assert.NoError(t, err)

	ok, err := provider.Has(context.Background(), "agent-km")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = provider.Has(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultProfile(t *testing.T) {
	lister := &fakeLister{agents: []*foundry.Agent{
		makeAgent("agent-a", "gpt-4o", "a"),
		makeAgent("agent-km", "gpt-4o", "km"),
	}}
	provider, err := NewProvider(lister, 10, 0)
	assert.NoError(t, err)
	provider.DefaultName = "agent-km"

	profiles, err := provider.List(context.Background())
	assert.NoError(t, err)
	if assert.Len(t, profiles, 2) {
		assert.False(t, profiles[0].Default)
		assert.True(t, profiles[1].Default)
	}
}

func TestListLimitedIsCachedPerLimit(t *testing.T) {
	lister := &fakeLister{agents: []*foundry.Agent{
		makeAgent("agent-a", "gpt-4o", "a"),
		makeAgent("agent-b", "gpt-4o", "b"),
		makeAgent("agent-c", "gpt-4o", "c"),
	}}
	provider, err := NewProvider(lister, 10, time.Minute)
	assert.NoError(t, err)

	profiles, err := provider.ListLimited(context.Background(), 1)
	assert.NoError(t, err)
	assert.Len(t, profiles, 1)

	profiles, err = provider.ListLimited(context.Background(), 2)
	assert.NoError(t, err)
	assert.Len(t, profiles, 2)

	profiles, err = provider.ListLimited(context.Background(), 1)
	assert.NoError(t, err)
	assert.Len(t, profiles, 1)
	assert.Equal(t, 2, lister.calls)

	profiles, err = provider.List(context.Background())
	assert.NoError(t, err)
	assert.Len(t, profiles, 3)

	// A non positive limit is the configured one
	_, err = provider.ListLimited(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, lister.limits)

	// Least recently used limits are evicted
	for limit := 3; limit <= 8; limit++ {
		_, err = provider.ListLimited(context.Background(), limit)
		assert.NoError(t, err)
	}
	assert.Equal(t, 9, lister.calls)
	_, err = provider.ListLimited(context.Background(), 2)
	assert.NoError(t, err)
	assert.Equal(t, 10, lister.calls)
	_, err = provider.ListLimited(context.Background(), 10)
	assert.NoError(t, err)
	assert.Equal(t, 10, lister.calls)
}
