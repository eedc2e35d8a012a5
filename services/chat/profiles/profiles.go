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
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/clients/foundry"
)

var log = logrus.WithField("component", "profiles")

const (
	DefaultLimit = 10
	DefaultTTL   = time.Minute
	// Number of distinct limits whose profiles are kept
	cacheSize = 8
)

type ChatProfile struct {
	Name                string `json:"name"`
	MarkdownDescription string `json:"markdown_description"`
	// Default flags the profile selected when the user doesn't pick one
	Default bool `json:"default,omitempty"`
}

// AgentLister is the part of the agent project client needed to build the profiles.
type AgentLister interface {
	ListAgents(ctx context.Context, limit int) ([]*foundry.Agent, error)
}

func NewChatProfile(agent *foundry.Agent) ChatProfile {
	latest := agent.Versions.Latest
	return ChatProfile{
		Name: agent.Name,
		MarkdownDescription: fmt.Sprintf(
			"**Agent:** %s\n\n**Model:** %s\n\n**Description:** %s",
			agent.Name,
			latest.Definition.Model,
			latest.Description,
		),
	}
}

type cachedProfiles struct {
	profiles  []ChatProfile
	expiresAt time.Time
}

// Provider lists the agents of the project as chat profiles.
type Provider struct {
	lister AgentLister
	limit  int
	ttl    time.Duration
	now    func() time.Time
	// DefaultName is the name of the agent flagged as the default profile
	DefaultName string

	// Serializes refreshes so that concurrent sessions don't all hit the agent project.
	refreshLock sync.Mutex
	cache       *lru.Cache
}

// NewProvider builds a provider listing up to `limit` agents, cached for `ttl` (0 disables the cache).
func NewProvider(lister AgentLister, limit int, ttl time.Duration) (*Provider, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Provider{
		lister: lister,
		limit:  limit,
		ttl:    ttl,
		now:    time.Now,
		cache:  cache,
	}, nil
}

func (p *Provider) cached(limit int) ([]ChatProfile, bool) {
	if p.ttl <= 0 {
		return nil, false
	}
	value, ok := p.cache.Get(limit)
	if !ok {
		return nil, false
	}
	entry := value.(*cachedProfiles)
	if p.now().After(entry.expiresAt) {
		p.cache.Remove(limit)
		return nil, false
	}
	return entry.profiles, true
}

// List lists up to the configured limit of profiles.
func (p *Provider) List(ctx context.Context) ([]ChatProfile, error) {
	return p.ListLimited(ctx, p.limit)
}

// ListLimited lists up to `limit` profiles, the configured limit is used when `limit` is not positive.
//
// The profiles are cached per limit.
func (p *Provider) ListLimited(ctx context.Context, limit int) ([]ChatProfile, error) {
	if limit <= 0 {
		limit = p.limit
	}
	if profiles, ok := p.cached(limit); ok {
		return profiles, nil
	}

	p.refreshLock.Lock()
	defer p.refreshLock.Unlock()
	if profiles, ok := p.cached(limit); ok {
		return profiles, nil
	}

	agents, err := p.lister.ListAgents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to list the agents: %w", err)
	}
	profiles := make([]ChatProfile, 0, len(agents))
	for _, agent := range agents {
		profile := NewChatProfile(agent)
		profile.Default = p.DefaultName != "" && profile.Name == p.DefaultName
		profiles = append(profiles, profile)
	}
	log.Infof("Retrieved %d agents.", len(profiles))

	if p.ttl > 0 {
		p.cache.Add(limit, &cachedProfiles{profiles: profiles, expiresAt: p.now().Add(p.ttl)})
	}
	return profiles, nil
}

func (p *Provider) Has(ctx context.Context, name string) (bool, error) {
	profiles, err := p.List(ctx)
	if err != nil {
		return false, err
	}
	for _, profile := range profiles {
		if profile.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached profiles.
func (p *Provider) Invalidate() {
	p.cache.Purge()
}
