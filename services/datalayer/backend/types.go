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

package backend

import (
	"sort"
	"strings"
	"time"
)

// TimestampFormat is fixed width so that timestamps sort lexicographically.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func Now() string {
	return FormatTimestamp(time.Now())
}

type Metadata map[string]interface{}

type User struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	CreatedAt  string   `json:"createdAt"`
	Metadata   Metadata `json:"metadata"`
}

type Thread struct {
	ID             string   `json:"id"`
	CreatedAt      string   `json:"createdAt"`
	Name           string   `json:"name,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	UserIdentifier string   `json:"userIdentifier,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Metadata       Metadata `json:"metadata,omitempty"`
}

type Feedback struct {
	ID       string `json:"id"`
	ForID    string `json:"forId"`
	ThreadID string `json:"threadId"`
	Value    int    `json:"value"`
	Comment  string `json:"comment,omitempty"`
}

const (
	UserMessageStepType      = "user_message"
	AssistantMessageStepType = "assistant_message"
	SystemMessageStepType    = "system_message"
)

type Step struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	IsError   bool      `json:"isError,omitempty"`
	CreatedAt string    `json:"createdAt"`
	Start     string    `json:"start,omitempty"`
	End       string    `json:"end,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

type Element struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	ForID     string `json:"forId,omitempty"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Display   string `json:"display"`
	Mime      string `json:"mime,omitempty"`
	Size      int64  `json:"size,omitempty"`
	ObjectKey string `json:"objectKey,omitempty"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type ThreadFilter struct {
	UserID string
	Search string
}

func (f ThreadFilter) Selects(thread *Thread) bool {
	if thread.UserID != f.UserID {
		return false
	}
	if f.Search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(thread.Name), strings.ToLower(f.Search))
}

// SelectThreads keeps the threads matching the filter, most recent first.
func SelectThreads(threads []*Thread, filter ThreadFilter) []*Thread {
	selected := []*Thread{}
	for _, thread := range threads {
		if filter.Selects(thread) {
			selected = append(selected, thread)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].CreatedAt > selected[j].CreatedAt
	})
	return selected
}

// SortSteps orders steps by creation time.
func SortSteps(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt < steps[j].CreatedAt
	})
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	clone := make(Metadata, len(m))
	for key, value := range m {
		clone[key] = value
	}
	return clone
}

func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	value, ok := m[key].(string)
	if !ok {
		return ""
	}
	return value
}

// SortElements orders elements by creation time.
func SortElements(elements []*Element) {
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].CreatedAt < elements[j].CreatedAt
	})
}
