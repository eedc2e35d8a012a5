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

package memory

import (
	"context"
	"sync"

	"github.com/agentchat/agentchat/services/datalayer/backend"
)

type memoryBackend struct {
	lock     sync.RWMutex
	users    map[string]*backend.User
	threads  map[string]*backend.Thread
	steps    map[string]map[string]*backend.Step
	elements map[string]map[string]*backend.Element
}

func CreateBackend() (backend.Backend, error) {
	return &memoryBackend{
		users:    make(map[string]*backend.User),
		threads:  make(map[string]*backend.Thread),
		steps:    make(map[string]map[string]*backend.Step),
		elements: make(map[string]map[string]*backend.Element),
	}, nil
}

func (b *memoryBackend) Kind() string {
	return "Memory"
}

func (b *memoryBackend) Name() string {
	return "memory"
}

func (b *memoryBackend) Destroy() {
	// Nothing
}

func (b *memoryBackend) GetUser(_ context.Context, userID string) (*backend.User, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	user, ok := b.users[userID]
	if !ok {
		return nil, &backend.UnknownUserError{UserID: userID}
	}
	return user.Clone(), nil
}

func (b *memoryBackend) CreateUser(_ context.Context, user *backend.User) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, exists := b.users[user.ID]; exists {
		return &backend.UserAlreadyExistsError{UserID: user.ID}
	}
	b.users[user.ID] = user.Clone()
	return nil
}

func (b *memoryBackend) GetThread(_ context.Context, threadID string) (*backend.Thread, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	thread, ok := b.threads[threadID]
	if !ok {
		return nil, &backend.UnknownThreadError{ThreadID: threadID}
	}
	return thread.Clone(), nil
}

func (b *memoryBackend) UpsertThread(_ context.Context, thread *backend.Thread) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.threads[thread.ID] = thread.Clone()
	return nil
}

func (b *memoryBackend) DeleteThread(_ context.Context, threadID string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.steps, threadID)
	delete(b.elements, threadID)
	if _, exists := b.threads[threadID]; !exists {
		return &backend.UnknownThreadError{ThreadID: threadID}
	}
	delete(b.threads, threadID)
	return nil
}

func (b *memoryBackend) ListThreads(_ context.Context, filter backend.ThreadFilter) ([]*backend.Thread, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	threads := make([]*backend.Thread, 0, len(b.threads))
	for _, thread := range b.threads {
		threads = append(threads, thread.Clone())
	}
	return backend.SelectThreads(threads, filter), nil
}

func (b *memoryBackend) GetStep(_ context.Context, threadID string, stepID string) (*backend.Step, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	step, ok := b.steps[threadID][stepID]
	if !ok {
		return nil, &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
	}
	return step.Clone(), nil
}

func (b *memoryBackend) FindStepThread(_ context.Context, stepID string) (string, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	for threadID, steps := range b.steps {
		if _, ok := steps[stepID]; ok {
			return threadID, nil
		}
	}
	return "", &backend.UnknownStepError{StepID: stepID}
}

func (b *memoryBackend) UpsertStep(_ context.Context, step *backend.Step) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	steps, ok := b.steps[step.ThreadID]
	if !ok {
		steps = make(map[string]*backend.Step)
		b.steps[step.ThreadID] = steps
	}
	steps[step.ID] = step.Clone()
	return nil
}

func (b *memoryBackend) DeleteStep(_ context.Context, threadID string, stepID string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	steps := b.steps[threadID]
	if _, ok := steps[stepID]; !ok {
		return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
	}
	delete(steps, stepID)
	return nil
}

func (b *memoryBackend) ListSteps(_ context.Context, threadID string) ([]*backend.Step, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	steps := []*backend.Step{}
	for _, step := range b.steps[threadID] {
		steps = append(steps, step.Clone())
	}
	backend.SortSteps(steps)
	return steps, nil
}

func (b *memoryBackend) GetElement(_ context.Context, threadID string, elementID string) (*backend.Element, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	element, ok := b.elements[threadID][elementID]
	if !ok {
		return nil, &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
	}
	return element.Clone(), nil
}

func (b *memoryBackend) UpsertElement(_ context.Context, element *backend.Element) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	elements, ok := b.elements[element.ThreadID]
	if !ok {
		elements = make(map[string]*backend.Element)
		b.elements[element.ThreadID] = elements
	}
	elements[element.ID] = element.Clone()
	return nil
}

func (b *memoryBackend) DeleteElement(_ context.Context, threadID string, elementID string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	elements := b.elements[threadID]
	if _, ok := elements[elementID]; !ok {
		return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
	}
	delete(elements, elementID)
	return nil
}

func (b *memoryBackend) ListElements(_ context.Context, threadID string) ([]*backend.Element, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	elements := []*backend.Element{}
	for _, element := range b.elements[threadID] {
		elements = append(elements, element.Clone())
	}
	backend.SortElements(elements)
	return elements, nil
}
