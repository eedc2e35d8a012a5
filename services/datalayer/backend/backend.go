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
	"context"
)

// Backend is the storage half of the data layer.
//
// Threads and users are keyed by their own id, steps and elements are keyed by (thread id, id).
// Lookups of unknown records return the matching Unknown*Error.
type Backend interface {
	// Kind is a short human readable name of the storage technology, e.g. "CosmosDB"
	Kind() string
	// Name identifies the storage instance, e.g. a database name or a file path
	Name() string
	Destroy()

	GetUser(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	GetThread(ctx context.Context, threadID string) (*Thread, error)
	UpsertThread(ctx context.Context, thread *Thread) error
	// DeleteThread deletes the thread together with its steps and elements
	DeleteThread(ctx context.Context, threadID string) error
	// ListThreads returns the threads selected by the filter, most recent first
	ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error)

	GetStep(ctx context.Context, threadID string, stepID string) (*Step, error)
	// FindStepThread retrieves the id of the thread owning a step
	FindStepThread(ctx context.Context, stepID string) (string, error)
	UpsertStep(ctx context.Context, step *Step) error
	DeleteStep(ctx context.Context, threadID string, stepID string) error
	// ListSteps returns the steps of a thread ordered by creation time
	ListSteps(ctx context.Context, threadID string) ([]*Step, error)

	GetElement(ctx context.Context, threadID string, elementID string) (*Element, error)
	UpsertElement(ctx context.Context, element *Element) error
	DeleteElement(ctx context.Context, threadID string, elementID string) error
	ListElements(ctx context.Context, threadID string) ([]*Element, error)
}
