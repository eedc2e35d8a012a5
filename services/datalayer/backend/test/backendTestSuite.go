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

package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentchat/agentchat/services/datalayer/backend"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func timestamp(offset int) string {
	return backend.FormatTimestamp(baseTime.Add(time.Duration(offset) * time.Second))
}

func makeThread(id string, userID string, name string, offset int) *backend.Thread {
	return &backend.Thread{
		ID:             id,
		CreatedAt:      timestamp(offset),
		Name:           name,
		UserID:         userID,
		UserIdentifier: userID,
		Metadata:       backend.Metadata{"agent_name": "agent-km"},
	}
}

func makeStep(threadID string, id string, parentID string, stepType string, offset int) *backend.Step {
	return &backend.Step{
		ID:        id,
		ThreadID:  threadID,
		ParentID:  parentID,
		Name:      stepType,
		Type:      stepType,
		Output:    fmt.Sprintf("output of %s", id),
		CreatedAt: timestamp(offset),
	}
}

func extractThreadIDs(threads []*backend.Thread) []string {
	ids := []string{}
	for _, thread := range threads {
		ids = append(ids, thread.ID)
	}
	return ids
}

func extractStepIDs(steps []*backend.Step) []string {
	ids := []string{}
	for _, step := range steps {
		ids = append(ids, step.ID)
	}
	return ids
}

func RunSuite(t *testing.T, createBackend func() backend.Backend, destroyBackend func(backend.Backend)) {
	ctx := context.Background()

	t.Run("TestCreateBackend", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		assert.NotNil(t, b)
		assert.NotEmpty(t, b.Kind())
	})
	t.Run("TestUsers", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		_, err := b.GetUser(ctx, "admin")
		assert.IsType(t, &backend.UnknownUserError{}, err)

		err = b.CreateUser(ctx, &backend.User{
			ID:         "admin",
			Identifier: "Admin",
			CreatedAt:  timestamp(0),
			Metadata:   backend.Metadata{"role": "admin"},
		})
		assert.NoError(t, err)

		user, err := b.GetUser(ctx, "admin")
		assert.NoError(t, err)
		assert.Equal(t, "admin", user.ID)
		assert.Equal(t, "Admin", user.Identifier)
		assert.Equal(t, timestamp(0), user.CreatedAt)
		assert.Equal(t, "admin", user.Metadata["role"])

		err = b.CreateUser(ctx, &backend.User{ID: "admin", Identifier: "Other", CreatedAt: timestamp(1)})
		assert.IsType(t, &backend.UserAlreadyExistsError{}, err)

		user, err = b.GetUser(ctx, "admin")
		assert.NoError(t, err)
		assert.Equal(t, "Admin", user.Identifier)
	})
	t.Run("TestUpsertAndGetThread", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		_, err := b.GetThread(ctx, "thread-1")
		assert.IsType(t, &backend.UnknownThreadError{}, err)

		thread := makeThread("thread-1", "admin", "First chat", 0)
		thread.Tags = []string{"a", "b"}
		err = b.UpsertThread(ctx, thread)
		assert.NoError(t, err)

		retrieved, err := b.GetThread(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Equal(t, "thread-1", retrieved.ID)
		assert.Equal(t, "First chat", retrieved.Name)
		assert.Equal(t, "admin", retrieved.UserID)
		assert.Equal(t, "admin", retrieved.UserIdentifier)
		assert.Equal(t, []string{"a", "b"}, retrieved.Tags)
		assert.Equal(t, "agent-km", retrieved.Metadata.String("agent_name"))

		thread.Name = "Renamed"
		thread.Metadata["conversation_id"] = "conv_1"
		err = b.UpsertThread(ctx, thread)
		assert.NoError(t, err)

		retrieved, err = b.GetThread(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Equal(t, "Renamed", retrieved.Name)
		assert.Equal(t, "conv_1", retrieved.Metadata.String("conversation_id"))
		assert.Equal(t, "agent-km", retrieved.Metadata.String("agent_name"))
	})
	t.Run("TestListThreads", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		assert.NoError(t, b.UpsertThread(ctx, makeThread("t-1", "alice", "Sales by region", 1)))
		assert.NoError(t, b.UpsertThread(ctx, makeThread("t-2", "alice", "Weather", 2)))
		assert.NoError(t, b.UpsertThread(ctx, makeThread("t-3", "bob", "Sales forecast", 3)))
		assert.NoError(t, b.UpsertThread(ctx, makeThread("t-4", "alice", "SALES report", 4)))

		threads, err := b.ListThreads(ctx, backend.ThreadFilter{UserID: "alice"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"t-4", "t-2", "t-1"}, extractThreadIDs(threads))

		threads, err = b.ListThreads(ctx, backend.ThreadFilter{UserID: "alice", Search: "sales"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"t-4", "t-1"}, extractThreadIDs(threads))

		threads, err = b.ListThreads(ctx, backend.ThreadFilter{UserID: "carol"})
		assert.NoError(t, err)
		assert.Len(t, threads, 0)
	})
	t.Run("TestSteps", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		assert.NoError(t, b.UpsertThread(ctx, makeThread("thread-1", "admin", "chat", 0)))

		// Inserted out of order on purpose
		assert.NoError(t, b.UpsertStep(ctx, makeStep("thread-1", "step-2", "step-1", backend.AssistantMessageStepType, 2)))
		assert.NoError(t, b.UpsertStep(ctx, makeStep("thread-1", "step-1", "", backend.UserMessageStepType, 1)))
		assert.NoError(t, b.UpsertStep(ctx, makeStep("thread-2", "step-3", "", backend.UserMessageStepType, 0)))

		steps, err := b.ListSteps(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"step-1", "step-2"}, extractStepIDs(steps))
		assert.Equal(t, "step-1", steps[1].ParentID)

		step, err := b.GetStep(ctx, "thread-1", "step-2")
		assert.NoError(t, err)
		assert.Equal(t, backend.AssistantMessageStepType, step.Type)
		assert.Nil(t, step.Feedback)

		step.Feedback = &backend.Feedback{ID: "thread-1::step-1", ForID: "step-1", ThreadID: "thread-1", Value: 1}
		step.Output = "updated"
		assert.NoError(t, b.UpsertStep(ctx, step))

		step, err = b.GetStep(ctx, "thread-1", "step-2")
		assert.NoError(t, err)
		assert.Equal(t, "updated", step.Output)
		if assert.NotNil(t, step.Feedback) {
			assert.Equal(t, 1, step.Feedback.Value)
			assert.Equal(t, "thread-1::step-1", step.Feedback.ID)
		}

		_, err = b.GetStep(ctx, "thread-2", "step-2")
		assert.IsType(t, &backend.UnknownStepError{}, err)

		threadID, err := b.FindStepThread(ctx, "step-3")
		assert.NoError(t, err)
		assert.Equal(t, "thread-2", threadID)

		_, err = b.FindStepThread(ctx, "unknown")
		assert.IsType(t, &backend.UnknownStepError{}, err)

		assert.NoError(t, b.DeleteStep(ctx, "thread-1", "step-1"))
		err = b.DeleteStep(ctx, "thread-1", "step-1")
		assert.IsType(t, &backend.UnknownStepError{}, err)

		steps, err = b.ListSteps(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"step-2"}, extractStepIDs(steps))
	})
	t.Run("TestElements", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		element := &backend.Element{
			ID:        "element-1",
			ThreadID:  "thread-1",
			Type:      "file",
			Name:      "data.csv",
			Display:   "inline",
			Mime:      "text/csv",
			Size:      42,
			ObjectKey: "thread-1/element-1/data.csv",
			CreatedAt: timestamp(0),
		}
		assert.NoError(t, b.UpsertElement(ctx, element))

		retrieved, err := b.GetElement(ctx, "thread-1", "element-1")
		assert.NoError(t, err)
		assert.Equal(t, element, retrieved)

		_, err = b.GetElement(ctx, "thread-2", "element-1")
		assert.IsType(t, &backend.UnknownElementError{}, err)

		elements, err := b.ListElements(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Len(t, elements, 1)

		assert.NoError(t, b.DeleteElement(ctx, "thread-1", "element-1"))
		err = b.DeleteElement(ctx, "thread-1", "element-1")
		assert.IsType(t, &backend.UnknownElementError{}, err)
	})
	t.Run("TestDeleteThread", func(t *testing.T) {
		b := createBackend()
		defer destroyBackend(b)

		assert.NoError(t, b.UpsertThread(ctx, makeThread("thread-1", "admin", "chat", 0)))
		assert.NoError(t, b.UpsertStep(ctx, makeStep("thread-1", "step-1", "", backend.UserMessageStepType, 1)))
		assert.NoError(t, b.UpsertElement(ctx, &backend.Element{
			ID:        "element-1",
			ThreadID:  "thread-1",
			Type:      "file",
			Name:      "a.txt",
			CreatedAt: timestamp(2),
		}))

		assert.NoError(t, b.DeleteThread(ctx, "thread-1"))

		_, err := b.GetThread(ctx, "thread-1")
		assert.IsType(t, &backend.UnknownThreadError{}, err)

		steps, err := b.ListSteps(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Len(t, steps, 0)

		elements, err := b.ListElements(ctx, "thread-1")
		assert.NoError(t, err)
		assert.Len(t, elements, 0)

		err = b.DeleteThread(ctx, "thread-1")
		assert.IsType(t, &backend.UnknownThreadError{}, err)
	})
}
