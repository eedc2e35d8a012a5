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

package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/services/datalayer/backend"
)

var log = logrus.WithField("component", "datalayer/cosmos")

type Options struct {
	Endpoint string
	Key      string
	Database string
}

type containerConfig struct {
	name         string
	partitionKey string
}

// Users and threads are partitioned by their own id, steps and elements by their thread.
var (
	usersConfig    = containerConfig{name: "users", partitionKey: "/id"}
	threadsConfig  = containerConfig{name: "threads", partitionKey: "/id"}
	stepsConfig    = containerConfig{name: "steps", partitionKey: "/threadId"}
	elementsConfig = containerConfig{name: "elements", partitionKey: "/threadId"}
)

type cosmosBackend struct {
	databaseName string
	users        *azcosmos.ContainerClient
	threads      *azcosmos.ContainerClient
	steps        *azcosmos.ContainerClient
	elements     *azcosmos.ContainerClient
}

func hasStatus(err error, statusCode int) bool {
	var responseErr *azcore.ResponseError
	if errors.As(err, &responseErr) {
		return responseErr.StatusCode == statusCode
	}
	return false
}

func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func isConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// CreateBackend connects to the Cosmos DB account and makes sure the database and its containers exist
func CreateBackend(ctx context.Context, options Options) (backend.Backend, error) {
	if options.Endpoint == "" || options.Key == "" || options.Database == "" {
		return nil, fmt.Errorf("cosmos endpoint, key and database name are required")
	}

	credential, err := azcosmos.NewKeyCredential(options.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid cosmos key: %w", err)
	}
	client, err := azcosmos.NewClientWithKey(options.Endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create the cosmos client: %w", err)
	}

	log.WithField("database", options.Database).Debug("ensuring the cosmos database and containers exist")
	_, err = client.CreateDatabase(ctx, azcosmos.DatabaseProperties{ID: options.Database}, nil)
	if err != nil && !isConflict(err) {
		return nil, fmt.Errorf("unable to create the cosmos database %q: %w", options.Database, err)
	}
	database, err := client.NewDatabase(options.Database)
	if err != nil {
		return nil, fmt.Errorf("unable to access the cosmos database %q: %w", options.Database, err)
	}

	b := &cosmosBackend{databaseName: options.Database}
	for _, target := range []struct {
		config containerConfig
		client **azcosmos.ContainerClient
	}{
		{usersConfig, &b.users},
		{threadsConfig, &b.threads},
		{stepsConfig, &b.steps},
		{elementsConfig, &b.elements},
	} {
		_, err := database.CreateContainer(ctx, azcosmos.ContainerProperties{
			ID: target.config.name,
			PartitionKeyDefinition: azcosmos.PartitionKeyDefinition{
				Paths: []string{target.config.partitionKey},
			},
		}, nil)
		if err != nil && !isConflict(err) {
			return nil, fmt.Errorf("unable to create the cosmos container %q: %w", target.config.name, err)
		}
		container, err := database.NewContainer(target.config.name)
		if err != nil {
			return nil, fmt.Errorf("unable to access the cosmos container %q: %w", target.config.name, err)
		}
		*target.client = container
		log.WithFields(logrus.Fields{
			"container":     target.config.name,
			"partition_key": target.config.partitionKey,
		}).Debug("container ensured to exist")
	}

	return b, nil
}

func (b *cosmosBackend) Kind() string {
	return "Cosmos"
}

func (b *cosmosBackend) Name() string {
	return b.databaseName
}

func (b *cosmosBackend) Destroy() {
	// Nothing
}

func readItem(
	ctx context.Context,
	container *azcosmos.ContainerClient,
	partitionKey string,
	id string,
	record interface{},
) error {
	response, err := container.ReadItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(response.Value, record)
}

func upsertItem(ctx context.Context, container *azcosmos.ContainerClient, partitionKey string, record interface{}) error {
	item, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = container.UpsertItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), item, nil)
	return err
}

func queryItems(
	ctx context.Context,
	container *azcosmos.ContainerClient,
	partitionKey azcosmos.PartitionKey,
	query string,
	parameters []azcosmos.QueryParameter,
	appendItem func([]byte) error,
) error {
	pager := container.NewQueryItemsPager(query, partitionKey, &azcosmos.QueryOptions{
		QueryParameters: parameters,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := appendItem(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *cosmosBackend) GetUser(ctx context.Context, userID string) (*backend.User, error) {
	user := &backend.User{}
	if err := readItem(ctx, b.users, userID, userID, user); err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownUserError{UserID: userID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve user %q (%w)", userID, err)
	}
	return user, nil
}

func (b *cosmosBackend) CreateUser(ctx context.Context, user *backend.User) error {
	item, err := json.Marshal(user)
	if err != nil {
		return backend.NewUnexpectedError("unable to serialize user (%w)", err)
	}
	_, err = b.users.CreateItem(ctx, azcosmos.NewPartitionKeyString(user.ID), item, nil)
	if err != nil {
		if isConflict(err) {
			return &backend.UserAlreadyExistsError{UserID: user.ID}
		}
		return backend.NewUnexpectedError("unable to create user %q (%w)", user.ID, err)
	}
	return nil
}

func (b *cosmosBackend) GetThread(ctx context.Context, threadID string) (*backend.Thread, error) {
	thread := &backend.Thread{}
	if err := readItem(ctx, b.threads, threadID, threadID, thread); err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownThreadError{ThreadID: threadID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve thread %q (%w)", threadID, err)
	}
	return thread, nil
}

func (b *cosmosBackend) UpsertThread(ctx context.Context, thread *backend.Thread) error {
	if err := upsertItem(ctx, b.threads, thread.ID, thread); err != nil {
		return backend.NewUnexpectedError("unable to upsert thread %q (%w)", thread.ID, err)
	}
	return nil
}

func (b *cosmosBackend) deletePartition(ctx context.Context, container *azcosmos.ContainerClient, threadID string) error {
	partitionKey := azcosmos.NewPartitionKeyString(threadID)
	ids := []string{}
	err := queryItems(ctx, container, partitionKey,
		"SELECT c.id FROM c WHERE c.threadId = @thread_id",
		[]azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		func(item []byte) error {
			document := struct {
				ID string `json:"id"`
			}{}
			if err := json.Unmarshal(item, &document); err != nil {
				return err
			}
			ids = append(ids, document.ID)
			return nil
		},
	)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, err := container.DeleteItem(ctx, partitionKey, id, nil)
		if err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func (b *cosmosBackend) DeleteThread(ctx context.Context, threadID string) error {
	if err := b.deletePartition(ctx, b.steps, threadID); err != nil {
		return backend.NewUnexpectedError("unable to delete the steps of thread %q (%w)", threadID, err)
	}
	if err := b.deletePartition(ctx, b.elements, threadID); err != nil {
		return backend.NewUnexpectedError("unable to delete the elements of thread %q (%w)", threadID, err)
	}
	_, err := b.threads.DeleteItem(ctx, azcosmos.NewPartitionKeyString(threadID), threadID, nil)
	if err != nil {
		if isNotFound(err) {
			return &backend.UnknownThreadError{ThreadID: threadID}
		}
		return backend.NewUnexpectedError("unable to delete thread %q (%w)", threadID, err)
	}
	return nil
}

func (b *cosmosBackend) ListThreads(ctx context.Context, filter backend.ThreadFilter) ([]*backend.Thread, error) {
	query := "SELECT * FROM c WHERE c.userId = @user_id"
	parameters := []azcosmos.QueryParameter{{Name: "@user_id", Value: filter.UserID}}
	if filter.Search != "" {
		query += " AND CONTAINS(c.name, @search, true)"
		parameters = append(parameters, azcosmos.QueryParameter{Name: "@search", Value: filter.Search})
	}

	threads := []*backend.Thread{}
	// Cross partition query, ordering is done client side.
	err := queryItems(ctx, b.threads, azcosmos.NewPartitionKey(), query, parameters, func(item []byte) error {
		thread := &backend.Thread{}
		if err := json.Unmarshal(item, thread); err != nil {
			return err
		}
		threads = append(threads, thread)
		return nil
	})
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve threads (%w)", err)
	}
	return backend.SelectThreads(threads, filter), nil
}

func (b *cosmosBackend) GetStep(ctx context.Context, threadID string, stepID string) (*backend.Step, error) {
	step := &backend.Step{}
	if err := readItem(ctx, b.steps, threadID, stepID, step); err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve step %q (%w)", stepID, err)
	}
	return step, nil
}

func (b *cosmosBackend) FindStepThread(ctx context.Context, stepID string) (string, error) {
	threadID := ""
	err := queryItems(ctx, b.steps, azcosmos.NewPartitionKey(),
		"SELECT c.threadId FROM c WHERE c.id = @step_id",
		[]azcosmos.QueryParameter{{Name: "@step_id", Value: stepID}},
		func(item []byte) error {
			document := struct {
				ThreadID string `json:"threadId"`
			}{}
			if err := json.Unmarshal(item, &document); err != nil {
				return err
			}
			threadID = document.ThreadID
			return nil
		},
	)
	if err != nil {
		return "", backend.NewUnexpectedError("unable to look up step %q (%w)", stepID, err)
	}
	if threadID == "" {
		return "", &backend.UnknownStepError{StepID: stepID}
	}
	return threadID, nil
}

func (b *cosmosBackend) UpsertStep(ctx context.Context, step *backend.Step) error {
	if err := upsertItem(ctx, b.steps, step.ThreadID, step); err != nil {
		return backend.NewUnexpectedError("unable to upsert step %q (%w)", step.ID, err)
	}
	return nil
}

func (b *cosmosBackend) DeleteStep(ctx context.Context, threadID string, stepID string) error {
	_, err := b.steps.DeleteItem(ctx, azcosmos.NewPartitionKeyString(threadID), stepID, nil)
	if err != nil {
		if isNotFound(err) {
			return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		return backend.NewUnexpectedError("unable to delete step %q (%w)", stepID, err)
	}
	return nil
}

func (b *cosmosBackend) ListSteps(ctx context.Context, threadID string) ([]*backend.Step, error) {
	steps := []*backend.Step{}
	err := queryItems(ctx, b.steps, azcosmos.NewPartitionKeyString(threadID),
		"SELECT * FROM c WHERE c.threadId = @thread_id ORDER BY c.createdAt",
		[]azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		func(item []byte) error {
			step := &backend.Step{}
			if err := json.Unmarshal(item, step); err != nil {
				return err
			}
			steps = append(steps, step)
			return nil
		},
	)
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the steps of thread %q (%w)", threadID, err)
	}
	backend.SortSteps(steps)
	return steps, nil
}

func (b *cosmosBackend) GetElement(ctx context.Context, threadID string, elementID string) (*backend.Element, error) {
	element := &backend.Element{}
	if err := readItem(ctx, b.elements, threadID, elementID, element); err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve element %q (%w)", elementID, err)
	}
	return element, nil
}

func (b *cosmosBackend) UpsertElement(ctx context.Context, element *backend.Element) error {
	if err := upsertItem(ctx, b.elements, element.ThreadID, element); err != nil {
		return backend.NewUnexpectedError("unable to upsert element %q (%w)", element.ID, err)
	}
	return nil
}

func (b *cosmosBackend) DeleteElement(ctx context.Context, threadID string, elementID string) error {
	_, err := b.elements.DeleteItem(ctx, azcosmos.NewPartitionKeyString(threadID), elementID, nil)
	if err != nil {
		if isNotFound(err) {
			return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		return backend.NewUnexpectedError("unable to delete element %q (%w)", elementID, err)
	}
	return nil
}

func (b *cosmosBackend) ListElements(ctx context.Context, threadID string) ([]*backend.Element, error) {
	elements := []*backend.Element{}
	err := queryItems(ctx, b.elements, azcosmos.NewPartitionKeyString(threadID),
		"SELECT * FROM c WHERE c.threadId = @thread_id",
		[]azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		func(item []byte) error {
			element := &backend.Element{}
			if err := json.Unmarshal(item, element); err != nil {
				return err
			}
			elements = append(elements, element)
			return nil
		},
	)
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the elements of thread %q (%w)", threadID, err)
	}
	backend.SortElements(elements)
	return elements, nil
}
