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

package datalayer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/storage"
)

var log = logrus.WithField("component", "datalayer")

const feedbackIDSeparator = "::"

// User is the identity handed over by the authentication layer.
type User struct {
	Identifier  string
	DisplayName string
	Metadata    backend.Metadata
}

type Pagination struct {
	First  int
	Cursor string
}

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	StartCursor string `json:"startCursor,omitempty"`
	EndCursor   string `json:"endCursor,omitempty"`
}

type PaginatedThreads struct {
	Data     []*backend.Thread `json:"data"`
	PageInfo PageInfo          `json:"pageInfo"`
}

type ThreadDetails struct {
	*backend.Thread
	Steps    []*backend.Step    `json:"steps"`
	Elements []*backend.Element `json:"elements"`
}

// ThreadUpdate lists the thread fields to change, nil fields are left untouched.
type ThreadUpdate struct {
	Name     *string
	UserID   *string
	Metadata backend.Metadata
	Tags     []string
}

type DataLayer struct {
	backend backend.Backend
	blobs   storage.BlobStore

	lock         sync.Mutex
	readyThreads map[string]bool
	queues       map[string][]func(context.Context) error
}

// New wraps a storage backend, blobs may be nil in which case element content is not kept.
func New(b backend.Backend, blobs storage.BlobStore) *DataLayer {
	return &DataLayer{
		backend:      b,
		blobs:        blobs,
		readyThreads: make(map[string]bool),
		queues:       make(map[string][]func(context.Context) error),
	}
}

func (dl *DataLayer) Kind() string {
	return dl.backend.Kind()
}

func (dl *DataLayer) BuildDebugURL() string {
	return fmt.Sprintf("%s - DB: %s", dl.backend.Kind(), dl.backend.Name())
}

func (dl *DataLayer) GetFavoriteSteps(_ context.Context, _ string) ([]*backend.Step, error) {
	return []*backend.Step{}, nil
}

func (dl *DataLayer) Close() {
	dl.lock.Lock()
	pending := 0
	for _, queue := range dl.queues {
		pending += len(queue)
	}
	dl.queues = make(map[string][]func(context.Context) error)
	dl.lock.Unlock()

	if pending > 0 {
		log.WithField("pending", pending).Debug("dropping writes of threads without user message")
	}
	dl.backend.Destroy()
}

// Users

func (dl *DataLayer) GetUser(ctx context.Context, identifier string) (*backend.User, error) {
	user, err := dl.backend.GetUser(ctx, identifier)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithField("user", identifier).Info("user not found")
			return nil, nil
		}
		return nil, err
	}
	if user.Identifier == "" {
		user.Identifier = user.ID
	}
	return user, nil
}

func (dl *DataLayer) CreateUser(ctx context.Context, user User) (*backend.User, error) {
	identifier := user.DisplayName
	if identifier == "" {
		identifier = user.Identifier
	}
	metadata := user.Metadata
	if metadata == nil {
		metadata = backend.Metadata{}
	}
	created := &backend.User{
		ID:         user.Identifier,
		Identifier: identifier,
		CreatedAt:  backend.Now(),
		Metadata:   metadata,
	}
	err := dl.backend.CreateUser(ctx, created)
	if err != nil {
		if _, ok := err.(*backend.UserAlreadyExistsError); ok {
			log.WithField("user", user.Identifier).Info("user already exists, retrieving existing user")
			return dl.GetUser(ctx, user.Identifier)
		}
		return nil, err
	}
	log.WithField("user", user.Identifier).Info("user created")
	return created, nil
}

func (dl *DataLayer) GetOrCreateUser(ctx context.Context, user User) (*backend.User, error) {
	existing, err := dl.GetUser(ctx, user.Identifier)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return dl.CreateUser(ctx, user)
}

// Feedback

// stepForFeedback returns the answer to the step forID, or the step forID itself.
func (dl *DataLayer) stepForFeedback(ctx context.Context, threadID string, forID string) (*backend.Step, error) {
	steps, err := dl.backend.ListSteps(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if step.ParentID == forID {
			return step, nil
		}
	}
	for _, step := range steps {
		if step.ID == forID {
			return step, nil
		}
	}
	return nil, nil
}

func (dl *DataLayer) UpsertFeedback(ctx context.Context, feedback backend.Feedback) (string, error) {
	if feedback.ThreadID == "" || feedback.ForID == "" {
		return "", &InvalidFeedbackError{}
	}
	step, err := dl.stepForFeedback(ctx, feedback.ThreadID, feedback.ForID)
	if err != nil {
		return "", err
	}
	if step == nil {
		return "", &StepNotFoundError{ForID: feedback.ForID}
	}

	feedback.ID = feedback.ThreadID + feedbackIDSeparator + feedback.ForID
	step.Feedback = &feedback
	if err := dl.backend.UpsertStep(ctx, step); err != nil {
		return "", err
	}
	log.WithField("step", step.ID).Info("feedback upserted")
	return feedback.ID, nil
}

// FeedbackThreadID extracts the thread identifier from a feedback identifier.
func FeedbackThreadID(feedbackID string) (string, bool) {
	threadID, _, ok := splitFeedbackID(feedbackID)
	return threadID, ok
}

func splitFeedbackID(feedbackID string) (string, string, bool) {
	parts := strings.Split(feedbackID, feedbackIDSeparator)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (dl *DataLayer) DeleteFeedback(ctx context.Context, feedbackID string) (bool, error) {
	threadID, forID, ok := splitFeedbackID(feedbackID)
	if !ok {
		log.WithField("feedback", feedbackID).Error("invalid feedback id format")
		return false, nil
	}

	step, err := dl.stepForFeedback(ctx, threadID, forID)
	if err != nil {
		return false, err
	}
	if step == nil || step.Feedback == nil {
		return false, nil
	}
	step.Feedback = nil
	if err := dl.backend.UpsertStep(ctx, step); err != nil {
		return false, err
	}
	log.WithField("step", step.ID).Info("feedback deleted")
	return true, nil
}

// Queue until user message

// MarkThreadReady flags a thread that already received a user message, e.g. a resumed one.
func (dl *DataLayer) MarkThreadReady(threadID string) {
	dl.lock.Lock()
	defer dl.lock.Unlock()
	dl.readyThreads[threadID] = true
}

// DropThreadQueue forgets a thread whose chat ended: the writes still waiting for a user message
// are dropped, and a later session on the thread has to mark it ready again.
func (dl *DataLayer) DropThreadQueue(threadID string) {
	dl.lock.Lock()
	dropped := len(dl.queues[threadID])
	delete(dl.queues, threadID)
	delete(dl.readyThreads, threadID)
	dl.lock.Unlock()

	if dropped > 0 {
		log.WithFields(logrus.Fields{"thread": threadID, "count": dropped}).Debug("dropping writes of a thread without user message")
	}
}

// PendingWrites is the number of writes waiting for the first user message of their thread.
func (dl *DataLayer) PendingWrites() int {
	dl.lock.Lock()
	defer dl.lock.Unlock()
	pending := 0
	for _, queue := range dl.queues {
		pending += len(queue)
	}
	return pending
}

func (dl *DataLayer) trackedThreads() int {
	dl.lock.Lock()
	defer dl.lock.Unlock()
	return len(dl.readyThreads) + len(dl.queues)
}

// enqueue returns true when the write was queued rather than to be executed right away.
func (dl *DataLayer) enqueue(threadID string, write func(context.Context) error) bool {
	dl.lock.Lock()
	defer dl.lock.Unlock()
	if threadID == "" || dl.readyThreads[threadID] {
		return false
	}
	dl.queues[threadID] = append(dl.queues[threadID], write)
	return true
}

func (dl *DataLayer) flush(ctx context.Context, threadID string) error {
	dl.lock.Lock()
	queue := dl.queues[threadID]
	delete(dl.queues, threadID)
	dl.readyThreads[threadID] = true
	dl.lock.Unlock()

	if len(queue) > 0 {
		log.WithFields(logrus.Fields{"thread": threadID, "count": len(queue)}).Debug("flushing queued writes")
	}
	for _, write := range queue {
		if err := write(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (dl *DataLayer) queueUntilUserMessage(ctx context.Context, threadID string, write func(context.Context) error) error {
	if dl.enqueue(threadID, write) {
		return nil
	}
	return write(ctx)
}

// Steps

func (dl *DataLayer) CreateStep(ctx context.Context, step *backend.Step) error {
	step = step.Clone()
	if step.CreatedAt == "" {
		step.CreatedAt = backend.Now()
	}
	if step.Type == backend.UserMessageStepType {
		if err := dl.flush(ctx, step.ThreadID); err != nil {
			return err
		}
	}
	return dl.queueUntilUserMessage(ctx, step.ThreadID, func(ctx context.Context) error {
		if err := dl.backend.UpsertStep(ctx, step); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"thread": step.ThreadID, "step": step.ID}).Debug("step created")
		return nil
	})
}

func (dl *DataLayer) UpdateStep(ctx context.Context, step *backend.Step) error {
	step = step.Clone()
	return dl.queueUntilUserMessage(ctx, step.ThreadID, func(ctx context.Context) error {
		if err := dl.backend.UpsertStep(ctx, step); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"thread": step.ThreadID, "step": step.ID}).Debug("step updated")
		return nil
	})
}

func (dl *DataLayer) DeleteStep(ctx context.Context, stepID string) error {
	threadID, err := dl.backend.FindStepThread(ctx, stepID)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithField("step", stepID).Info("step not found for deletion")
			return nil
		}
		return err
	}
	err = dl.backend.DeleteStep(ctx, threadID, stepID)
	if err != nil && !backend.IsNotFound(err) {
		return err
	}
	log.WithFields(logrus.Fields{"thread": threadID, "step": stepID}).Info("step deleted")
	return nil
}

func (dl *DataLayer) GetSteps(ctx context.Context, threadID string) ([]*backend.Step, error) {
	return dl.backend.ListSteps(ctx, threadID)
}

// Threads

func (dl *DataLayer) GetThread(ctx context.Context, threadID string) (*ThreadDetails, error) {
	thread, err := dl.backend.GetThread(ctx, threadID)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithField("thread", threadID).Warn("thread not found")
			return nil, nil
		}
		return nil, err
	}
	steps, err := dl.backend.ListSteps(ctx, threadID)
	if err != nil {
		return nil, err
	}
	elements, err := dl.backend.ListElements(ctx, threadID)
	if err != nil {
		log.WithField("thread", threadID).WithError(err).Error("unable to retrieve the thread elements")
		elements = []*backend.Element{}
	}
	return &ThreadDetails{Thread: thread, Steps: steps, Elements: elements}, nil
}

func (dl *DataLayer) ListThreads(
	ctx context.Context,
	pagination Pagination,
	filter backend.ThreadFilter,
) (*PaginatedThreads, error) {
	threads, err := dl.backend.ListThreads(ctx, filter)
	if err != nil {
		return nil, err
	}

	start := 0
	if pagination.Cursor != "" {
		start, err = strconv.Atoi(pagination.Cursor)
		if err != nil || start < 0 {
			return nil, &InvalidCursorError{Cursor: pagination.Cursor}
		}
	}
	if start > len(threads) {
		start = len(threads)
	}
	end := start + pagination.First
	if pagination.First <= 0 || end > len(threads) {
		end = len(threads)
	}

	data := make([]*backend.Thread, 0, end-start)
	for _, thread := range threads[start:end] {
		data = append(data, &backend.Thread{ID: thread.ID, Name: thread.Name, CreatedAt: thread.CreatedAt})
	}

	pageInfo := PageInfo{
		HasNextPage: len(threads) > end,
		StartCursor: pagination.Cursor,
	}
	if pageInfo.HasNextPage {
		pageInfo.EndCursor = strconv.Itoa(end)
	}
	return &PaginatedThreads{Data: data, PageInfo: pageInfo}, nil
}

func (dl *DataLayer) UpdateThread(ctx context.Context, threadID string, update ThreadUpdate) error {
	thread, err := dl.backend.GetThread(ctx, threadID)
	if err != nil {
		if !backend.IsNotFound(err) {
			return err
		}
		log.WithField("thread", threadID).Info("thread not found for update, creating new thread")
		thread = &backend.Thread{ID: threadID, CreatedAt: backend.Now()}
	}

	if update.Name != nil {
		thread.Name = *update.Name
	}
	if update.UserID != nil {
		thread.UserID = *update.UserID
		thread.UserIdentifier = *update.UserID
	}
	if update.Metadata != nil {
		if thread.Metadata == nil {
			thread.Metadata = backend.Metadata{}
		}
		for key, value := range update.Metadata {
			thread.Metadata[key] = value
		}
	}
	if update.Tags != nil {
		thread.Tags = update.Tags
	}

	if err := dl.backend.UpsertThread(ctx, thread); err != nil {
		return err
	}
	log.WithField("thread", threadID).Debug("thread updated")
	return nil
}

// UpsertThreadMetadata merges the patch in the metadata of the given thread.
func (dl *DataLayer) UpsertThreadMetadata(ctx context.Context, threadID string, patch backend.Metadata) error {
	if dl == nil || threadID == "" {
		return nil
	}
	merged := backend.Metadata{}
	thread, err := dl.backend.GetThread(ctx, threadID)
	if err == nil {
		for key, value := range thread.Metadata {
			merged[key] = value
		}
	} else if !backend.IsNotFound(err) {
		return err
	}
	for key, value := range patch {
		merged[key] = value
	}
	return dl.UpdateThread(ctx, threadID, ThreadUpdate{Metadata: merged})
}

func (dl *DataLayer) DeleteThread(ctx context.Context, threadID string) error {
	elements, err := dl.backend.ListElements(ctx, threadID)
	if err != nil {
		return err
	}
	for _, element := range elements {
		dl.deleteBlob(ctx, element)
	}

	dl.lock.Lock()
	delete(dl.queues, threadID)
	delete(dl.readyThreads, threadID)
	dl.lock.Unlock()

	err = dl.backend.DeleteThread(ctx, threadID)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithField("thread", threadID).Info("thread not found for deletion")
			return nil
		}
		return err
	}
	log.WithField("thread", threadID).Info("thread deleted")
	return nil
}

func (dl *DataLayer) GetThreadAuthor(ctx context.Context, threadID string) (string, error) {
	thread, err := dl.backend.GetThread(ctx, threadID)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithField("thread", threadID).Info("thread not found when getting author")
			return "", nil
		}
		return "", err
	}
	return thread.UserID, nil
}

// Elements

// CreateElement stores the element, its content if any is uploaded right away to the blob store.
func (dl *DataLayer) CreateElement(ctx context.Context, element *backend.Element, content io.Reader) error {
	element = element.Clone()
	if element.CreatedAt == "" {
		element.CreatedAt = backend.Now()
	}
	if content != nil && dl.blobs != nil {
		key := storage.ElementKey(element.ThreadID, element.ID, element.Name)
		if err := dl.blobs.Put(ctx, key, content, element.Size, element.Mime); err != nil {
			return err
		}
		element.ObjectKey = key
	}
	return dl.queueUntilUserMessage(ctx, element.ThreadID, func(ctx context.Context) error {
		if err := dl.backend.UpsertElement(ctx, element); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"thread": element.ThreadID, "element": element.ID}).Debug("element created")
		return nil
	})
}

func (dl *DataLayer) GetElement(ctx context.Context, threadID string, elementID string) (*backend.Element, error) {
	element, err := dl.backend.GetElement(ctx, threadID, elementID)
	if err != nil {
		if backend.IsNotFound(err) {
			log.WithFields(logrus.Fields{"thread": threadID, "element": elementID}).Info("element not found")
			return nil, nil
		}
		return nil, err
	}
	return element, nil
}

// GetElementContent opens the stored content of an element.
func (dl *DataLayer) GetElementContent(
	ctx context.Context,
	threadID string,
	elementID string,
) (*backend.Element, io.ReadCloser, error) {
	element, err := dl.backend.GetElement(ctx, threadID, elementID)
	if err != nil {
		return nil, nil, err
	}
	if element.ObjectKey == "" || dl.blobs == nil {
		return element, nil, &storage.UnknownBlobError{Key: element.ObjectKey}
	}
	r, err := dl.blobs.Get(ctx, element.ObjectKey)
	if err != nil {
		return element, nil, err
	}
	return element, r, nil
}

func (dl *DataLayer) deleteBlob(ctx context.Context, element *backend.Element) {
	if element.ObjectKey == "" || dl.blobs == nil {
		return
	}
	if err := dl.blobs.Delete(ctx, element.ObjectKey); err != nil {
		log.WithField("element", element.ID).WithError(err).Warn("unable to delete the element content")
	}
}

func (dl *DataLayer) DeleteElement(ctx context.Context, elementID string, threadID string) error {
	if threadID == "" {
		log.WithField("element", elementID).Error("deleting an element requires a thread id")
		return nil
	}
	return dl.queueUntilUserMessage(ctx, threadID, func(ctx context.Context) error {
		element, err := dl.backend.GetElement(ctx, threadID, elementID)
		if err != nil {
			if backend.IsNotFound(err) {
				log.WithFields(logrus.Fields{"thread": threadID, "element": elementID}).Info("element not found for deletion")
				return nil
			}
			return err
		}
		dl.deleteBlob(ctx, element)
		if err := dl.backend.DeleteElement(ctx, threadID, elementID); err != nil && !backend.IsNotFound(err) {
			return err
		}
		log.WithFields(logrus.Fields{"thread": threadID, "element": elementID}).Info("element deleted")
		return nil
	})
}
