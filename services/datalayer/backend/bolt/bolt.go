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

package bolt

import (
	"context"
	"encoding/json"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentchat/agentchat/services/datalayer/backend"
)

type boltBackend struct {
	db       *bolt.DB
	filePath string
}

// Bucket structure is
//	users			> {user_id}		> {backend.User}
//	threads		> {thread_id}	> {backend.Thread}
//	steps			> {thread_id}	> {step_id}			> {backend.Step}
//	elements	> {thread_id}	> {element_id}	> {backend.Element}

var usersBucketName = []byte("users")

var threadsBucketName = []byte("threads")

var stepsBucketName = []byte("steps")

var elementsBucketName = []byte("elements")

var rootBucketNames = [][]byte{usersBucketName, threadsBucketName, stepsBucketName, elementsBucketName}

func getRootBucket(tx *bolt.Tx, name []byte) *bolt.Bucket {
	bucket := tx.Bucket(name)
	if bucket == nil {
		log.Fatalf("%s bucket doesn't exist", name)
	}
	return bucket
}

func serialize(kind string, record interface{}) ([]byte, error) {
	v, err := json.Marshal(record)
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to serialize %s (%w)", kind, err)
	}
	return v, nil
}

func deserialize(kind string, v []byte, record interface{}) error {
	err := json.Unmarshal(v, record)
	if err != nil {
		return backend.NewUnexpectedError("unable to deserialize %s (%w)", kind, err)
	}
	return nil
}

// CreateBoltBackend creates a Backend that will store the chat history in a bolt-managed file
func CreateBoltBackend(filePath string) (backend.Backend, error) {
	db, err := bolt.Open(filePath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		// Opening of the file failed
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range rootBucketNames {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return backend.NewUnexpectedError("unable to create the %s bucket (%w)", name, err)
			}
		}
		return nil
	})
	if err != nil {
		// Creation of the root buckets failed
		db.Close()
		return nil, err
	}

	return &boltBackend{
		db:       db,
		filePath: filePath,
	}, nil
}

func (b *boltBackend) Kind() string {
	return "Bolt"
}

func (b *boltBackend) Name() string {
	return b.filePath
}

func (b *boltBackend) Destroy() {
	if b.db == nil {
		return
	}
	b.db.Close()
	b.db = nil
}

func (b *boltBackend) GetUser(_ context.Context, userID string) (*backend.User, error) {
	var user *backend.User
	err := b.db.View(func(tx *bolt.Tx) error {
		v := getRootBucket(tx, usersBucketName).Get([]byte(userID))
		if v == nil {
			return &backend.UnknownUserError{UserID: userID}
		}
		user = &backend.User{}
		return deserialize("user", v, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (b *boltBackend) CreateUser(_ context.Context, user *backend.User) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		usersBucket := getRootBucket(tx, usersBucketName)
		key := []byte(user.ID)
		if usersBucket.Get(key) != nil {
			return &backend.UserAlreadyExistsError{UserID: user.ID}
		}
		v, err := serialize("user", user)
		if err != nil {
			return err
		}
		err = usersBucket.Put(key, v)
		if err != nil {
			return backend.NewUnexpectedError("unable to add user %q (%w)", user.ID, err)
		}
		return nil
	})
}

func (b *boltBackend) GetThread(_ context.Context, threadID string) (*backend.Thread, error) {
	var thread *backend.Thread
	err := b.db.View(func(tx *bolt.Tx) error {
		v := getRootBucket(tx, threadsBucketName).Get([]byte(threadID))
		if v == nil {
			return &backend.UnknownThreadError{ThreadID: threadID}
		}
		thread = &backend.Thread{}
		return deserialize("thread", v, thread)
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

func (b *boltBackend) UpsertThread(_ context.Context, thread *backend.Thread) error {
	v, err := serialize("thread", thread)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		err := getRootBucket(tx, threadsBucketName).Put([]byte(thread.ID), v)
		if err != nil {
			return backend.NewUnexpectedError("unable to upsert thread %q (%w)", thread.ID, err)
		}
		return nil
	})
}

func (b *boltBackend) DeleteThread(_ context.Context, threadID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		key := []byte(threadID)
		for _, name := range [][]byte{stepsBucketName, elementsBucketName} {
			bucket := getRootBucket(tx, name)
			if bucket.Bucket(key) == nil {
				continue
			}
			err := bucket.DeleteBucket(key)
			if err != nil {
				return backend.NewUnexpectedError("unable to delete the %s of thread %q (%w)", name, threadID, err)
			}
		}

		threadsBucket := getRootBucket(tx, threadsBucketName)
		if threadsBucket.Get(key) == nil {
			return &backend.UnknownThreadError{ThreadID: threadID}
		}
		err := threadsBucket.Delete(key)
		if err != nil {
			return backend.NewUnexpectedError("unable to delete thread %q (%w)", threadID, err)
		}
		return nil
	})
}

func (b *boltBackend) ListThreads(_ context.Context, filter backend.ThreadFilter) ([]*backend.Thread, error) {
	threads := []*backend.Thread{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return getRootBucket(tx, threadsBucketName).ForEach(func(_, v []byte) error {
			thread := &backend.Thread{}
			err := deserialize("thread", v, thread)
			if err != nil {
				return err
			}
			threads = append(threads, thread)
			return nil
		})
	})
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve threads (%w)", err)
	}
	return backend.SelectThreads(threads, filter), nil
}

func (b *boltBackend) GetStep(_ context.Context, threadID string, stepID string) (*backend.Step, error) {
	var step *backend.Step
	err := b.db.View(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, stepsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil {
			return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		v := threadBucket.Get([]byte(stepID))
		if v == nil {
			return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		step = &backend.Step{}
		return deserialize("step", v, step)
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (b *boltBackend) FindStepThread(_ context.Context, stepID string) (string, error) {
	threadID := ""
	err := b.db.View(func(tx *bolt.Tx) error {
		c := getRootBucket(tx, stepsBucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				// Not a nested bucket
				continue
			}
			threadBucket := tx.Bucket(stepsBucketName).Bucket(k)
			if threadBucket.Get([]byte(stepID)) != nil {
				threadID = string(k)
				return nil
			}
		}
		return &backend.UnknownStepError{StepID: stepID}
	})
	if err != nil {
		return "", err
	}
	return threadID, nil
}

func (b *boltBackend) UpsertStep(_ context.Context, step *backend.Step) error {
	v, err := serialize("step", step)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		threadBucket, err := getRootBucket(tx, stepsBucketName).CreateBucketIfNotExists([]byte(step.ThreadID))
		if err != nil {
			return backend.NewUnexpectedError("unable to add thread %q steps bucket (%w)", step.ThreadID, err)
		}
		err = threadBucket.Put([]byte(step.ID), v)
		if err != nil {
			return backend.NewUnexpectedError("unable to upsert step %q (%w)", step.ID, err)
		}
		return nil
	})
}

func (b *boltBackend) DeleteStep(_ context.Context, threadID string, stepID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, stepsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil || threadBucket.Get([]byte(stepID)) == nil {
			return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		err := threadBucket.Delete([]byte(stepID))
		if err != nil {
			return backend.NewUnexpectedError("unable to delete step %q (%w)", stepID, err)
		}
		return nil
	})
}

func (b *boltBackend) ListSteps(_ context.Context, threadID string) ([]*backend.Step, error) {
	steps := []*backend.Step{}
	err := b.db.View(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, stepsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil {
			return nil
		}
		return threadBucket.ForEach(func(_, v []byte) error {
			step := &backend.Step{}
			err := deserialize("step", v, step)
			if err != nil {
				return err
			}
			steps = append(steps, step)
			return nil
		})
	})
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the steps of thread %q (%w)", threadID, err)
	}
	backend.SortSteps(steps)
	return steps, nil
}

func (b *boltBackend) GetElement(_ context.Context, threadID string, elementID string) (*backend.Element, error) {
	var element *backend.Element
	err := b.db.View(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, elementsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil {
			return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		v := threadBucket.Get([]byte(elementID))
		if v == nil {
			return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		element = &backend.Element{}
		return deserialize("element", v, element)
	})
	if err != nil {
		return nil, err
	}
	return element, nil
}

func (b *boltBackend) UpsertElement(_ context.Context, element *backend.Element) error {
	v, err := serialize("element", element)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		threadBucket, err := getRootBucket(tx, elementsBucketName).CreateBucketIfNotExists([]byte(element.ThreadID))
		if err != nil {
			return backend.NewUnexpectedError("unable to add thread %q elements bucket (%w)", element.ThreadID, err)
		}
		err = threadBucket.Put([]byte(element.ID), v)
		if err != nil {
			return backend.NewUnexpectedError("unable to upsert element %q (%w)", element.ID, err)
		}
		return nil
	})
}

func (b *boltBackend) DeleteElement(_ context.Context, threadID string, elementID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, elementsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil || threadBucket.Get([]byte(elementID)) == nil {
			return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		err := threadBucket.Delete([]byte(elementID))
		if err != nil {
			return backend.NewUnexpectedError("unable to delete element %q (%w)", elementID, err)
		}
		return nil
	})
}

func (b *boltBackend) ListElements(_ context.Context, threadID string) ([]*backend.Element, error) {
	elements := []*backend.Element{}
	err := b.db.View(func(tx *bolt.Tx) error {
		threadBucket := getRootBucket(tx, elementsBucketName).Bucket([]byte(threadID))
		if threadBucket == nil {
			return nil
		}
		return threadBucket.ForEach(func(_, v []byte) error {
			element := &backend.Element{}
			err := deserialize("element", v, element)
			if err != nil {
				return err
			}
			elements = append(elements, element)
			return nil
		})
	})
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the elements of thread %q (%w)", threadID, err)
	}
	backend.SortElements(elements)
	return elements, nil
}
