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

package utils

import (
	"context"
	"sync"
)

// Observer receives a notification each time the observed value changes.
//
// Notifications are coalesced: an observer that didn't consume a pending notification
// only gets one for several changes.
type Observer struct {
	channel chan struct{}
}

func newObserver() *Observer {
	return &Observer{
		channel: make(chan struct{}, 1),
	}
}

func (observer *Observer) Receive() <-chan struct{} {
	return observer.channel
}

func (observer *Observer) notify() {
	select {
	case observer.channel <- struct{}{}:
	default:
	}
}

// Observable can be observed by multiple observers living in multiple goroutines
type Observable struct {
	lock      sync.RWMutex
	observers map[*Observer]struct{}
}

func NewObservable() *Observable {
	return &Observable{
		lock:      sync.RWMutex{},
		observers: make(map[*Observer]struct{}),
	}
}

func (observable *Observable) Subscribe() *Observer {
	observable.lock.Lock()
	defer observable.lock.Unlock()
	observer := newObserver()
	observable.observers[observer] = struct{}{}
	return observer
}

func (observable *Observable) Unsubscribe(observer *Observer) {
	observable.lock.Lock()
	defer observable.lock.Unlock()
	delete(observable.observers, observer)
}

func (observable *Observable) Emit() {
	observable.lock.RLock()
	defer observable.lock.RUnlock()
	for observer := range observable.observers {
		observer.notify()
	}
}

// WaitFor blocks until the given test succeeds, it is evaluated once and then after each emission.
//
// The given context can be used to cancel the waiting.
func (observable *Observable) WaitFor(ctx context.Context, test func() bool) error {
	observer := observable.Subscribe()
	defer observable.Unsubscribe(observer)
	for {
		if test() {
			return nil
		}
		select {
		case <-observer.Receive():
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
