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

package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/agentchat/agentchat/services/datalayer/backend"
)

var log = logrus.WithField("component", "datalayer/sql")

type dbUser struct {
	ID         string `gorm:"primarykey"`
	Identifier string
	CreatedAt  string
	Data       []byte
}

type dbThread struct {
	ID        string `gorm:"primarykey"`
	UserID    string `gorm:"index"`
	CreatedAt string
	Data      []byte
}

type dbStep struct {
	ThreadID  string `gorm:"primarykey"`
	ID        string `gorm:"primarykey;index"`
	CreatedAt string
	Data      []byte
}

type dbElement struct {
	ThreadID  string `gorm:"primarykey"`
	ID        string `gorm:"primarykey"`
	CreatedAt string
	Data      []byte
}

type sqlBackend struct {
	db       *gorm.DB
	filePath string
}

func marshal(kind string, record interface{}) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to serialize %s (%w)", kind, err)
	}
	return data, nil
}

func unmarshal(kind string, data []byte, record interface{}) error {
	err := json.Unmarshal(data, record)
	if err != nil {
		return backend.NewUnexpectedError("unable to deserialize %s (%w)", kind, err)
	}
	return nil
}

// CreateBackend creates a new backend storing the chat history in a SQLite database
func CreateBackend(filePath string) (backend.Backend, error) {
	dbLogger := logger.New(log, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		Colorful:                  false,
		IgnoreRecordNotFoundError: true,
	})

	// Setting cache=shared following the guidelines from https://github.com/mattn/go-sqlite3#faq
	db, err := gorm.Open(sqlite.Open(filePath+"?cache=shared"), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("error while connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unexpected error while accessing the low level SQL DB driver: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // Following the guidelines from https://github.com/mattn/go-sqlite3#faq

	err = db.AutoMigrate(&dbUser{}, &dbThread{}, &dbStep{}, &dbElement{})
	if err != nil {
		return nil, fmt.Errorf("error during database migration: %w", err)
	}

	return &sqlBackend{db: db, filePath: filePath}, nil
}

func (b *sqlBackend) Kind() string {
	return "SQL"
}

func (b *sqlBackend) Name() string {
	return b.filePath
}

func (b *sqlBackend) Destroy() {
	sqlDB, err := b.db.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (b *sqlBackend) GetUser(ctx context.Context, userID string) (*backend.User, error) {
	row := dbUser{}
	if err := b.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownUserError{UserID: userID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve user %q (%w)", userID, err)
	}
	user := &backend.User{}
	if err := unmarshal("user", row.Data, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *sqlBackend) CreateUser(ctx context.Context, user *backend.User) error {
	data, err := marshal("user", user)
	if err != nil {
		return err
	}
	result := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&dbUser{
		ID:         user.ID,
		Identifier: user.Identifier,
		CreatedAt:  user.CreatedAt,
		Data:       data,
	})
	if result.Error != nil {
		return backend.NewUnexpectedError("unable to create user %q (%w)", user.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return &backend.UserAlreadyExistsError{UserID: user.ID}
	}
	return nil
}

func (b *sqlBackend) GetThread(ctx context.Context, threadID string) (*backend.Thread, error) {
	row := dbThread{}
	if err := b.db.WithContext(ctx).First(&row, "id = ?", threadID).Error; err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownThreadError{ThreadID: threadID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve thread %q (%w)", threadID, err)
	}
	thread := &backend.Thread{}
	if err := unmarshal("thread", row.Data, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

func (b *sqlBackend) UpsertThread(ctx context.Context, thread *backend.Thread) error {
	data, err := marshal("thread", thread)
	if err != nil {
		return err
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&dbThread{
		ID:        thread.ID,
		UserID:    thread.UserID,
		CreatedAt: thread.CreatedAt,
		Data:      data,
	}).Error
	if err != nil {
		return backend.NewUnexpectedError("unable to upsert thread %q (%w)", thread.ID, err)
	}
	return nil
}

func (b *sqlBackend) DeleteThread(ctx context.Context, threadID string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&dbStep{}).Error; err != nil {
			return backend.NewUnexpectedError("unable to delete the steps of thread %q (%w)", threadID, err)
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&dbElement{}).Error; err != nil {
			return backend.NewUnexpectedError("unable to delete the elements of thread %q (%w)", threadID, err)
		}
		result := tx.Where("id = ?", threadID).Delete(&dbThread{})
		if result.Error != nil {
			return backend.NewUnexpectedError("unable to delete thread %q (%w)", threadID, result.Error)
		}
		if result.RowsAffected == 0 {
			return &backend.UnknownThreadError{ThreadID: threadID}
		}
		return nil
	})
}

func (b *sqlBackend) ListThreads(ctx context.Context, filter backend.ThreadFilter) ([]*backend.Thread, error) {
	rows := []dbThread{}
	err := b.db.WithContext(ctx).Where("user_id = ?", filter.UserID).Order("created_at desc").Find(&rows).Error
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve threads (%w)", err)
	}
	threads := make([]*backend.Thread, 0, len(rows))
	for _, row := range rows {
		thread := &backend.Thread{}
		if err := unmarshal("thread", row.Data, thread); err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return backend.SelectThreads(threads, filter), nil
}

func (b *sqlBackend) GetStep(ctx context.Context, threadID string, stepID string) (*backend.Step, error) {
	row := dbStep{}
	err := b.db.WithContext(ctx).First(&row, "thread_id = ? AND id = ?", threadID, stepID).Error
	if err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve step %q (%w)", stepID, err)
	}
	step := &backend.Step{}
	if err := unmarshal("step", row.Data, step); err != nil {
		return nil, err
	}
	return step, nil
}

func (b *sqlBackend) FindStepThread(ctx context.Context, stepID string) (string, error) {
	row := dbStep{}
	if err := b.db.WithContext(ctx).First(&row, "id = ?", stepID).Error; err != nil {
		if isNotFound(err) {
			return "", &backend.UnknownStepError{StepID: stepID}
		}
		return "", backend.NewUnexpectedError("unable to retrieve step %q (%w)", stepID, err)
	}
	return row.ThreadID, nil
}

func (b *sqlBackend) UpsertStep(ctx context.Context, step *backend.Step) error {
	data, err := marshal("step", step)
	if err != nil {
		return err
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&dbStep{
		ThreadID:  step.ThreadID,
		ID:        step.ID,
		CreatedAt: step.CreatedAt,
		Data:      data,
	}).Error
	if err != nil {
		return backend.NewUnexpectedError("unable to upsert step %q (%w)", step.ID, err)
	}
	return nil
}

func (b *sqlBackend) DeleteStep(ctx context.Context, threadID string, stepID string) error {
	result := b.db.WithContext(ctx).Where("thread_id = ? AND id = ?", threadID, stepID).Delete(&dbStep{})
	if result.Error != nil {
		return backend.NewUnexpectedError("unable to delete step %q (%w)", stepID, result.Error)
	}
	if result.RowsAffected == 0 {
		return &backend.UnknownStepError{ThreadID: threadID, StepID: stepID}
	}
	return nil
}

func (b *sqlBackend) ListSteps(ctx context.Context, threadID string) ([]*backend.Step, error) {
	rows := []dbStep{}
	err := b.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the steps of thread %q (%w)", threadID, err)
	}
	steps := make([]*backend.Step, 0, len(rows))
	for _, row := range rows {
		step := &backend.Step{}
		if err := unmarshal("step", row.Data, step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (b *sqlBackend) GetElement(ctx context.Context, threadID string, elementID string) (*backend.Element, error) {
	row := dbElement{}
	err := b.db.WithContext(ctx).First(&row, "thread_id = ? AND id = ?", threadID, elementID).Error
	if err != nil {
		if isNotFound(err) {
			return nil, &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
		}
		return nil, backend.NewUnexpectedError("unable to retrieve element %q (%w)", elementID, err)
	}
	element := &backend.Element{}
	if err := unmarshal("element", row.Data, element); err != nil {
		return nil, err
	}
	return element, nil
}

func (b *sqlBackend) UpsertElement(ctx context.Context, element *backend.Element) error {
	data, err := marshal("element", element)
	if err != nil {
		return err
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&dbElement{
		ThreadID:  element.ThreadID,
		ID:        element.ID,
		CreatedAt: element.CreatedAt,
		Data:      data,
	}).Error
	if err != nil {
		return backend.NewUnexpectedError("unable to upsert element %q (%w)", element.ID, err)
	}
	return nil
}

func (b *sqlBackend) DeleteElement(ctx context.Context, threadID string, elementID string) error {
	result := b.db.WithContext(ctx).Where("thread_id = ? AND id = ?", threadID, elementID).Delete(&dbElement{})
	if result.Error != nil {
		return backend.NewUnexpectedError("unable to delete element %q (%w)", elementID, result.Error)
	}
	if result.RowsAffected == 0 {
		return &backend.UnknownElementError{ThreadID: threadID, ElementID: elementID}
	}
	return nil
}

func (b *sqlBackend) ListElements(ctx context.Context, threadID string) ([]*backend.Element, error) {
	rows := []dbElement{}
	err := b.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, backend.NewUnexpectedError("unable to retrieve the elements of thread %q (%w)", threadID, err)
	}
	elements := make([]*backend.Element, 0, len(rows))
	for _, row := range rows {
		element := &backend.Element{}
		if err := unmarshal("element", row.Data, element); err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return elements, nil
}
