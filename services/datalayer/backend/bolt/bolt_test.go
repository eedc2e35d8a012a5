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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/datalayer/backend/test"
)

func TestSuiteBoltBackend(t *testing.T) {
	test.RunSuite(t, func() backend.Backend {
		// create and open a temporary file
		f, err := os.CreateTemp("", "agentchat-bolt-test")
		assert.NoError(t, err)

		// close and remove the temporary file
		defer f.Close()

		bolt, err := CreateBoltBackend(f.Name())
		assert.NoError(t, err)
		return bolt
	}, func(b backend.Backend) {
		rb := b.(*boltBackend)

		defer os.Remove(rb.filePath)
		defer rb.Destroy()
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	f, err := os.CreateTemp("", "agentchat-bolt-reopen")
	assert.NoError(t, err)
	f.Close()
	defer os.Remove(f.Name())

	ctx := context.Background()

	b, err := CreateBoltBackend(f.Name())
	assert.NoError(t, err)
	err = b.UpsertThread(ctx, &backend.Thread{
		ID:       "thread-1",
		UserID:   "admin",
		Name:     "Persisted",
		Metadata: backend.Metadata{"conversation_id": "conv_1"},
	})
	assert.NoError(t, err)
	b.Destroy()

	b, err = CreateBoltBackend(f.Name())
	assert.NoError(t, err)
	defer b.Destroy()

	thread, err := b.GetThread(ctx, "thread-1")
	assert.NoError(t, err)
	assert.Equal(t, "Persisted", thread.Name)
	assert.Equal(t, "conv_1", thread.Metadata.String("conversation_id"))
}
