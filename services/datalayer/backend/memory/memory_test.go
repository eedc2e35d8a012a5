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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/datalayer/backend/test"
)

func TestSuiteMemoryBackend(t *testing.T) {
	test.RunSuite(t, func() backend.Backend {
		b, err := CreateBackend()
		assert.NoError(t, err)
		return b
	}, func(b backend.Backend) {
		mb := b.(*memoryBackend)
		mb.Destroy()
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	b, err := CreateBackend()
	assert.NoError(t, err)
	defer b.Destroy()

	ctx := context.Background()
	err = b.UpsertThread(ctx, &backend.Thread{
		ID:       "thread-1",
		UserID:   "admin",
		Metadata: backend.Metadata{"agent_name": "agent-km"},
	})
	assert.NoError(t, err)

	thread, err := b.GetThread(ctx, "thread-1")
	assert.NoError(t, err)
	thread.Metadata["agent_name"] = "other"

	thread, err = b.GetThread(ctx, "thread-1")
	assert.NoError(t, err)
	assert.Equal(t, "agent-km", thread.Metadata.String("agent_name"))
}
