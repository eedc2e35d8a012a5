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
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
)

func TestCreateBackendRequiresSettings(t *testing.T) {
	_, err := CreateBackend(context.Background(), Options{Endpoint: "https://example.documents.azure.com:443/"})
	assert.Error(t, err)

	_, err = CreateBackend(context.Background(), Options{Key: "a2V5", Database: "chat"})
	assert.Error(t, err)
}

func TestResponseErrorClassification(t *testing.T) {
	notFound := fmt.Errorf("wrapped: %w", &azcore.ResponseError{StatusCode: http.StatusNotFound})
	conflict := &azcore.ResponseError{StatusCode: http.StatusConflict}

	assert.True(t, isNotFound(notFound))
	assert.False(t, isConflict(notFound))
	assert.True(t, isConflict(conflict))
	assert.False(t, isNotFound(conflict))
	assert.False(t, isNotFound(fmt.Errorf("network unreachable")))
}
