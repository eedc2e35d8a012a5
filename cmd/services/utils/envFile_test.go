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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(
		path,
		[]byte("Azure_Cosmos_Endpoint=https://cosmos.example.com\nAGENTCHAT_TEST_PORT=9000\nAGENTCHAT_TEST_KEPT=file\n"),
		0600,
	))

	t.Setenv("AGENTCHAT_TEST_KEPT", "env")
	// Restored by t.Setenv at the end of the test
	t.Setenv("Azure_Cosmos_Endpoint", "")
	require.NoError(t, os.Unsetenv("Azure_Cosmos_Endpoint"))
	t.Setenv("AGENTCHAT_TEST_PORT", "")
	require.NoError(t, os.Unsetenv("AGENTCHAT_TEST_PORT"))

	require.NoError(t, LoadEnvFile(path, []string{"Azure_Cosmos_Endpoint"}))

	assert.Equal(t, "https://cosmos.example.com", os.Getenv("Azure_Cosmos_Endpoint"))
	assert.Equal(t, "9000", os.Getenv("AGENTCHAT_TEST_PORT"))
	assert.Equal(t, "env", os.Getenv("AGENTCHAT_TEST_KEPT"))
}

func TestLoadMissingEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), nil))
	assert.NoError(t, LoadEnvFile("", nil))
}
