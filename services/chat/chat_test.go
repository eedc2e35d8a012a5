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

package chat

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T, dataLayer string) Options {
	dir := t.TempDir()
	options := DefaultOptions
	options.DataLayer = dataLayer
	options.BoltFile = filepath.Join(dir, "agentchat.db")
	options.SQLiteFile = filepath.Join(dir, "agentchat.sqlite")
	options.BlobDir = filepath.Join(dir, "files")
	return options
}

func TestCreateDataLayer(t *testing.T) {
	ctx := context.Background()

	for _, dataLayer := range []string{MemoryDataLayer, BoltDataLayer, SQLDataLayer} {
		dl, err := CreateDataLayer(ctx, testOptions(t, dataLayer))
		require.NoError(t, err, dataLayer)
		require.NotNil(t, dl, dataLayer)
		assert.NotEmpty(t, dl.BuildDebugURL())
		dl.Close()
	}
}

func TestCreateDataLayerDisabled(t *testing.T) {
	dl, err := CreateDataLayer(context.Background(), testOptions(t, NoDataLayer))
	assert.NoError(t, err)
	assert.Nil(t, dl)
}

func TestCreateDataLayerErrors(t *testing.T) {
	ctx := context.Background()

	_, err := CreateDataLayer(ctx, testOptions(t, "mongo"))
	assert.EqualError(t, err, `unknown data layer "mongo", expecting one of [none memory bolt sql cosmos]`)

	// Cosmos needs an endpoint, a key and a database
	_, err = CreateDataLayer(ctx, testOptions(t, CosmosDataLayer))
	assert.Error(t, err)

	options := testOptions(t, MemoryDataLayer)
	options.BlobStore = "ftp"
	_, err = CreateDataLayer(ctx, options)
	assert.EqualError(t, err, `unknown blob store "ftp", expecting one of [fs s3]`)

	options.BlobStore = S3BlobStore
	_, err = CreateDataLayer(ctx, options)
	assert.Error(t, err)
}

func TestRunInvalidPort(t *testing.T) {
	options := testOptions(t, NoDataLayer)
	options.Port = 70000
	assert.EqualError(t, Run(context.Background(), options), "invalid port 70000")
}

func freePort(t *testing.T) uint {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return uint(listener.Addr().(*net.TCPAddr).Port)
}

func TestRunWithoutProjectEndpoint(t *testing.T) {
	options := testOptions(t, NoDataLayer)
	options.Host = "127.0.0.1"
	options.Port = freePort(t)
	options.ProjectEndpoint = ""
	options.ProjectAPIKey = "key"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- Run(ctx, options)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/", options.Port)
	assert.Eventually(t, func() bool {
		response, err := http.Get(url)
		if err != nil {
			return false
		}
		response.Body.Close()
		return response.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}
}

func TestAgentListerWithoutProjectEndpoint(t *testing.T) {
	agents := &agentLister{newClient: clientFactory(Options{ProjectAPIKey: "key"})}
	defer agents.Close()

	_, err := agents.ListAgents(context.Background(), 10)
	assert.EqualError(t, err, "the agent project endpoint is not defined, set PROJECT_ENDPOINT")
}

func TestGenerateOpenAPISpec(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, GenerateOpenAPISpec(fs, "/openapi.json"))

	content, err := afero.ReadFile(fs, "/openapi.json")
	require.NoError(t, err)
	assert.Contains(t, string(content), "/chats/{session_id}")
}
