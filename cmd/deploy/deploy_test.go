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

package deploy

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

func TestDockerfileToFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	deployFs = fs
	defer func() { deployFs = afero.NewOsFs() }()

	DeployCmd.SetArgs([]string{"dockerfile", "--runtime", "python", "--port", "9000", "--output", "build/Dockerfile"})
	err := DeployCmd.Execute()
	assert.NoError(t, err)

	content, err := afero.ReadFile(fs, "build/Dockerfile")
	assert.NoError(t, err)
	assert.Contains(t, string(content), "FROM python:3.11-slim\n")
	assert.Contains(t, string(content), `CMD ["chainlit", "run", "app.py", "--host", "0.0.0.0", "--port", "9000"]`)
}

func TestDockerfileToStdout(t *testing.T) {
	out := &bytes.Buffer{}
	DeployCmd.SetOut(out)
	defer DeployCmd.SetOut(nil)

	DeployCmd.SetArgs([]string{"dockerfile", "--runtime", "go", "--port", "8000", "--output", "-"})
	err := DeployCmd.Execute()
	assert.NoError(t, err)
	assert.Contains(t, out.String(), `CMD ["agentchat", "services", "chat", "--host", "0.0.0.0", "--port", "8000"]`)
}

func TestDockerfileInvalidPort(t *testing.T) {
	DeployCmd.SetArgs([]string{"dockerfile", "--runtime", "go", "--port", "0", "--output", "-"})
	DeployCmd.SilenceUsage = true
	err := DeployCmd.Execute()
	assert.Error(t, err)
}
