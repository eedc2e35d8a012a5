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

	"github.com/stretchr/testify/assert"
)

func TestLaunchCommand(t *testing.T) {
	command, err := LaunchCommand(DockerfileOptions{Port: 8000})
	assert.NoError(t, err)
	assert.Equal(t, []string{"agentchat", "services", "chat", "--host", "0.0.0.0", "--port", "8000"}, command)

	command, err = LaunchCommand(DockerfileOptions{Runtime: PythonRuntime, Port: 9000})
	assert.NoError(t, err)
	assert.Equal(t, []string{"chainlit", "run", "app.py", "--host", "0.0.0.0", "--port", "9000"}, command)
}

func TestInvalidOptions(t *testing.T) {
	_, err := LaunchCommand(DockerfileOptions{Port: 0})
	assert.EqualError(t, err, "invalid port 0, expecting a value between 1 and 65535")

	_, err = LaunchCommand(DockerfileOptions{Port: 65536})
	assert.Error(t, err)

	err = RenderDockerfile(&bytes.Buffer{}, DockerfileOptions{Runtime: "node", Port: 8000})
	assert.EqualError(t, err, `unknown runtime "node" expecting one of [go python]`)
}

func TestRenderPythonDockerfile(t *testing.T) {
	buffer := &bytes.Buffer{}
	err := RenderDockerfile(buffer, DockerfileOptions{Runtime: PythonRuntime, Port: DefaultPort})
	assert.NoError(t, err)
	assert.Equal(t, `FROM python:3.11-slim

WORKDIR /app
COPY . .
RUN pip install --no-cache-dir -r requirements.txt

EXPOSE 8000
ENV PORT=8000

CMD ["chainlit", "run", "app.py", "--host", "0.0.0.0", "--port", "8000"]
`, buffer.String())
}

func TestRenderGoDockerfile(t *testing.T) {
	buffer := &bytes.Buffer{}
	err := RenderDockerfile(buffer, DockerfileOptions{Port: 8080})
	assert.NoError(t, err)

	dockerfile := buffer.String()
	assert.Contains(t, dockerfile, "FROM golang:1.23 AS build\n")
	assert.Contains(t, dockerfile, "RUN go mod download\n")
	assert.Contains(t, dockerfile, "EXPOSE 8080\nENV PORT=8080\n")
	assert.Contains(t, dockerfile, `CMD ["agentchat", "services", "chat", "--host", "0.0.0.0", "--port", "8080"]`)
}
