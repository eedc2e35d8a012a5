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

package templates

const GO_DOCKERFILE = `FROM golang:{{ .GoVersion }} AS build

WORKDIR /src
COPY go.mod go.sum ./
RUN go mod download
COPY . .
RUN CGO_ENABLED=1 go build -ldflags "-X github.com/agentchat/agentchat/version.Version={{ .Version }}" -o /out/agentchat .

FROM debian:bookworm-slim

RUN apt-get update && apt-get install -y --no-install-recommends ca-certificates && rm -rf /var/lib/apt/lists/*
WORKDIR /app
COPY --from=build /out/agentchat /usr/local/bin/agentchat

EXPOSE {{ .Port }}
ENV PORT={{ .Port }}

CMD [{{ range $i, $arg := .Command }}{{ if $i }}, {{ end }}{{ $arg | quote }}{{ end }}]
`

const PYTHON_DOCKERFILE = `FROM python:{{ .PythonVersion }}-slim

WORKDIR /app
COPY . .
RUN pip install --no-cache-dir -r {{ .Manifest }}

EXPOSE {{ .Port }}
ENV PORT={{ .Port }}

CMD [{{ range $i, $arg := .Command }}{{ if $i }}, {{ end }}{{ $arg | quote }}{{ end }}]
`
