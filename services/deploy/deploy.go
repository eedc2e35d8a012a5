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
	"fmt"
	"io"
	"strconv"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/templates"
	"github.com/agentchat/agentchat/version"
)

var log = logrus.WithField("component", "deploy")

type Runtime string

const (
	GoRuntime     Runtime = "go"
	PythonRuntime Runtime = "python"
)

var Runtimes = []Runtime{GoRuntime, PythonRuntime}

const (
	DefaultPort          uint = 8000
	DefaultAppFile            = "app.py"
	DefaultPythonVersion      = "3.11"
	DefaultGoVersion          = "1.23"
	ListenHost                = "0.0.0.0"
	pythonManifest            = "requirements.txt"
)

type DockerfileOptions struct {
	Runtime       Runtime
	Port          uint
	AppFile       string
	PythonVersion string
	GoVersion     string
}

type dockerfileData struct {
	Port          uint
	Command       []string
	Manifest      string
	PythonVersion string
	GoVersion     string
	Version       string
}

// Normalize fills the defaults and validates the options.
func (options DockerfileOptions) Normalize() (DockerfileOptions, error) {
	if options.Runtime == "" {
		options.Runtime = GoRuntime
	}
	if options.Runtime != GoRuntime && options.Runtime != PythonRuntime {
		return options, fmt.Errorf("unknown runtime %q expecting one of %v", options.Runtime, Runtimes)
	}
	if options.Port == 0 || options.Port > 65535 {
		return options, fmt.Errorf("invalid port %d, expecting a value between 1 and 65535", options.Port)
	}
	if options.AppFile == "" {
		options.AppFile = DefaultAppFile
	}
	if options.PythonVersion == "" {
		options.PythonVersion = DefaultPythonVersion
	}
	if options.GoVersion == "" {
		options.GoVersion = DefaultGoVersion
	}
	return options, nil
}

// LaunchCommand returns the command run by the container, listening on all the interfaces.
func LaunchCommand(options DockerfileOptions) ([]string, error) {
	options, err := options.Normalize()
	if err != nil {
		return nil, err
	}
	port := strconv.FormatUint(uint64(options.Port), 10)
	if options.Runtime == PythonRuntime {
		return []string{"chainlit", "run", options.AppFile, "--host", ListenHost, "--port", port}, nil
	}
	return []string{"agentchat", "services", "chat", "--host", ListenHost, "--port", port}, nil
}

func RenderDockerfile(w io.Writer, options DockerfileOptions) error {
	options, err := options.Normalize()
	if err != nil {
		return err
	}
	command, err := LaunchCommand(options)
	if err != nil {
		return err
	}

	source := templates.GO_DOCKERFILE
	if options.Runtime == PythonRuntime {
		source = templates.PYTHON_DOCKERFILE
	}
	tmpl, err := template.New(string(options.Runtime)).Funcs(sprig.TxtFuncMap()).Parse(source)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"runtime": options.Runtime,
		"port":    options.Port,
	}).Debug("rendering Dockerfile")
	return tmpl.Execute(w, dockerfileData{
		Port:          options.Port,
		Command:       command,
		Manifest:      pythonManifest,
		PythonVersion: options.PythonVersion,
		GoVersion:     options.GoVersion,
		Version:       version.Version,
	})
}
