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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvFileKey     = "env_file"
	EnvFileEnv     = "AGENTCHAT_ENV_FILE"
	DefaultEnvFile = ".env"
)

// LoadEnvFile exports the variables of a dotenv file to the process environment.
//
// Variables already defined in the environment are kept. Since viper lower cases the keys, `knownEnvs`
// lists the variables which case needs to be restored, the others are exported upper cased.
// A missing file is not an error.
func LoadEnvFile(path string, knownEnvs []string) error {
	if path == "" {
		return nil
	}

	envViper := viper.New()
	envViper.SetConfigFile(path)
	envViper.SetConfigType("env")
	err := envViper.ReadInConfig()
	if err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if errors.Is(err, os.ErrNotExist) || errors.As(err, &notFoundErr) {
			log.WithField("path", path).Debug("no env file")
			return nil
		}
		return fmt.Errorf("unable to read env file %q: %w", path, err)
	}

	names := map[string]string{}
	for _, name := range knownEnvs {
		names[strings.ToLower(name)] = name
	}

	loaded := 0
	for _, key := range envViper.AllKeys() {
		name, ok := names[key]
		if !ok {
			name = strings.ToUpper(key)
		}
		if _, defined := os.LookupEnv(name); defined {
			continue
		}
		if err := os.Setenv(name, envViper.GetString(key)); err != nil {
			return err
		}
		loaded++
	}
	log.WithField("path", path).Debugf("%d variables loaded from the env file", loaded)
	return nil
}
