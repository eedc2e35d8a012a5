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
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentchat/agentchat/services/deploy"
)

var log = logrus.WithField("component", "deploy")

var deployViper = viper.New()

var deployFs = afero.NewOsFs()

const (
	deployRuntimeKey = "runtime"
	deployRuntimeEnv = "AGENTCHAT_DEPLOY_RUNTIME"
	deployPortKey    = "port"
	deployPortEnv    = "PORT"
	deployAppFileKey = "app_file"
	deployAppFileEnv = "AGENTCHAT_DEPLOY_APP_FILE"
	deployOutputKey  = "output"
	defaultOutput    = "Dockerfile"
	stdoutOutput     = "-"
)

var DeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Prepare the deployment of the chat application",
	Args:  cobra.NoArgs,
}

var dockerfileCmd = &cobra.Command{
	Use:   "dockerfile",
	Short: "Generate the Dockerfile of a container serving the chat application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _args []string) error {
		options := deploy.DockerfileOptions{
			Runtime: deploy.Runtime(deployViper.GetString(deployRuntimeKey)),
			Port:    deployViper.GetUint(deployPortKey),
			AppFile: deployViper.GetString(deployAppFileKey),
		}

		buffer := &bytes.Buffer{}
		err := deploy.RenderDockerfile(buffer, options)
		if err != nil {
			return err
		}

		output := deployViper.GetString(deployOutputKey)
		if output == stdoutOutput {
			_, err = cmd.OutOrStdout().Write(buffer.Bytes())
			return err
		}

		err = afero.WriteFile(deployFs, output, buffer.Bytes(), 0644)
		if err != nil {
			return fmt.Errorf("unable to write the Dockerfile to %q: %w", output, err)
		}
		log.WithField("output", output).Info("Dockerfile generated")
		return nil
	},
}

func init() {
	deployViper.SetDefault(deployRuntimeKey, string(deploy.GoRuntime))
	_ = deployViper.BindEnv(deployRuntimeKey, deployRuntimeEnv)
	dockerfileCmd.Flags().String(
		deployRuntimeKey,
		deployViper.GetString(deployRuntimeKey),
		fmt.Sprintf("Runtime of the container as one of %v", deploy.Runtimes),
	)

	deployViper.SetDefault(deployPortKey, deploy.DefaultPort)
	_ = deployViper.BindEnv(deployPortKey, deployPortEnv)
	dockerfileCmd.Flags().Uint(
		deployPortKey,
		deployViper.GetUint(deployPortKey),
		"Port exposed by the container",
	)

	deployViper.SetDefault(deployAppFileKey, deploy.DefaultAppFile)
	_ = deployViper.BindEnv(deployAppFileKey, deployAppFileEnv)
	dockerfileCmd.Flags().String(
		deployAppFileKey,
		deployViper.GetString(deployAppFileKey),
		"Application file launched by the python runtime",
	)

	deployViper.SetDefault(deployOutputKey, defaultOutput)
	dockerfileCmd.Flags().StringP(
		deployOutputKey,
		"o",
		deployViper.GetString(deployOutputKey),
		"Output file, - writes to the standard output",
	)

	// Don't sort alphabetically, keep insertion order
	dockerfileCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = deployViper.BindPFlags(dockerfileCmd.Flags())

	DeployCmd.AddCommand(dockerfileCmd)
}
