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

package client

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentchat/agentchat/cmd/services"
	"github.com/agentchat/agentchat/cmd/services/utils"
	"github.com/agentchat/agentchat/services/chat"
)

var threadViper = viper.New()

var threadCmd = &cobra.Command{
	Use:   "thread <thread_id>",
	Short: "Dump a stored thread, with its steps and elements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := utils.LoadEnvFile(threadViper.GetString(utils.EnvFileKey), services.MixedCaseEnvs)
		if err != nil {
			return err
		}

		options, err := services.ChatOptions(threadViper)
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout()
		defer cancel()

		dl, err := chat.CreateDataLayer(ctx, options)
		if err != nil {
			return timeoutError(err)
		}
		if dl == nil {
			return fmt.Errorf("no data layer configured, set --%s", "data_layer")
		}
		defer dl.Close()

		thread, err := dl.GetThread(ctx, args[0])
		if err != nil {
			return timeoutError(err)
		}
		if thread == nil {
			return fmt.Errorf("thread [%s] not found in %s", args[0], dl.BuildDebugURL())
		}
		return renderJSON(cmd.OutOrStdout(), thread, true)
	},
}

func init() {
	services.PopulateEnvFileFlag(threadCmd, threadViper)
	services.PopulateDataLayerFlags(threadCmd, threadViper)

	// Don't sort alphabetically, keep insertion order
	threadCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = threadViper.BindPFlags(threadCmd.Flags())
}
