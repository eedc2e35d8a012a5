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

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/cmd/services"
	"github.com/agentchat/agentchat/cmd/services/utils"
	"github.com/agentchat/agentchat/services/chat/profiles"
)

var agentsViper = viper.New()

const agentsLimitKey = "limit"

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"profiles"},
	Short:   "List the agents of the project, i.e. the available chat profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _args []string) error {
		consoleOutputFormat, err := retrieveConsoleOutputFormat()
		if err != nil {
			return err
		}

		err = utils.LoadEnvFile(agentsViper.GetString(utils.EnvFileKey), services.MixedCaseEnvs)
		if err != nil {
			return err
		}

		options, err := services.ChatOptions(agentsViper)
		if err != nil {
			return err
		}
		client, err := foundry.NewClient(foundry.Options{
			Endpoint: options.ProjectEndpoint,
			APIKey:   options.ProjectAPIKey,
			Verbose:  options.Verbose,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := withTimeout()
		defer cancel()
		agents, err := client.ListAgents(ctx, agentsViper.GetInt(agentsLimitKey))
		if err != nil {
			return timeoutError(err)
		}

		switch consoleOutputFormat {
		case text:
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetBorder(false)
			table.SetHeader([]string{
				"name",
				"version",
				"model",
				"description",
			})
			for _, agent := range agents {
				latest := agent.Versions.Latest
				table.Append([]string{
					agent.Name,
					latest.Version,
					latest.Definition.Model,
					latest.Description,
				})
			}
			table.SetCaption(true, fmt.Sprintf("%d agents retrieved", len(agents)))
			table.Render()
		case json:
			chatProfiles := make([]profiles.ChatProfile, 0, len(agents))
			for _, agent := range agents {
				chatProfiles = append(chatProfiles, profiles.NewChatProfile(agent))
			}
			return renderJSON(cmd.OutOrStdout(), chatProfiles, false)
		}
		return nil
	},
}

func init() {
	services.PopulateEnvFileFlag(agentsCmd, agentsViper)
	services.PopulateProjectFlags(agentsCmd, agentsViper)

	agentsViper.SetDefault(agentsLimitKey, profiles.DefaultLimit)
	agentsCmd.Flags().Int(
		agentsLimitKey,
		agentsViper.GetInt(agentsLimitKey),
		"Maximum number of agents to retrieve",
	)

	// Don't sort alphabetically, keep insertion order
	agentsCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = agentsViper.BindPFlags(agentsCmd.Flags())
}
