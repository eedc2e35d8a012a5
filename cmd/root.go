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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentchat/agentchat/cmd/client"
	"github.com/agentchat/agentchat/cmd/deploy"
	"github.com/agentchat/agentchat/cmd/internal"
	"github.com/agentchat/agentchat/cmd/services"
)

var rootCmd = &cobra.Command{
	Use:   "agentchat",
	Short: "Chat with the agents of a hosted agent project",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Services
	rootCmd.AddCommand(services.ServicesCmd)

	// Client
	rootCmd.AddCommand(client.ClientCmd)

	// Deployment
	rootCmd.AddCommand(deploy.DeployCmd)

	// Version
	rootCmd.AddCommand(versionCmd)

	// Internal commands
	rootCmd.AddCommand(internal.InternalCmd)
}
