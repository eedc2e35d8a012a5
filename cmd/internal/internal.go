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

package internal

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentchat/agentchat/services/chat"
)

var internalViper = viper.New()

const (
	generateAPISpecOutputKey     = "output"
	generateAPISpecOutputDefault = "./agentchat-openapi.json"
)

var InternalCmd = &cobra.Command{
	Use:    "internal",
	Short:  "Internal commands used to build agentchat",
	Hidden: true,
	Args:   cobra.NoArgs,
}

var generateAPISpecCmd = &cobra.Command{
	Use:   "generate_api_spec",
	Short: "Generate the OpenAPI specification of the chat service",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		return chat.GenerateOpenAPISpec(afero.NewOsFs(), internalViper.GetString(generateAPISpecOutputKey))
	},
}

func init() {
	internalViper.SetDefault(generateAPISpecOutputKey, generateAPISpecOutputDefault)
	generateAPISpecCmd.Flags().String(
		generateAPISpecOutputKey,
		internalViper.GetString(generateAPISpecOutputKey),
		"Output file",
	)
	_ = internalViper.BindPFlags(generateAPISpecCmd.Flags())

	InternalCmd.AddCommand(generateAPISpecCmd)
}
