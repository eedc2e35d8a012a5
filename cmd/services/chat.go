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

package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentchat/agentchat/cmd/services/utils"
	"github.com/agentchat/agentchat/services/chat"
	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/version"
)

var chatViper = viper.New()

const (
	chatHostKey            = "host"
	chatHostEnv            = "AGENTCHAT_HOST"
	chatPortKey            = "port"
	chatPortEnv            = "PORT"
	chatAppNameKey         = "app_name"
	chatAppNameEnv         = "APP_NAME"
	chatEnvKey             = "env"
	chatEnvEnv             = "ENV"
	chatSecretKey          = "secret"
	chatSecretEnv          = "AGENTCHAT_SECRET"
	chatUsersFileKey       = "users_file"
	chatUsersFileEnv       = "AGENTCHAT_USERS_FILE"
	chatProjectEndpointKey = "project_endpoint"
	chatProjectEndpointEnv = "PROJECT_ENDPOINT"
	chatProjectAPIKeyKey   = "project_api_key"
	chatProjectAPIKeyEnv   = "PROJECT_API_KEY"
	chatDefaultAgentKey    = "default_agent_name"
	chatDefaultAgentEnv    = "DEFAULT_AGENT_NAME"
	chatProfilesLimitKey   = "profiles_limit"
	chatProfilesLimitEnv   = "AGENTCHAT_PROFILES_LIMIT"
	chatProfilesTTLKey     = "profiles_ttl"
	chatProfilesTTLEnv     = "AGENTCHAT_PROFILES_TTL"
	chatVerboseKey         = "verbose"
	chatVerboseEnv         = "AGENTCHAT_VERBOSE"
	chatDataLayerKey       = "data_layer"
	chatDataLayerEnv       = "AGENTCHAT_DATA_LAYER"
	chatBoltFileKey        = "bolt_file"
	chatBoltFileEnv        = "AGENTCHAT_BOLT_FILE"
	chatSQLiteFileKey      = "sqlite_file"
	chatSQLiteFileEnv      = "AGENTCHAT_SQLITE_FILE"
	chatCosmosEndpointKey  = "cosmos_endpoint"
	chatCosmosEndpointEnv  = "Azure_Cosmos_Endpoint"
	chatCosmosKeyKey       = "cosmos_key"
	chatCosmosKeyEnv       = "Azure_Cosmos_KEY"
	chatCosmosDatabaseKey  = "cosmos_database"
	chatCosmosDatabaseEnv  = "Azuredb"
	chatBlobStoreKey       = "blob_store"
	chatBlobStoreEnv       = "AGENTCHAT_BLOB_STORE"
	chatBlobDirKey         = "blob_dir"
	chatBlobDirEnv         = "AGENTCHAT_BLOB_DIR"
	chatBucketKey          = "bucket"
	chatBucketEnv          = "BUCKET_NAME"
	chatRegionKey          = "region"
	chatRegionEnv          = "AWS_REGION"
	chatS3EndpointKey      = "s3_endpoint"
	chatS3EndpointEnv      = "AGENTCHAT_S3_ENDPOINT"
	chatDownloadDirKey     = "download_dir"
	chatDownloadDirEnv     = "AGENTCHAT_DOWNLOAD_DIR"
)

// MixedCaseEnvs are the environment variables that aren't upper cased.
var MixedCaseEnvs = []string{chatCosmosEndpointEnv, chatCosmosKeyEnv, chatCosmosDatabaseEnv}

// ChatOptions builds the chat service options from a viper populated by PopulateChatFlags.
func ChatOptions(cfg *viper.Viper) (chat.Options, error) {
	options := chat.Options{
		Host:             cfg.GetString(chatHostKey),
		Port:             cfg.GetUint(chatPortKey),
		AppName:          cfg.GetString(chatAppNameKey),
		Env:              cfg.GetString(chatEnvKey),
		Secret:           cfg.GetString(chatSecretKey),
		Users:            chat.DefaultOptions.Users,
		ProjectEndpoint:  cfg.GetString(chatProjectEndpointKey),
		ProjectAPIKey:    cfg.GetString(chatProjectAPIKeyKey),
		DefaultAgentName: cfg.GetString(chatDefaultAgentKey),
		ProfilesLimit:    cfg.GetInt(chatProfilesLimitKey),
		ProfilesTTL:      cfg.GetDuration(chatProfilesTTLKey),
		Verbose:          cfg.GetBool(chatVerboseKey),
		DataLayer:        cfg.GetString(chatDataLayerKey),
		BoltFile:         cfg.GetString(chatBoltFileKey),
		SQLiteFile:       cfg.GetString(chatSQLiteFileKey),
		CosmosEndpoint:   cfg.GetString(chatCosmosEndpointKey),
		CosmosKey:        cfg.GetString(chatCosmosKeyKey),
		CosmosDatabase:   cfg.GetString(chatCosmosDatabaseKey),
		BlobStore:        cfg.GetString(chatBlobStoreKey),
		BlobDir:          cfg.GetString(chatBlobDirKey),
		Bucket:           cfg.GetString(chatBucketKey),
		Region:           cfg.GetString(chatRegionKey),
		S3Endpoint:       cfg.GetString(chatS3EndpointKey),
		DownloadDir:      cfg.GetString(chatDownloadDirKey),
	}

	if usersFile := cfg.GetString(chatUsersFileKey); usersFile != "" {
		users, err := auth.LoadUsers(afero.NewOsFs(), usersFile)
		if err != nil {
			return chat.Options{}, err
		}
		options.Users = users
	}
	return options, nil
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the chat service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _args []string) error {
		err := configureLog(servicesViper)
		if err != nil {
			return err
		}

		err = utils.LoadEnvFile(chatViper.GetString(utils.EnvFileKey), MixedCaseEnvs)
		if err != nil {
			return err
		}

		options, err := ChatOptions(chatViper)
		if err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"version": version.Version,
			"hash":    version.Hash,
			"app":     options.AppName,
		}).Info("starting the chat service")

		ctx := utils.ContextWithUserTermination(context.Background())

		err = chat.Run(ctx, options)
		if err != nil {
			if err == context.Canceled {
				log.Info("interrupted by user")
				return nil
			}
			return err
		}
		return nil
	},
}

// PopulateDataLayerFlags declares the flags selecting and configuring the data layer.
func PopulateDataLayerFlags(cmd *cobra.Command, cfg *viper.Viper) {
	cfg.SetDefault(chatDataLayerKey, chat.DefaultOptions.DataLayer)
	_ = cfg.BindEnv(chatDataLayerKey, chatDataLayerEnv)
	cmd.Flags().String(
		chatDataLayerKey,
		cfg.GetString(chatDataLayerKey),
		"Data layer persisting the chat history, one of none, memory, bolt, sql or cosmos",
	)

	cfg.SetDefault(chatBoltFileKey, chat.DefaultOptions.BoltFile)
	_ = cfg.BindEnv(chatBoltFileKey, chatBoltFileEnv)
	cmd.Flags().String(
		chatBoltFileKey,
		cfg.GetString(chatBoltFileKey),
		"Database file of the bolt data layer",
	)

	cfg.SetDefault(chatSQLiteFileKey, chat.DefaultOptions.SQLiteFile)
	_ = cfg.BindEnv(chatSQLiteFileKey, chatSQLiteFileEnv)
	cmd.Flags().String(
		chatSQLiteFileKey,
		cfg.GetString(chatSQLiteFileKey),
		"Database file of the sql data layer",
	)

	_ = cfg.BindEnv(chatCosmosEndpointKey, chatCosmosEndpointEnv)
	cmd.Flags().String(
		chatCosmosEndpointKey,
		cfg.GetString(chatCosmosEndpointKey),
		"Endpoint of the Cosmos DB account of the cosmos data layer",
	)

	_ = cfg.BindEnv(chatCosmosKeyKey, chatCosmosKeyEnv)
	cmd.Flags().String(
		chatCosmosKeyKey,
		"",
		"Key of the Cosmos DB account of the cosmos data layer",
	)

	_ = cfg.BindEnv(chatCosmosDatabaseKey, chatCosmosDatabaseEnv)
	cmd.Flags().String(
		chatCosmosDatabaseKey,
		cfg.GetString(chatCosmosDatabaseKey),
		"Database of the cosmos data layer",
	)

	cfg.SetDefault(chatBlobStoreKey, chat.DefaultOptions.BlobStore)
	_ = cfg.BindEnv(chatBlobStoreKey, chatBlobStoreEnv)
	cmd.Flags().String(
		chatBlobStoreKey,
		cfg.GetString(chatBlobStoreKey),
		"Store of the content of the elements, one of fs or s3",
	)

	cfg.SetDefault(chatBlobDirKey, chat.DefaultOptions.BlobDir)
	_ = cfg.BindEnv(chatBlobDirKey, chatBlobDirEnv)
	cmd.Flags().String(
		chatBlobDirKey,
		cfg.GetString(chatBlobDirKey),
		"Directory of the fs blob store",
	)

	_ = cfg.BindEnv(chatBucketKey, chatBucketEnv)
	cmd.Flags().String(
		chatBucketKey,
		cfg.GetString(chatBucketKey),
		"Bucket of the s3 blob store",
	)

	_ = cfg.BindEnv(chatRegionKey, chatRegionEnv)
	cmd.Flags().String(
		chatRegionKey,
		cfg.GetString(chatRegionKey),
		"Region of the s3 blob store",
	)

	_ = cfg.BindEnv(chatS3EndpointKey, chatS3EndpointEnv)
	cmd.Flags().String(
		chatS3EndpointKey,
		cfg.GetString(chatS3EndpointKey),
		"Custom endpoint of the s3 blob store, e.g. a local S3 compatible server",
	)
}

// PopulateProjectFlags declares the flags configuring the access to the agent project.
func PopulateProjectFlags(cmd *cobra.Command, cfg *viper.Viper) {
	_ = cfg.BindEnv(chatProjectEndpointKey, chatProjectEndpointEnv)
	cmd.Flags().String(
		chatProjectEndpointKey,
		cfg.GetString(chatProjectEndpointKey),
		"Endpoint of the agent project",
	)

	_ = cfg.BindEnv(chatProjectAPIKeyKey, chatProjectAPIKeyEnv)
	cmd.Flags().String(
		chatProjectAPIKeyKey,
		"",
		"API key of the agent project, the default Azure credentials are used when empty",
	)

	_ = cfg.BindEnv(chatVerboseKey, chatVerboseEnv)
	cmd.Flags().Bool(
		chatVerboseKey,
		cfg.GetBool(chatVerboseKey),
		"Log the requests to the agent project",
	)
}

// PopulateEnvFileFlag declares the flag of the dotenv file.
func PopulateEnvFileFlag(cmd *cobra.Command, cfg *viper.Viper) {
	cfg.SetDefault(utils.EnvFileKey, utils.DefaultEnvFile)
	_ = cfg.BindEnv(utils.EnvFileKey, utils.EnvFileEnv)
	cmd.Flags().String(
		utils.EnvFileKey,
		cfg.GetString(utils.EnvFileKey),
		"Dotenv file loaded at start up, ignored if missing",
	)
}

func init() {
	PopulateEnvFileFlag(chatCmd, chatViper)

	chatViper.SetDefault(chatHostKey, chat.DefaultOptions.Host)
	_ = chatViper.BindEnv(chatHostKey, chatHostEnv)
	chatCmd.Flags().String(
		chatHostKey,
		chatViper.GetString(chatHostKey),
		"The interface to listen on",
	)

	chatViper.SetDefault(chatPortKey, chat.DefaultOptions.Port)
	_ = chatViper.BindEnv(chatPortKey, chatPortEnv)
	chatCmd.Flags().Uint(
		chatPortKey,
		chatViper.GetUint(chatPortKey),
		"The http port to listen on",
	)

	chatViper.SetDefault(chatAppNameKey, chat.DefaultOptions.AppName)
	_ = chatViper.BindEnv(chatAppNameKey, chatAppNameEnv)
	chatCmd.Flags().String(
		chatAppNameKey,
		chatViper.GetString(chatAppNameKey),
		"Name of the application",
	)

	chatViper.SetDefault(chatEnvKey, chat.DefaultOptions.Env)
	_ = chatViper.BindEnv(chatEnvKey, chatEnvEnv)
	chatCmd.Flags().String(
		chatEnvKey,
		chatViper.GetString(chatEnvKey),
		"Name of the deployment environment",
	)

	chatViper.SetDefault(chatSecretKey, chat.DefaultOptions.Secret)
	_ = chatViper.BindEnv(chatSecretKey, chatSecretEnv)
	chatCmd.Flags().String(
		chatSecretKey,
		chatViper.GetString(chatSecretKey),
		"Secret used to sign the session tokens",
	)

	_ = chatViper.BindEnv(chatUsersFileKey, chatUsersFileEnv)
	chatCmd.Flags().String(
		chatUsersFileKey,
		chatViper.GetString(chatUsersFileKey),
		"YAML file mapping the usernames to their password, only admin/admin is allowed when empty",
	)

	PopulateProjectFlags(chatCmd, chatViper)

	chatViper.SetDefault(chatDefaultAgentKey, chat.DefaultOptions.DefaultAgentName)
	_ = chatViper.BindEnv(chatDefaultAgentKey, chatDefaultAgentEnv)
	chatCmd.Flags().String(
		chatDefaultAgentKey,
		chatViper.GetString(chatDefaultAgentKey),
		"Name of the agent flagged as the default chat profile",
	)

	chatViper.SetDefault(chatProfilesLimitKey, chat.DefaultOptions.ProfilesLimit)
	_ = chatViper.BindEnv(chatProfilesLimitKey, chatProfilesLimitEnv)
	chatCmd.Flags().Int(
		chatProfilesLimitKey,
		chatViper.GetInt(chatProfilesLimitKey),
		"Maximum number of agents listed as chat profiles",
	)

	chatViper.SetDefault(chatProfilesTTLKey, chat.DefaultOptions.ProfilesTTL)
	_ = chatViper.BindEnv(chatProfilesTTLKey, chatProfilesTTLEnv)
	chatCmd.Flags().Duration(
		chatProfilesTTLKey,
		chatViper.GetDuration(chatProfilesTTLKey),
		"Duration the chat profiles are cached, 0 disables the cache",
	)

	PopulateDataLayerFlags(chatCmd, chatViper)

	chatViper.SetDefault(chatDownloadDirKey, chat.DefaultOptions.DownloadDir)
	_ = chatViper.BindEnv(chatDownloadDirKey, chatDownloadDirEnv)
	chatCmd.Flags().String(
		chatDownloadDirKey,
		chatViper.GetString(chatDownloadDirKey),
		"Directory where the generated charts are downloaded",
	)

	// Don't sort alphabetically, keep insertion order
	chatCmd.Flags().SortFlags = false

	// Bind "cobra" flags defined in the CLI with viper
	_ = chatViper.BindPFlags(chatCmd.Flags())
}
