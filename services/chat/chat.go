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

package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/chat/httpserver"
	"github.com/agentchat/agentchat/services/chat/profiles"
	"github.com/agentchat/agentchat/services/chat/session"
	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/datalayer/backend/bolt"
	"github.com/agentchat/agentchat/services/datalayer/backend/cosmos"
	"github.com/agentchat/agentchat/services/datalayer/backend/memory"
	"github.com/agentchat/agentchat/services/datalayer/backend/sql"
	"github.com/agentchat/agentchat/services/storage"
)

var log = logrus.WithField("component", "chat")

const (
	NoDataLayer     = "none"
	MemoryDataLayer = "memory"
	BoltDataLayer   = "bolt"
	SQLDataLayer    = "sql"
	CosmosDataLayer = "cosmos"

	FsBlobStore = "fs"
	S3BlobStore = "s3"
)

var DataLayers = []string{NoDataLayer, MemoryDataLayer, BoltDataLayer, SQLDataLayer, CosmosDataLayer}
var BlobStores = []string{FsBlobStore, S3BlobStore}

type Options struct {
	Host    string
	Port    uint
	AppName string
	Env     string
	Secret  string
	Users   map[string]string

	ProjectEndpoint  string
	ProjectAPIKey    string
	DefaultAgentName string
	ProfilesLimit    int
	ProfilesTTL      time.Duration
	Verbose          bool

	DataLayer      string
	BoltFile       string
	SQLiteFile     string
	CosmosEndpoint string
	CosmosKey      string
	CosmosDatabase string

	BlobStore   string
	BlobDir     string
	Bucket      string
	Region      string
	S3Endpoint  string
	DownloadDir string
}

var DefaultOptions = Options{
	Host:             "0.0.0.0",
	Port:             8000,
	AppName:          "agentchat",
	Env:              "local",
	Secret:           "agentchat_secret",
	Users:            auth.DefaultUsers,
	ProjectEndpoint:  "",
	ProjectAPIKey:    "",
	DefaultAgentName: "agent-km",
	ProfilesLimit:    profiles.DefaultLimit,
	ProfilesTTL:      profiles.DefaultTTL,
	Verbose:          false,
	DataLayer:        BoltDataLayer,
	BoltFile:         "agentchat.db",
	SQLiteFile:       "agentchat.sqlite",
	BlobStore:        FsBlobStore,
	BlobDir:          "./files",
	DownloadDir:      charts.DefaultDownloadDir,
}

func createBackend(ctx context.Context, options Options) (backend.Backend, error) {
	switch options.DataLayer {
	case MemoryDataLayer:
		return memory.CreateBackend()
	case BoltDataLayer:
		return bolt.CreateBoltBackend(options.BoltFile)
	case SQLDataLayer:
		return sql.CreateBackend(options.SQLiteFile)
	case CosmosDataLayer:
		return cosmos.CreateBackend(ctx, cosmos.Options{
			Endpoint: options.CosmosEndpoint,
			Key:      options.CosmosKey,
			Database: options.CosmosDatabase,
		})
	default:
		return nil, fmt.Errorf("unknown data layer %q, expecting one of %v", options.DataLayer, DataLayers)
	}
}

func CreateBlobStore(ctx context.Context, options Options) (storage.BlobStore, error) {
	switch options.BlobStore {
	case FsBlobStore:
		return storage.NewFsStore(afero.NewOsFs(), options.BlobDir)
	case S3BlobStore:
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:   options.Bucket,
			Region:   options.Region,
			Endpoint: options.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown blob store %q, expecting one of %v", options.BlobStore, BlobStores)
	}
}

// CreateDataLayer returns nil, without error, when persistence is disabled.
func CreateDataLayer(ctx context.Context, options Options) (*datalayer.DataLayer, error) {
	if options.DataLayer == NoDataLayer || options.DataLayer == "" {
		return nil, nil
	}
	b, err := createBackend(ctx, options)
	if err != nil {
		return nil, err
	}
	blobs, err := CreateBlobStore(ctx, options)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return datalayer.New(b, blobs), nil
}

// clientFactory builds the agent project clients. An incomplete configuration doesn't prevent the
// service from starting, the error is returned when a client is needed.
func clientFactory(options Options) func() (*foundry.Client, error) {
	clientOptions := foundry.Options{
		Endpoint: options.ProjectEndpoint,
		APIKey:   options.ProjectAPIKey,
		Verbose:  options.Verbose,
	}
	if clientOptions.Endpoint == "" {
		log.Warn("The agent project endpoint is not defined, set PROJECT_ENDPOINT to chat with the agents")
	}
	var tokensErr error
	if clientOptions.APIKey == "" {
		clientOptions.Tokens, tokensErr = foundry.NewAzureTokenSource(nil)
		if tokensErr != nil {
			log.WithError(tokensErr).Warn("Unable to retrieve the Azure credentials of the agent project")
		}
	}
	return func() (*foundry.Client, error) {
		if tokensErr != nil {
			return nil, tokensErr
		}
		return foundry.NewClient(clientOptions)
	}
}

// agentLister creates the client listing the agents on first use.
type agentLister struct {
	newClient func() (*foundry.Client, error)

	lock   sync.Mutex
	client *foundry.Client
}

func (l *agentLister) ListAgents(ctx context.Context, limit int) ([]*foundry.Agent, error) {
	l.lock.Lock()
	if l.client == nil {
		client, err := l.newClient()
		if err != nil {
			l.lock.Unlock()
			return nil, err
		}
		l.client = client
	}
	client := l.client
	l.lock.Unlock()
	return client.ListAgents(ctx, limit)
}

func (l *agentLister) Close() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}

func Run(ctx context.Context, options Options) error {
	if options.Port == 0 || options.Port > 65535 {
		return fmt.Errorf("invalid port %d", options.Port)
	}

	// Build the data layer, the chat keeps running without persistence if it fails
	dl, err := CreateDataLayer(ctx, options)
	if err != nil {
		log.WithError(err).Error("Failed to initialize the data layer")
		dl = nil
	}
	if dl == nil {
		log.Warn("Chat history is not persisted")
	} else {
		log.WithField("data_layer", dl.BuildDebugURL()).Info("data layer initialized")
	}

	// Build the agent project clients
	newClient := clientFactory(options)
	agents := &agentLister{newClient: newClient}
	defer agents.Close()

	profilesProvider, err := profiles.NewProvider(agents, options.ProfilesLimit, options.ProfilesTTL)
	if err != nil {
		return err
	}
	profilesProvider.DefaultName = options.DefaultAgentName

	// Build the session manager
	sessionManager, err := session.NewManager(session.Options{
		DataLayer: dl,
		NewAgentClient: func() (session.AgentClient, error) {
			return newClient()
		},
		Drawer: charts.NewDrawer(afero.NewOsFs(), options.DownloadDir),
	})
	if err != nil {
		return err
	}

	// Build the http server
	httpServer, err := httpserver.New(httpserver.Options{
		Host:          options.Host,
		Port:          options.Port,
		AppName:       options.AppName,
		Secret:        options.Secret,
		Authenticator: auth.NewPasswordAuthenticator(options.Users),
		Profiles:      profilesProvider,
		Sessions:      sessionManager,
		DataLayer:     dl,
	})
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	// Start the http server
	group.Go(func() error {
		log.WithFields(logrus.Fields{
			"host": options.Host,
			"port": options.Port,
			"env":  options.Env,
		}).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("unexpected error while serving http routes: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("Gracefully stopping")

		stopGroup, stopCtx := errgroup.WithContext(context.Background())
		stopGroup.Go(func() error {
			log.Debug("Stopping the http server")
			stopCtx, cancel := context.WithTimeout(stopCtx, 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(stopCtx)
		})

		stopGroup.Go(func() error {
			log.Debug("Destroying the session manager")
			stopCtx, cancel := context.WithTimeout(stopCtx, 5*time.Second)
			defer cancel()
			sessionManager.Destroy(stopCtx)
			return nil
		})

		err := stopGroup.Wait()
		if err != nil {
			log.WithField("error", err).Warning("Error while stopping")
		}

		if dl != nil {
			log.Debug("Closing the data layer")
			dl.Close()
		}
		return ctx.Err()
	})

	return group.Wait()
}

// GenerateOpenAPISpec writes the open api specification of the http api to the given file.
func GenerateOpenAPISpec(fs afero.Fs, output string) error {
	httpServer, err := httpserver.New(httpserver.Options{AppName: DefaultOptions.AppName})
	if err != nil {
		return err
	}

	file, err := fs.Create(output)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", output, err)
	}
	defer file.Close()

	if err := httpServer.WriteOpenAPISpec(file); err != nil {
		return err
	}
	log.WithField("output", output).Info("open api specification generated")
	return nil
}
