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

package foundry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "clients/foundry")

const (
	DefaultAPIVersion = "2025-11-15-preview"
	apiKeyHeader      = "api-key"
)

type Options struct {
	// Endpoint of the agent project, e.g. https://<resource>.services.ai.azure.com/api/projects/<project>
	Endpoint   string
	APIKey     string
	APIVersion string
	Verbose    bool
	// Tokens is only used when no API key is configured, defaults to the Azure default credential chain.
	Tokens TokenSource
}

type Client struct {
	rest *resty.Client
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is returned for any non successful answer of the agent project.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent project request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent project request failed with status %d: %s", e.StatusCode, e.Message)
}

func NewClient(options Options) (*Client, error) {
	if options.Endpoint == "" {
		return nil, fmt.Errorf("the agent project endpoint is not defined, set PROJECT_ENDPOINT")
	}
	apiVersion := options.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	rest := resty.New()
	rest.SetHostURL(strings.TrimRight(options.Endpoint, "/"))
	rest.SetQueryParam("api-version", apiVersion)
	rest.SetHeader("Accept", "application/json")
	rest.SetDebug(options.Verbose)
	rest.SetError(&errorBody{})

	if options.APIKey != "" {
		rest.SetHeader(apiKeyHeader, options.APIKey)
	} else {
		tokens := options.Tokens
		if tokens == nil {
			var err error
			tokens, err = NewAzureTokenSource(nil)
			if err != nil {
				return nil, err
			}
		}
		rest.OnBeforeRequest(func(_ *resty.Client, request *resty.Request) error {
			token, err := tokens.Token(request.Context())
			if err != nil {
				return fmt.Errorf("unable to retrieve an access token for the agent project: %w", err)
			}
			request.SetAuthToken(token)
			return nil
		})
	}

	return &Client{rest: rest}, nil
}

// Close releases the idle connections of the client.
func (c *Client) Close() {
	c.rest.GetClient().CloseIdleConnections()
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx)
}

func checkResponse(response *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if response.IsSuccess() {
		return nil
	}
	apiErr := &APIError{StatusCode: response.StatusCode()}
	if body, ok := response.Error().(*errorBody); ok && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
	} else if response.StatusCode() != http.StatusNotFound {
		apiErr.Message = strings.TrimSpace(string(response.Body()))
	}
	return apiErr
}
