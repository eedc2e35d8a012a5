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
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	TokenScope         = "https://ai.azure.com/.default"
	tokenRefreshMargin = 2 * time.Minute
)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type azureTokenSource struct {
	credential azcore.TokenCredential
	now        func() time.Time

	lock  sync.Mutex
	token azcore.AccessToken
}

// NewAzureTokenSource caches the tokens of the given credential, nil uses the default Azure credential chain.
func NewAzureTokenSource(credential azcore.TokenCredential) (TokenSource, error) {
	if credential == nil {
		defaultCredential, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("unable to create the default azure credential: %w", err)
		}
		credential = defaultCredential
	}
	return &azureTokenSource{credential: credential, now: time.Now}, nil
}

func (s *azureTokenSource) Token(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.token.Token != "" && s.now().Add(tokenRefreshMargin).Before(s.token.ExpiresOn) {
		return s.token.Token, nil
	}

	token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{TokenScope}})
	if err != nil {
		return "", err
	}
	log.WithField("expires_on", token.ExpiresOn).Debug("access token refreshed")
	s.token = token
	return token.Token, nil
}
