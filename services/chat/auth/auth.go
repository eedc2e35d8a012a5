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

package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("component", "auth")

var DefaultUsers = map[string]string{"admin": "admin"}

type User struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
}

// PasswordAuthenticator checks credentials against a static username -> password table.
type PasswordAuthenticator struct {
	users map[string]string
}

func NewPasswordAuthenticator(users map[string]string) *PasswordAuthenticator {
	if len(users) == 0 {
		users = DefaultUsers
	}
	normalized := make(map[string]string, len(users))
	for username, password := range users {
		normalized[normalizeUsername(username)] = strings.TrimSpace(password)
	}
	return &PasswordAuthenticator{users: normalized}
}

// LoadUsers reads a YAML document mapping usernames to passwords.
func LoadUsers(fs afero.Fs, path string) (map[string]string, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("unable to read users file %q: %w", path, err)
	}
	users := map[string]string{}
	if err := yaml.UnmarshalStrict(content, &users); err != nil {
		return nil, fmt.Errorf("invalid users file %q: %w", path, err)
	}
	log.WithField("path", path).Debugf("%d users loaded", len(users))
	return users, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Authenticate returns nil when the credentials don't match a configured user.
func (a *PasswordAuthenticator) Authenticate(username string, password string) *User {
	username = normalizeUsername(username)
	password = strings.TrimSpace(password)

	expected, ok := a.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		log.Warnf("Authentication failed for user '%s'.", username)
		return nil
	}

	log.Infof("User '%s' authenticated.", username)
	return &User{Identifier: username, DisplayName: DisplayName(username)}
}

// DisplayName is the title cased local part of an email like identifier, or the title cased identifier.
func DisplayName(identifier string) string {
	if at := strings.Index(identifier, "@"); at >= 0 {
		return titleCase(identifier[:at])
	}
	return titleCase(identifier)
}

// titleCase upper cases letters following a non letter and lower cases the others.
func titleCase(s string) string {
	b := strings.Builder{}
	b.Grow(len(s))
	previousIsLetter := false
	for _, r := range s {
		isLetter := unicode.IsLetter(r)
		if isLetter && !previousIsLetter {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		previousIsLetter = isLetter
	}
	return b.String()
}
