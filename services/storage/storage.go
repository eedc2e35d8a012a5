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

package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// BlobStore keeps the binary content of the chat elements.
type BlobStore interface {
	Kind() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type UnknownBlobError struct {
	Key string
}

func (e *UnknownBlobError) Error() string {
	return fmt.Sprintf("no blob %q found", e.Key)
}

type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid blob key %q", e.Key)
}

// CleanKey normalizes a blob key, keys escaping the store root are rejected.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", &InvalidKeyError{Key: key}
	}
	for _, segment := range strings.Split(strings.ReplaceAll(key, "\\", "/"), "/") {
		if segment == ".." {
			return "", &InvalidKeyError{Key: key}
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if cleaned == "" {
		return "", &InvalidKeyError{Key: key}
	}
	return cleaned, nil
}

// ElementKey is the key under which the content of a thread element is stored.
func ElementKey(threadID string, elementID string, name string) string {
	return path.Join(threadID, elementID, path.Base(strings.ReplaceAll(name, "\\", "/")))
}
