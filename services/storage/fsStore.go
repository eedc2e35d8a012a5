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
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

type fsStore struct {
	fs   afero.Fs
	root string
}

// NewFsStore stores blobs as files under the given directory.
func NewFsStore(fs afero.Fs, root string) (BlobStore, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("unable to create blob directory %q: %w", root, err)
	}
	return &fsStore{fs: afero.NewBasePathFs(fs, root), root: root}, nil
}

func (s *fsStore) Kind() string {
	return "fs"
}

func (s *fsStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0755); err != nil {
		return fmt.Errorf("unable to create the directory of blob %q: %w", key, err)
	}
	f, err := s.fs.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("unable to create blob %q: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("unable to write blob %q: %w", key, err)
	}
	return nil
}

func (s *fsStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &UnknownBlobError{Key: key}
		}
		return nil, fmt.Errorf("unable to open blob %q: %w", key, err)
	}
	return f, nil
}

func (s *fsStore) Delete(_ context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = s.fs.Remove(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &UnknownBlobError{Key: key}
		}
		return fmt.Errorf("unable to delete blob %q: %w", key, err)
	}
	return nil
}
