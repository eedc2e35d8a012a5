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
	"bytes"
	"context"
	"io"
	"net/url"
)

const AssistantsPurpose = "assistants"

type uploadedFile struct {
	ID string `json:"id"`
}

// UploadFile uploads a file usable by the agent tools and returns its id.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (string, error) {
	if purpose == "" {
		purpose = AssistantsPurpose
	}
	result := &uploadedFile{}
	err := checkResponse(c.request(ctx).
		SetFileReader("file", filename, r).
		SetFormData(map[string]string{"purpose": purpose}).
		SetResult(result).
		Post("/openai/files"))
	if err != nil {
		return "", err
	}
	log.WithField("file", result.ID).Info("file uploaded")
	return result.ID, nil
}

// DownloadContainerFile retrieves the content of a file generated in a code interpreter container.
func (c *Client) DownloadContainerFile(ctx context.Context, containerID string, fileID string) (io.ReadCloser, error) {
	response, err := c.request(ctx).
		SetHeader("Accept", "application/octet-stream").
		Get("/openai/containers/" + url.PathEscape(containerID) + "/files/" + url.PathEscape(fileID) + "/content")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(response.Body())), nil
}
