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

package charts

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/agentchat/agentchat/clients/foundry"
)

var log = logrus.WithField("component", "charts")

const (
	DefaultDownloadDir = "./generated"
	elementNamePrefix  = "output"

	csvPrompt = "Please analyze the uploaded CSV and create a clear, useful chart. " +
		"Generate the chart and provide it as a downloadable file."
	noDataPrompt = "Please create a clear chart based on the information you have. " +
		"If you need data, you may generate a small synthetic dataset to demonstrate the chart, " +
		"and provide the chart as a downloadable file."
)

// Agent is the part of the agent project client used to draw charts.
type Agent interface {
	CreateConversation(ctx context.Context, firstUserMessage string) (string, error)
	UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (string, error)
	CreateResponse(ctx context.Context, req foundry.ResponseRequest) (*foundry.Response, error)
	DownloadContainerFile(ctx context.Context, containerID string, fileID string) (io.ReadCloser, error)
}

type Request struct {
	ConversationID string
	AgentName      string
	UserText       string
	// CSV is optional, without it the agent is free to work on synthetic data.
	CSV         io.Reader
	CSVFilename string
}

type Result struct {
	ConversationID string `json:"conversation_id"`
	// LocalPath is empty when the agent didn't generate any file.
	LocalPath string `json:"local_path,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Text      string `json:"text"`
}

type Drawer struct {
	fs          afero.Fs
	downloadDir string
}

func NewDrawer(fs afero.Fs, downloadDir string) *Drawer {
	if downloadDir == "" {
		downloadDir = DefaultDownloadDir
	}
	return &Drawer{fs: fs, downloadDir: downloadDir}
}

func prompt(userText string, withCSV bool) string {
	text := strings.TrimSpace(userText)
	if text != "" {
		return text
	}
	if withCSV {
		return csvPrompt
	}
	return noDataPrompt
}

// localName is the base name of a generated file, or a random one when it has none.
func localName(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	if !strings.HasSuffix(filename, "/") {
		base := path.Base(filename)
		if base != "." && base != "/" && base != ".." {
			return base
		}
	}
	return fmt.Sprintf("chart_%s.bin", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ElementName is the name under which a generated file is shown in the chat.
func ElementName(filename string) string {
	return elementNamePrefix + filepath.Ext(filename)
}

func (d *Drawer) Run(ctx context.Context, agent Agent, request Request) (*Result, error) {
	log := log.WithField("agent", request.AgentName)

	if err := d.fs.MkdirAll(d.downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create the download directory %q: %w", d.downloadDir, err)
	}

	conversationID := request.ConversationID
	if conversationID == "" {
		var err error
		conversationID, err = agent.CreateConversation(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	responseRequest := foundry.ResponseRequest{
		ConversationID: conversationID,
		AgentName:      request.AgentName,
	}
	if request.CSV != nil {
		filename := request.CSVFilename
		if filename == "" {
			filename = "data.csv"
		}
		fileID, err := agent.UploadFile(ctx, filename, request.CSV, foundry.AssistantsPurpose)
		if err != nil {
			return nil, err
		}
		log.WithField("file", fileID).Info("CSV uploaded for the code interpreter")
		responseRequest.Tools = []foundry.Tool{foundry.CodeInterpreterTool(fileID)}
	}

	responseRequest.Input = prompt(request.UserText, request.CSV != nil)
	log.WithField("prompt", responseRequest.Input).Debug("requesting a chart")

	response, err := agent.CreateResponse(ctx, responseRequest)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ConversationID: conversationID,
		Text:           response.OutputText(),
	}

	citation := response.LatestContainerFileCitation()
	if citation == nil {
		log.Debug("no generated file in the response")
		return result, nil
	}

	result.Filename = localName(citation.Filename)
	result.LocalPath = filepath.Join(d.downloadDir, result.Filename)
	if err := d.download(ctx, agent, citation, result.LocalPath); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"file": citation.FileID, "path": result.LocalPath}).Info("chart downloaded")
	return result, nil
}

func (d *Drawer) download(ctx context.Context, agent Agent, citation *foundry.Annotation, localPath string) error {
	content, err := agent.DownloadContainerFile(ctx, citation.ContainerID, citation.FileID)
	if err != nil {
		return err
	}
	defer content.Close()

	file, err := d.fs.Create(localPath)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", localPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		return fmt.Errorf("unable to write %q: %w", localPath, err)
	}
	return nil
}

// Open gives access to a file previously downloaded by the drawer.
func (d *Drawer) Open(localPath string) (afero.File, error) {
	return d.fs.Open(localPath)
}
