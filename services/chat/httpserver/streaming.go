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

package httpserver

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/services/chat/session"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/storage"
	"github.com/agentchat/agentchat/utils"
)

const (
	messageEvent = "message"
	tokenEvent   = "token"
	doneEvent    = "done"

	maxMultipartMemory = 32 << 20
)

type tokenPayload struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// sseSink forwards the messages of a chat session as server sent events.
type sseSink struct {
	c    *gin.Context
	lock sync.Mutex
}

func (sink *sseSink) event(name string, data interface{}) error {
	sink.lock.Lock()
	defer sink.lock.Unlock()

	if err := sink.c.Request.Context().Err(); err != nil {
		return err
	}
	sink.c.SSEvent(name, data)
	sink.c.Writer.Flush()
	return nil
}

func (sink *sseSink) Send(message *session.OutputMessage) error {
	withMessageURLs(message)
	return sink.event(messageEvent, message)
}

func (sink *sseSink) StreamToken(message *session.OutputMessage, token string) error {
	return sink.event(tokenEvent, tokenPayload{ID: message.ID, Token: token})
}

func (sink *sseSink) Update(message *session.OutputMessage) error {
	withMessageURLs(message)
	return sink.event(messageEvent, message)
}

func withMessageURLs(message *session.OutputMessage) {
	if message != nil {
		message.Elements = withURLs(message.Elements)
	}
}

type messageBody struct {
	Content string `json:"content"`
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

func formFile(header *multipart.FileHeader) (session.File, error) {
	file, err := header.Open()
	if err != nil {
		return session.File{}, errors.Annotatef(err, "unable to open uploaded file [%s]", header.Filename)
	}
	log.WithFields(logrus.Fields{
		"file": header.Filename,
		"size": utils.FormatBytes(header.Size),
	}).Debug("file received")
	return session.File{
		Name:    header.Filename,
		Mime:    header.Header.Get("Content-Type"),
		Size:    header.Size,
		Content: file,
	}, nil
}

// readMessage reads a message either from a JSON body or from a multipart form.
func readMessage(c *gin.Context) (session.Message, error) {
	if !isMultipart(c) {
		body := messageBody{}
		if err := c.ShouldBindJSON(&body); err != nil {
			return session.Message{}, wrapError(http.StatusBadRequest, err)
		}
		return session.Message{Content: body.Content}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return session.Message{}, wrapError(http.StatusBadRequest, err)
	}
	message := session.Message{}
	if values := form.Value["content"]; len(values) > 0 {
		message.Content = values[0]
	}
	for _, header := range form.File["files"] {
		file, err := formFile(header)
		if err != nil {
			message.Close()
			return session.Message{}, wrapError(http.StatusBadRequest, err)
		}
		message.Files = append(message.Files, file)
	}
	return message, nil
}

func (server *Server) postMessage(c *gin.Context) {
	chatSession, err := server.userSession(c, c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	message, err := readMessage(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if c.Request.MultipartForm != nil {
		defer func() { _ = c.Request.MultipartForm.RemoveAll() }()
	}
	defer message.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	sink := &sseSink{c: c}
	answer := chatSession.HandleMessage(c.Request.Context(), message, sink)
	withMessageURLs(answer)
	_ = sink.event(doneEvent, answer)
}

func (server *Server) drawChart(c *gin.Context) {
	chatSession, err := server.userSession(c, c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		abortWithError(c, wrapError(http.StatusBadRequest, err))
		return
	}
	defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

	request := session.ChartRequest{Content: c.Request.FormValue("content")}
	if headers := c.Request.MultipartForm.File["file"]; len(headers) > 0 {
		file, err := formFile(headers[0])
		if err != nil {
			abortWithError(c, wrapError(http.StatusBadRequest, err))
			return
		}
		defer func() { _ = file.Close() }()
		request.File = &file
	}

	output, err := chatSession.DrawChart(c.Request.Context(), request)
	if err != nil {
		var noAgentErr *session.NoAgentError
		var sessionErr *session.SessionNotFoundError
		switch {
		case errors.As(err, &noAgentErr):
			abortWithError(c, wrapError(http.StatusBadRequest, err))
		case errors.As(err, &sessionErr):
			abortWithError(c, wrapError(http.StatusNotFound, err))
		default:
			abortWithError(c, wrapError(http.StatusBadGateway, err))
		}
		return
	}
	withMessageURLs(output.Message)
	c.JSON(http.StatusOK, output)
}

func (server *Server) getElementContent(c *gin.Context) {
	threadID := c.Param("thread_id")
	dl, err := server.checkThreadAuthor(c, threadID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	element, content, err := dl.GetElementContent(c.Request.Context(), threadID, c.Param("element_id"))
	if err != nil {
		var blobErr *storage.UnknownBlobError
		if backend.IsNotFound(err) || errors.As(err, &blobErr) {
			abortWithError(c, wrapError(http.StatusNotFound, err))
			return
		}
		abortWithError(c, wrapError(http.StatusInternalServerError, err))
		return
	}
	defer content.Close()

	contentType := element.Mime
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, element.Size, contentType, content, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", element.Name),
	})
}
