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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	outputTextDeltaEvent   = "response.output_text.delta"
	responseCompletedEvent = "response.completed"
	responseFailedEvent    = "response.failed"
	errorEvent             = "error"
	doneData               = "[DONE]"
	maxEventSize           = 1024 * 1024
)

type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Message  string `json:"message"`
	Response *struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("agent response failed: %s", e.Message)
}

func (e *streamEvent) errorMessage() string {
	switch {
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	case e.Response != nil && e.Response.Error != nil && e.Response.Error.Message != "":
		return e.Response.Error.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Type
	}
}

var errStreamEnded = errors.New("stream ended")

// dispatch handles a single server sent event, errStreamEnded signals the end of the stream.
func dispatch(eventName string, data string, onDelta func(string) error) error {
	if data == "" {
		return nil
	}
	if data == doneData {
		return errStreamEnded
	}
	event := &streamEvent{}
	if err := json.Unmarshal([]byte(data), event); err != nil {
		return fmt.Errorf("unable to decode stream event %q: %w", eventName, err)
	}
	if event.Type == "" {
		event.Type = eventName
	}
	switch event.Type {
	case outputTextDeltaEvent:
		if event.Delta == "" {
			return nil
		}
		return onDelta(event.Delta)
	case responseCompletedEvent:
		return errStreamEnded
	case responseFailedEvent, errorEvent:
		return &StreamError{Message: event.errorMessage()}
	default:
		return nil
	}
}

// readEvents parses a server sent events stream.
func readEvents(r io.Reader, onDelta func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	eventName := ""
	dataLines := []string{}
	flush := func() error {
		err := dispatch(eventName, strings.Join(dataLines, "\n"), onDelta)
		eventName = ""
		dataLines = dataLines[:0]
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// Comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unable to read the response stream: %w", err)
	}
	return flush()
}

// StreamResponse runs the agent and forwards every non empty output text delta, in order.
func (c *Client) StreamResponse(ctx context.Context, req ResponseRequest, onDelta func(string) error) error {
	response, err := c.request(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(req.body(true)).
		SetDoNotParseResponse(true).
		Post("/openai/responses")
	if err != nil {
		return err
	}
	body := response.RawBody()
	defer body.Close()

	if !response.IsSuccess() {
		message, _ := io.ReadAll(io.LimitReader(body, 64*1024))
		apiErr := &APIError{StatusCode: response.StatusCode(), Message: strings.TrimSpace(string(message))}
		decoded := &errorBody{}
		if json.Unmarshal(message, decoded) == nil && decoded.Error.Message != "" {
			apiErr.Message = decoded.Error.Message
		}
		return apiErr
	}

	err = readEvents(body, onDelta)
	if errors.Is(err, errStreamEnded) {
		return nil
	}
	return err
}
