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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/chat/profiles"
	"github.com/agentchat/agentchat/services/chat/session"
	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/datalayer/backend/memory"
	"github.com/agentchat/agentchat/services/storage"
)

const testSecret = "not so secret"

type fakeAgentClient struct {
	lock   sync.Mutex
	inputs []string
	deltas []string
}

func (c *fakeAgentClient) CreateConversation(_ context.Context, first string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.inputs = append(c.inputs, first)
	return "conv_1", nil
}

func (c *fakeAgentClient) AddUserMessage(_ context.Context, _ string, text string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.inputs = append(c.inputs, text)
	return nil
}

func (c *fakeAgentClient) StreamResponse(_ context.Context, _ foundry.ResponseRequest, onDelta func(string) error) error {
	for _, delta := range c.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeAgentClient) UploadFile(_ context.Context, _ string, r io.Reader, _ string) (string, error) {
	_, err := ioutil.ReadAll(r)
	return "file_1", err
}

func (c *fakeAgentClient) CreateResponse(_ context.Context, _ foundry.ResponseRequest) (*foundry.Response, error) {
	return &foundry.Response{}, nil
}

func (c *fakeAgentClient) DownloadContainerFile(_ context.Context, _ string, _ string) (io.ReadCloser, error) {
	return ioutil.NopCloser(strings.NewReader("PNG DATA")), nil
}

func (c *fakeAgentClient) Close() {}

type fakeProfiles struct {
	profiles []profiles.ChatProfile
	err      error
}

func (p *fakeProfiles) List(context.Context) ([]profiles.ChatProfile, error) {
	return p.profiles, p.err
}

func (p *fakeProfiles) ListLimited(_ context.Context, limit int) ([]profiles.ChatProfile, error) {
	if limit > 0 && limit < len(p.profiles) {
		return p.profiles[:limit], p.err
	}
	return p.profiles, p.err
}

func (p *fakeProfiles) Has(ctx context.Context, name string) (bool, error) {
	for _, profile := range p.profiles {
		if profile.Name == name {
			return true, nil
		}
	}
	return false, p.err
}

type testServer struct {
	server *Server
	client *fakeAgentClient
}

func createServer(t *testing.T, withDataLayer bool) *testServer {
	client := &fakeAgentClient{deltas: []string{"Hel", "lo"}}

	var dl *datalayer.DataLayer
	if withDataLayer {
		b, err := memory.CreateBackend()
		require.NoError(t, err)
		blobs, err := storage.NewFsStore(afero.NewMemMapFs(), "/files")
		require.NoError(t, err)
		dl = datalayer.New(b, blobs)
	}

	manager, err := session.NewManager(session.Options{
		DataLayer:      dl,
		NewAgentClient: func() (session.AgentClient, error) { return client, nil },
		Drawer:         charts.NewDrawer(afero.NewMemMapFs(), "/generated"),
	})
	require.NoError(t, err)

	server, err := New(Options{
		Host:          "localhost",
		Port:          8000,
		AppName:       "Agent Chat",
		Secret:        testSecret,
		Authenticator: auth.NewPasswordAuthenticator(map[string]string{"admin": "admin", "bob": "bob"}),
		Profiles: &fakeProfiles{profiles: []profiles.ChatProfile{
			{Name: "agent-km", MarkdownDescription: "**Agent:** agent-km"},
		}},
		Sessions:  manager,
		DataLayer: dl,
	})
	require.NoError(t, err)

	return &testServer{server: server, client: client}
}

func token(t *testing.T, identifier string) string {
	token, err := MakeAndSerializeToken(auth.User{Identifier: identifier, DisplayName: auth.DisplayName(identifier)}, testSecret)
	require.NoError(t, err)
	return token
}

func recordResponse(
	t *testing.T,
	handler http.Handler,
	method string,
	route string,
	identifier string,
	contentType string,
	body io.Reader,
) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, route, body)
	require.NoError(t, err)
	if identifier != "" {
		req.Header.Set(authorizationHeaderKey, bearerPrefix+token(t, identifier))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func recordJSON(t *testing.T, handler http.Handler, method string, route string, identifier string, payload interface{}) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return recordResponse(t, handler, method, route, identifier, "application/json", body)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, value interface{}) {
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), value))
}

func startChat(t *testing.T, handler http.Handler, identifier string, chatProfile string) startChatResponse {
	rr := recordJSON(t, handler, "POST", "/chats", identifier, startChatRequest{ChatProfile: chatProfile})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := startChatResponse{}
	decode(t, rr, &res)
	return res
}

func TestGetInfo(t *testing.T) {
	ts := createServer(t, true)

	rr := recordResponse(t, ts.server.Handler, "GET", "/", "", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	res := map[string]string{}
	decode(t, rr, &res)
	assert.Equal(t, "This is Agent Chat", res["message"])
	assert.Contains(t, res["data_layer"], "Memory")
}

func TestGetOpenAPISpec(t *testing.T) {
	ts := createServer(t, false)

	rr := recordResponse(t, ts.server.Handler, "GET", "/openapi.json", "", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/threads/{thread_id}")

	buffer := &bytes.Buffer{}
	assert.NoError(t, ts.server.WriteOpenAPISpec(buffer))
	assert.Contains(t, buffer.String(), "\"title\": \"agentchat\"")
}

func TestNotFound(t *testing.T) {
	ts := createServer(t, false)

	rr := recordResponse(t, ts.server.Handler, "GET", "/unknown", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, `{"message":"not found"}`, rr.Body.String())
}

func TestLogin(t *testing.T) {
	ts := createServer(t, true)

	rr := recordJSON(t, ts.server.Handler, "POST", "/auth/login", "", loginRequest{Username: "Admin", Password: "admin"})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := loginResponse{}
	decode(t, rr, &res)
	assert.Equal(t, "admin", res.Identifier)
	assert.Equal(t, "Admin", res.DisplayName)

	claims, err := ParseAndVerifyToken(res.Token, testSecret)
	assert.NoError(t, err)
	assert.Equal(t, "admin", claims.Identifier)

	user, err := ts.server.options.DataLayer.GetUser(context.Background(), "admin")
	assert.NoError(t, err)
	assert.NotNil(t, user)
}

func TestLoginInvalidCredentials(t *testing.T) {
	ts := createServer(t, true)

	rr := recordJSON(t, ts.server.Handler, "POST", "/auth/login", "", loginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `{"message":"Invalid credentials"}`, rr.Body.String())

	rr = recordJSON(t, ts.server.Handler, "POST", "/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequiresToken(t *testing.T) {
	ts := createServer(t, true)

	rr := recordResponse(t, ts.server.Handler, "GET", "/profiles", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `{"message":"Missing session token in header [Authorization]"}`, rr.Body.String())

	req, err := http.NewRequest("GET", "/threads", nil)
	require.NoError(t, err)
	req.Header.Set(authorizationHeaderKey, bearerPrefix+"garbage")
	rr = httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListProfiles(t *testing.T) {
	ts := createServer(t, false)

	rr := recordResponse(t, ts.server.Handler, "GET", "/profiles", "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `[{"name":"agent-km","markdown_description":"**Agent:** agent-km"}]`, rr.Body.String())

	ts.server.options.Profiles = &fakeProfiles{profiles: []profiles.ChatProfile{
		{Name: "agent-km", MarkdownDescription: "km"},
		{Name: "agent-charts", MarkdownDescription: "charts"},
	}}
	rr = recordResponse(t, ts.server.Handler, "GET", "/profiles?limit=1", "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `[{"name":"agent-km","markdown_description":"km"}]`, rr.Body.String())

	rr = recordResponse(t, ts.server.Handler, "GET", "/profiles?limit=-1", "admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	ts.server.options.Profiles = &fakeProfiles{err: fmt.Errorf("unreachable")}
	rr = recordResponse(t, ts.server.Handler, "GET", "/profiles", "admin", "", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, `{"message":"unreachable"}`, rr.Body.String())
}

func TestStartChat(t *testing.T) {
	ts := createServer(t, false)

	res := startChat(t, ts.server.Handler, "admin", "agent-km")
	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.ThreadID)
	assert.Equal(t, "agent-km", res.AgentName)
	if assert.Len(t, res.Messages, 2) {
		assert.Equal(t, "Hello admin", res.Messages[0].Content)
		assert.Equal(t, "Starting chat using **agent-km**", res.Messages[1].Content)
	}

	res = startChat(t, ts.server.Handler, "admin", "")
	if assert.Len(t, res.Messages, 2) {
		assert.Equal(t, "No agent selected.", res.Messages[1].Content)
	}

	rr := recordJSON(t, ts.server.Handler, "POST", "/chats", "admin", startChatRequest{ChatProfile: "unknown"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, `{"message":"Unknown chat profile [unknown]"}`, rr.Body.String())
}

func TestPostMessage(t *testing.T) {
	ts := createServer(t, true)
	chat := startChat(t, ts.server.Handler, "admin", "agent-km")
	route := fmt.Sprintf("/chats/%s/messages", chat.SessionID)

	rr := recordJSON(t, ts.server.Handler, "POST", route, "admin", messageBody{Content: "Hi there"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "event:message")
	assert.Contains(t, body, "event:token")
	assert.Contains(t, body, `"token":"Hel"`)
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Equal(t, []string{"Hi there"}, ts.client.inputs)

	// Sessions are private
	rr = recordJSON(t, ts.server.Handler, "POST", route, "bob", messageBody{Content: "Hi there"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = recordJSON(t, ts.server.Handler, "POST", "/chats/unknown/messages", "admin", messageBody{Content: "Hi"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, `{"message":"Chat session [unknown] not found"}`, rr.Body.String())
}

func TestPostMessageWithFiles(t *testing.T) {
	ts := createServer(t, true)
	chat := startChat(t, ts.server.Handler, "admin", "agent-km")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("content", "Plot this"))
	part, err := writer.CreateFormFile("files", "data.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("region,sales\nnorth,10\nsouth,20\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rr := recordResponse(
		t, ts.server.Handler, "POST", fmt.Sprintf("/chats/%s/messages", chat.SessionID), "admin",
		writer.FormDataContentType(), body,
	)
	assert.Equal(t, http.StatusOK, rr.Code)
	if assert.Len(t, ts.client.inputs, 1) {
		assert.True(t, strings.HasPrefix(ts.client.inputs[0], "Plot this\n\n"))
		assert.Contains(t, ts.client.inputs[0], "data.csv")
	}

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/"+chat.ThreadID, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	thread := datalayer.ThreadDetails{}
	decode(t, rr, &thread)
	require.Len(t, thread.Elements, 1)
	assert.Equal(t, "data.csv", thread.Elements[0].Name)
	assert.Equal(t, fmt.Sprintf("/threads/%s/elements/%s", chat.ThreadID, thread.Elements[0].ID), thread.Elements[0].URL)

	rr = recordResponse(t, ts.server.Handler, "GET", thread.Elements[0].URL, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "region,sales\nnorth,10\nsouth,20\n", rr.Body.String())

	rr = recordResponse(t, ts.server.Handler, "GET", thread.Elements[0].URL, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/"+chat.ThreadID+"/elements/unknown", "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDrawChartWithoutAgent(t *testing.T) {
	ts := createServer(t, false)
	chat := startChat(t, ts.server.Handler, "admin", "")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("content", "A pie chart"))
	require.NoError(t, writer.Close())

	rr := recordResponse(
		t, ts.server.Handler, "POST", fmt.Sprintf("/chats/%s/charts", chat.SessionID), "admin",
		writer.FormDataContentType(), body,
	)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEndChat(t *testing.T) {
	ts := createServer(t, false)
	chat := startChat(t, ts.server.Handler, "admin", "agent-km")
	route := "/chats/" + chat.SessionID

	rr := recordResponse(t, ts.server.Handler, "DELETE", route, "bob", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "DELETE", route, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, fmt.Sprintf(`{"message":"Chat session [%s] ended"}`, chat.SessionID), rr.Body.String())
	assert.Equal(t, 0, ts.server.options.Sessions.Count())

	rr = recordResponse(t, ts.server.Handler, "DELETE", route, "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestThreads(t *testing.T) {
	ts := createServer(t, true)
	chat := startChat(t, ts.server.Handler, "admin", "agent-km")
	rr := recordJSON(t, ts.server.Handler, "POST", fmt.Sprintf("/chats/%s/messages", chat.SessionID), "admin", messageBody{Content: "Sales by region"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads?first=10", "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	page := datalayer.PaginatedThreads{}
	decode(t, rr, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, chat.ThreadID, page.Data[0].ID)
	assert.Equal(t, "Sales by region", page.Data[0].Name)
	assert.False(t, page.PageInfo.HasNextPage)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads?search=weather", "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"data":[],"pageInfo":{"hasNextPage":false}}`, rr.Body.String())

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads?cursor=abc", "admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads", "bob", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"data":[],"pageInfo":{"hasNextPage":false}}`, rr.Body.String())

	// The greeting messages are persisted with the first user message
	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/"+chat.ThreadID, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	thread := datalayer.ThreadDetails{}
	decode(t, rr, &thread)
	assert.Equal(t, "agent-km", thread.Metadata.String(session.MetadataAgentName))
	assert.Equal(t, "conv_1", thread.Metadata.String(session.MetadataConversationID))
	require.Len(t, thread.Steps, 4)
	var answer *backend.Step
	for _, step := range thread.Steps {
		if step.Type == backend.AssistantMessageStepType && step.ParentID != "" {
			answer = step
		}
	}
	require.NotNil(t, answer)
	assert.Equal(t, "Hello", answer.Output)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/"+chat.ThreadID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/unknown", "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	name := "Renamed"
	rr = recordJSON(t, ts.server.Handler, "PATCH", "/threads/"+chat.ThreadID, "admin", map[string]interface{}{"name": name})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	details, err := ts.server.options.DataLayer.GetThread(context.Background(), chat.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", details.Name)

	// Feedback
	rr = recordJSON(t, ts.server.Handler, "PUT", "/feedback", "admin", upsertFeedbackRequest{
		ForID:    answer.ID,
		ThreadID: chat.ThreadID,
		Value:    1,
		Comment:  "nice",
	})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	feedback := upsertFeedbackResponse{}
	decode(t, rr, &feedback)
	assert.Equal(t, chat.ThreadID+"::"+answer.ID, feedback.FeedbackID)

	rr = recordJSON(t, ts.server.Handler, "PUT", "/feedback", "admin", upsertFeedbackRequest{
		ForID:    "unknown",
		ThreadID: chat.ThreadID,
		Value:    0,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "DELETE", "/feedback/"+feedback.FeedbackID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "DELETE", "/feedback/"+feedback.FeedbackID, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	deleted := deleteFeedbackResponse{}
	decode(t, rr, &deleted)
	assert.True(t, deleted.Deleted)

	// Resume
	rr = recordResponse(t, ts.server.Handler, "POST", "/threads/"+chat.ThreadID+"/resume", "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "POST", "/threads/"+chat.ThreadID+"/resume", "admin", "", nil)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	info := session.Info{}
	decode(t, rr, &info)
	assert.NotEqual(t, chat.SessionID, info.SessionID)
	assert.Equal(t, chat.ThreadID, info.ThreadID)
	assert.Equal(t, "agent-km", info.AgentName)
	assert.Equal(t, "conv_1", info.ConversationID)

	rr = recordResponse(t, ts.server.Handler, "POST", "/threads/unknown/resume", "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Delete
	rr = recordResponse(t, ts.server.Handler, "DELETE", "/threads/"+chat.ThreadID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "DELETE", "/threads/"+chat.ThreadID, "admin", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = recordResponse(t, ts.server.Handler, "GET", "/threads/"+chat.ThreadID, "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestThreadsWithoutDataLayer(t *testing.T) {
	ts := createServer(t, false)

	for _, route := range []struct {
		method string
		path   string
	}{
		{"GET", "/threads"},
		{"GET", "/threads/thread-1"},
		{"DELETE", "/threads/thread-1"},
		{"POST", "/threads/thread-1/resume"},
		{"GET", "/threads/thread-1/elements/element-1"},
		{"DELETE", "/feedback/thread-1::step-1"},
	} {
		rr := recordResponse(t, ts.server.Handler, route.method, route.path, "admin", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, route.path)
		assert.Equal(t, `{"message":"No data layer configured"}`, rr.Body.String(), route.path)
	}
}
