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

package session

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchat/agentchat/clients/foundry"
	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/charts"
	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/services/datalayer/backend/memory"
	"github.com/agentchat/agentchat/services/storage"
)

var admin = auth.User{Identifier: "admin", DisplayName: "Admin"}

type fakeClient struct {
	lock sync.Mutex

	conversations []string
	userMessages  []string
	requests      []foundry.ResponseRequest
	deltas        []string
	streamErr     error
	// when set, the stream blocks until it is closed
	release   chan struct{}
	streaming chan struct{}
	response  *foundry.Response
	closed    bool
}

func (c *fakeClient) CreateConversation(_ context.Context, first string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.conversations = append(c.conversations, first)
	return "conv_1", nil
}

func (c *fakeClient) AddUserMessage(_ context.Context, _ string, text string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.userMessages = append(c.userMessages, text)
	return nil
}

func (c *fakeClient) StreamResponse(_ context.Context, req foundry.ResponseRequest, onDelta func(string) error) error {
	c.lock.Lock()
	c.requests = append(c.requests, req)
	c.lock.Unlock()
	if c.release != nil {
		close(c.streaming)
		<-c.release
	}
	for _, delta := range c.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return c.streamErr
}

func (c *fakeClient) UploadFile(_ context.Context, _ string, r io.Reader, _ string) (string, error) {
	_, err := ioutil.ReadAll(r)
	return "file_1", err
}

func (c *fakeClient) CreateResponse(_ context.Context, req foundry.ResponseRequest) (*foundry.Response, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.requests = append(c.requests, req)
	return c.response, nil
}

func (c *fakeClient) DownloadContainerFile(_ context.Context, _ string, _ string) (io.ReadCloser, error) {
	return ioutil.NopCloser(strings.NewReader("PNG DATA")), nil
}

func (c *fakeClient) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
}

type recordingSink struct {
	sent    []string
	tokens  []string
	updated []string
}

func (s *recordingSink) Send(message *OutputMessage) error {
	s.sent = append(s.sent, message.Content)
	return nil
}

func (s *recordingSink) StreamToken(_ *OutputMessage, token string) error {
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSink) Update(message *OutputMessage) error {
	s.updated = append(s.updated, message.Content)
	return nil
}

func createDataLayer(t *testing.T) *datalayer.DataLayer {
	b, err := memory.CreateBackend()
	require.NoError(t, err)
	blobs, err := storage.NewFsStore(afero.NewMemMapFs(), "/files")
	require.NoError(t, err)
	return datalayer.New(b, blobs)
}

func createManager(t *testing.T, dl *datalayer.DataLayer, client *fakeClient) (*Manager, *int) {
	created := 0
	manager, err := NewManager(Options{
		DataLayer: dl,
		NewAgentClient: func() (AgentClient, error) {
			created++
			return client, nil
		},
		Drawer: charts.NewDrawer(afero.NewMemMapFs(), "/generated"),
	})
	require.NoError(t, err)
	return manager, &created
}

func countSteps(steps []*backend.Step, stepType string) int {
	count := 0
	for _, step := range steps {
		if step.Type == stepType {
			count++
		}
	}
	return count
}

func TestNewManagerRequiresFactory(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestStart(t *testing.T) {
	manager, _ := createManager(t, nil, &fakeClient{})

	session, messages := manager.Start(context.Background(), admin, "agent-km")
	assert.Equal(t, "agent-km", session.AgentName)
	assert.Equal(t, "", session.ConversationID())
	assert.NotEmpty(t, session.ThreadID)
	if assert.Len(t, messages, 2) {
		assert.Equal(t, "Hello admin", messages[0].Content)
		assert.Equal(t, "Starting chat using **agent-km**", messages[1].Content)
		assert.Equal(t, AssistantAuthor, messages[1].Author)
	}

	other, messages := manager.Start(context.Background(), admin, "")
	assert.Equal(t, "", other.AgentName)
	if assert.Len(t, messages, 2) {
		assert.Equal(t, "No agent selected.", messages[1].Content)
	}

	assert.Equal(t, 2, manager.Count())
	retrieved, err := manager.Get(session.ID)
	assert.NoError(t, err)
	assert.Equal(t, session, retrieved)
	assert.True(t, retrieved.IsOwnedBy("admin"))
	assert.False(t, retrieved.IsOwnedBy("bob"))
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	client := &fakeClient{deltas: []string{"Hel", "", "lo"}}
	manager, created := createManager(t, dl, client)

	session, _ := manager.Start(ctx, admin, "agent-km")

	sink := &recordingSink{}
	out := session.HandleMessage(ctx, Message{Content: "  What are the sales figures for the northern region this quarter?  "}, sink)
	require.NotNil(t, out)
	assert.Equal(t, "Hello", out.Content)
	assert.Equal(t, []string{""}, sink.sent)
	assert.Equal(t, []string{"Hel", "lo"}, sink.tokens)
	assert.Equal(t, []string{"Hello"}, sink.updated)

	assert.Equal(t, []string{"What are the sales figures for the northern region this quarter?"}, client.conversations)
	assert.Equal(t, "conv_1", session.ConversationID())
	if assert.Len(t, client.requests, 1) {
		assert.Equal(t, foundry.ResponseRequest{ConversationID: "conv_1", AgentName: "agent-km"}, client.requests[0])
	}

	session.HandleMessage(ctx, Message{Content: "and the south?"}, &recordingSink{})
	assert.Len(t, client.conversations, 1)
	assert.Equal(t, []string{"and the south?"}, client.userMessages)
	assert.Equal(t, 1, *created)

	thread, err := dl.GetThread(ctx, session.ThreadID)
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, "What are the sales figures for the northern region", thread.Name)
	assert.Equal(t, "admin", thread.UserID)
	assert.Equal(t, "conv_1", thread.Metadata.String(MetadataConversationID))
	assert.Equal(t, "agent-km", thread.Metadata.String(MetadataAgentName))
	assert.Equal(t, 2, countSteps(thread.Steps, backend.UserMessageStepType))
	// The 2 greeting messages and the 2 answers
	assert.Equal(t, 4, countSteps(thread.Steps, backend.AssistantMessageStepType))
}

func TestHandleEmptyMessage(t *testing.T) {
	manager, created := createManager(t, nil, &fakeClient{})
	session, _ := manager.Start(context.Background(), admin, "agent-km")

	sink := &recordingSink{}
	assert.Nil(t, session.HandleMessage(context.Background(), Message{Content: "   "}, sink))
	assert.Empty(t, sink.sent)
	assert.Equal(t, 0, *created)
}

func TestHandleMessageWithoutAgent(t *testing.T) {
	manager, created := createManager(t, nil, &fakeClient{})
	session, _ := manager.Start(context.Background(), admin, "")

	sink := &recordingSink{}
	out := session.HandleMessage(context.Background(), Message{Content: "hello"}, sink)
	require.NotNil(t, out)
	assert.Equal(t, "No agent selected.", out.Content)
	assert.Equal(t, []string{"No agent selected."}, sink.sent)
	assert.Equal(t, 0, *created)
}

func TestHandleMessageWithFiles(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	client := &fakeClient{deltas: []string{"Done."}}
	manager, _ := createManager(t, dl, client)
	session, _ := manager.Start(ctx, admin, "agent-km")

	csv := "region,amount\nnorth,12\n"
	pdf := "%PDF-1.4"
	sink := &recordingSink{}
	out := session.HandleMessage(ctx, Message{
		Content: "summarize",
		Files: []File{
			{Name: "sales.csv", Mime: "text/csv", Size: int64(len(csv)), Content: strings.NewReader(csv)},
			{Name: "report.pdf", Mime: "application/pdf", Size: int64(len(pdf)), Content: strings.NewReader(pdf)},
		},
	}, sink)
	require.NotNil(t, out)

	if assert.Len(t, client.conversations, 1) {
		input := client.conversations[0]
		assert.True(t, strings.HasPrefix(input, "summarize\n\nCSV parsed (summary + sample):\n"))
		assert.Contains(t, input, `"filename": "sales.csv"`)
	}
	assert.Equal(t, []string{"Received 1 file(s). File handling is not implemented yet.\n\n", "Done."}, sink.tokens)
	assert.Equal(t, "Done.", out.Content)

	thread, err := dl.GetThread(ctx, session.ThreadID)
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Len(t, thread.Elements, 2)
	for _, element := range thread.Elements {
		_, content, err := dl.GetElementContent(ctx, session.ThreadID, element.ID)
		if assert.NoError(t, err) {
			data, _ := ioutil.ReadAll(content)
			content.Close()
			assert.Equal(t, element.Size, int64(len(data)))
		}
	}
}

func TestHandleMessageKeepsNoticeWithoutDeltas(t *testing.T) {
	client := &fakeClient{}
	manager, _ := createManager(t, nil, client)
	session, _ := manager.Start(context.Background(), admin, "agent-km")

	out := session.HandleMessage(context.Background(), Message{
		Files: []File{{Name: "a.txt", Size: 1, Content: strings.NewReader("a")}},
	}, &recordingSink{})
	require.NotNil(t, out)
	assert.Equal(t, "Received 1 file(s). File handling is not implemented yet.\n\n", out.Content)
}

func TestHandleMessageError(t *testing.T) {
	client := &fakeClient{
		deltas:    []string{"partial"},
		streamErr: &foundry.APIError{StatusCode: 500, Message: "boom"},
	}
	manager, _ := createManager(t, nil, client)
	session, _ := manager.Start(context.Background(), admin, "agent-km")

	sink := &recordingSink{}
	out := session.HandleMessage(context.Background(), Message{Content: "hi"}, sink)
	require.NotNil(t, out)

	notice := "\n\n⚠️ Error: APIError: agent project request failed with status 500: boom"
	assert.Equal(t, "partial"+notice, out.Content)
	assert.Equal(t, []string{"partial", notice}, sink.tokens)
	assert.Equal(t, []string{"partial" + notice}, sink.updated)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	client := &fakeClient{deltas: []string{"ok"}}
	manager, _ := createManager(t, dl, client)

	session, _ := manager.Start(ctx, admin, "agent-km")
	session.HandleMessage(ctx, Message{Content: "hi"}, &recordingSink{})
	assert.NoError(t, manager.End(session.ID))

	resumed, err := manager.Resume(ctx, admin, session.ThreadID)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, resumed.ID)
	assert.Equal(t, session.ThreadID, resumed.ThreadID)
	assert.Equal(t, "agent-km", resumed.AgentName)
	assert.Equal(t, "conv_1", resumed.ConversationID())

	resumed.HandleMessage(ctx, Message{Content: "again"}, &recordingSink{})
	assert.Len(t, client.conversations, 1)
	assert.Equal(t, []string{"again"}, client.userMessages)

	_, err = manager.Resume(ctx, auth.User{Identifier: "bob"}, session.ThreadID)
	assert.IsType(t, &NotThreadAuthorError{}, err)

	_, err = manager.Resume(ctx, admin, "unknown")
	assert.IsType(t, &ThreadNotFoundError{}, err)

	withoutPersistence, _ := createManager(t, nil, client)
	_, err = withoutPersistence.Resume(ctx, admin, session.ThreadID)
	assert.ErrorIs(t, err, ErrNoPersistence)
}

func TestEnd(t *testing.T) {
	client := &fakeClient{deltas: []string{"ok"}}
	manager, _ := createManager(t, nil, client)
	session, _ := manager.Start(context.Background(), admin, "agent-km")
	session.HandleMessage(context.Background(), Message{Content: "hi"}, &recordingSink{})

	assert.NoError(t, manager.End(session.ID))
	assert.True(t, client.closed)
	assert.Equal(t, 0, manager.Count())

	err := manager.End(session.ID)
	assert.IsType(t, &SessionNotFoundError{}, err)
	_, err = manager.Get(session.ID)
	assert.IsType(t, &SessionNotFoundError{}, err)

	// An ended session can't reach its agent anymore
	out := session.HandleMessage(context.Background(), Message{Content: "hi"}, &recordingSink{})
	require.NotNil(t, out)
	assert.Contains(t, out.Content, "⚠️ Error: SessionNotFoundError: ")
}

func TestEndDropsGreetingsWithoutUserMessage(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	manager, _ := createManager(t, dl, &fakeClient{})

	session, _ := manager.Start(ctx, admin, "agent-km")
	assert.Equal(t, 2, dl.PendingWrites())

	assert.NoError(t, manager.End(session.ID))
	assert.Equal(t, 0, dl.PendingWrites())

	thread, err := dl.GetThread(ctx, session.ThreadID)
	assert.NoError(t, err)
	assert.Nil(t, thread)
}

func TestDestroyDropsGreetingsWithoutUserMessage(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	manager, _ := createManager(t, dl, &fakeClient{deltas: []string{"ok"}})

	for i := 0; i < 10; i++ {
		manager.Start(ctx, admin, "agent-km")
	}
	talking, _ := manager.Start(ctx, admin, "agent-km")
	talking.HandleMessage(ctx, Message{Content: "hi"}, &recordingSink{})
	assert.Equal(t, 20, dl.PendingWrites())

	manager.Destroy(ctx)
	assert.Equal(t, 0, dl.PendingWrites())

	thread, err := dl.GetThread(ctx, talking.ThreadID)
	assert.NoError(t, err)
	if assert.NotNil(t, thread) {
		assert.Equal(t, 3, countSteps(thread.Steps, backend.AssistantMessageStepType))
	}
}

type closingReader struct {
	*strings.Reader
	closed int
}

func (r *closingReader) Close() error {
	r.closed++
	return nil
}

func TestMessageClose(t *testing.T) {
	uploaded := &closingReader{Reader: strings.NewReader("a,b\n")}
	message := Message{
		Content: "hi",
		Files: []File{
			{Name: "data.csv", Size: 4, Content: uploaded},
			{Name: "notes.txt", Size: 2, Content: strings.NewReader("hi")},
		},
	}

	message.Close()
	assert.Equal(t, 1, uploaded.closed)
	assert.NoError(t, message.Files[1].Close())
}

func TestDestroyWaitsForMessages(t *testing.T) {
	client := &fakeClient{
		deltas:    []string{"ok"},
		release:   make(chan struct{}),
		streaming: make(chan struct{}),
	}
	manager, _ := createManager(t, nil, client)
	session, _ := manager.Start(context.Background(), admin, "agent-km")

	handled := make(chan *OutputMessage)
	go func() {
		handled <- session.HandleMessage(context.Background(), Message{Content: "hi"}, &recordingSink{})
	}()
	<-client.streaming

	destroyed := make(chan struct{})
	go func() {
		manager.Destroy(context.Background())
		close(destroyed)
	}()

	select {
	case <-destroyed:
		t.Fatal("destroyed while a message is being handled")
	case <-time.After(20 * time.Millisecond):
	}

	close(client.release)
	out := <-handled
	assert.Equal(t, "ok", out.Content)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	assert.Equal(t, 0, manager.Count())
	assert.True(t, client.closed)
}

func TestDrawChart(t *testing.T) {
	ctx := context.Background()
	dl := createDataLayer(t)
	client := &fakeClient{response: &foundry.Response{Output: []*foundry.OutputItem{{
		Type: "message",
		Content: []*foundry.Content{{
			Type: "output_text",
			Text: "Here it is.",
			Annotations: []*foundry.Annotation{{
				Type:        foundry.ContainerFileCitationType,
				FileID:      "cfile_1",
				Filename:    "sales.png",
				ContainerID: "cntr_1",
			}},
		}},
	}}}}
	manager, _ := createManager(t, dl, client)
	session, _ := manager.Start(ctx, admin, "agent-charts")

	csv := "region,amount\nnorth,12\n"
	output, err := session.DrawChart(ctx, ChartRequest{
		Content: "plot it",
		File:    &File{Name: "sales.csv", Mime: "text/csv", Size: int64(len(csv)), Content: strings.NewReader(csv)},
	})
	require.NoError(t, err)

	assert.Equal(t, "conv_1", output.ConversationID)
	assert.Equal(t, "conv_1", session.ConversationID())
	assert.Equal(t, "Here it is.", output.Message.Content)
	if assert.Len(t, output.Message.Elements, 1) {
		element := output.Message.Elements[0]
		assert.Equal(t, "output.png", element.Name)
		assert.Equal(t, "image/png", element.Mime)
		assert.Equal(t, "inline", element.Display)
		assert.Equal(t, int64(len("PNG DATA")), element.Size)

		_, content, err := dl.GetElementContent(ctx, session.ThreadID, element.ID)
		if assert.NoError(t, err) {
			data, _ := ioutil.ReadAll(content)
			content.Close()
			assert.Equal(t, "PNG DATA", string(data))
		}
	}
	if assert.Len(t, client.requests, 1) {
		assert.Equal(t, "plot it", client.requests[0].Input)
		assert.Equal(t, []foundry.Tool{foundry.CodeInterpreterTool("file_1")}, client.requests[0].Tools)
	}

	noAgent, _ := manager.Start(ctx, admin, "")
	_, err = noAgent.DrawChart(ctx, ChartRequest{Content: "plot"})
	assert.IsType(t, &NoAgentError{}, err)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "APIError", errorKind(&foundry.APIError{}))
	assert.Equal(t, "SessionNotFoundError", errorKind(NewSessionNotFoundError("s")))
	assert.Equal(t, "Error", errorKind(io.EOF))
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "short", threadName("short"))
	assert.Equal(t, strings.Repeat("é", 50), threadName(strings.Repeat("é", 60)))
}
