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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"

	"github.com/agentchat/agentchat/services/chat/auth"
	"github.com/agentchat/agentchat/services/chat/profiles"
	"github.com/agentchat/agentchat/services/chat/session"
	"github.com/agentchat/agentchat/services/datalayer"
	"github.com/agentchat/agentchat/services/datalayer/backend"
	"github.com/agentchat/agentchat/version"
)

var log = logrus.WithField("component", "httpserver")

const (
	authorizationHeaderKey = "Authorization"
	bearerPrefix           = "Bearer "
)

var infos = openapi.Info{
	Title: "agentchat",
	Description: "Chat with the agents of a hosted agent project.\n" +
		"\n" +
		"The API is composed of the following groups of routes:\n" +
		"- [Authentication](#tag/Authentication)\n" +
		"- [Chat](#tag/Chat)\n" +
		"- [Threads](#tag/Threads)\n" +
		"- [Feedback](#tag/Feedback)\n",
	Version: version.Version,
}

// ProfileProvider lists the chat profiles a chat session can be started with.
type ProfileProvider interface {
	List(ctx context.Context) ([]profiles.ChatProfile, error)
	ListLimited(ctx context.Context, limit int) ([]profiles.ChatProfile, error)
	Has(ctx context.Context, name string) (bool, error)
}

type Options struct {
	Host          string
	Port          uint
	AppName       string
	Secret        string
	Authenticator *auth.PasswordAuthenticator
	Profiles      ProfileProvider
	Sessions      *session.Manager
	// DataLayer is optional, the thread and feedback routes answer 503 without it
	DataLayer *datalayer.DataLayer
}

type Server struct {
	http.Server
	options Options

	gin  *gin.Engine
	fizz *fizz.Fizz
}

func overrideTypes(generator *openapi.Generator) error {
	return generator.OverrideDataType(reflect.TypeOf(backend.Metadata{}), "object", "")
}

//nolint:lll
func New(options Options) (*Server, error) {
	// Debug mode can be helpful during development
	gin.SetMode(gin.ReleaseMode)

	tonic.SetErrorHook(tonicErrorHook)

	ginEngine := gin.New()
	fizzEngine := fizz.NewFromEngine(ginEngine)

	server := &Server{
		Server: http.Server{
			Addr:    fmt.Sprintf("%s:%d", options.Host, options.Port),
			Handler: fizzEngine,
		},
		options: options,
		gin:     ginEngine,
		fizz:    fizzEngine,
	}

	server.gin.HandleMethodNotAllowed = true

	err := overrideTypes(server.fizz.Generator())
	if err != nil {
		return nil, err
	}

	// Allows all origins
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders(authorizationHeaderKey)

	server.fizz.Use(cors.New(corsConfig))

	// Use a custom error handler
	server.fizz.Use(ginErrorHandlerMiddleware)

	// Use the custom logger middleware
	server.fizz.Use(ginLoggerMiddleware)

	// Recovery middleware recovers from any panics and writes a 500 if there was one.
	server.fizz.Use(gin.Recovery())

	server.fizz.GET("/", []fizz.OperationOption{
		fizz.Summary("Retrieve information about this API"),
	}, tonic.Handler(server.getInfo, http.StatusOK))

	server.fizz.GET("/openapi.json", []fizz.OperationOption{
		fizz.Summary("Retrieve the open api specification"),
		fizz.Response("500", "Bad server configuration or state", httpError{}, nil, nil),
	}, server.fizz.OpenAPI(&infos, "json"))

	authGroup := server.fizz.Group(
		"/auth",
		"Authentication",
		"Authenticate with a username and a password to retrieve a session token.",
	)
	authGroup.POST("/login", []fizz.OperationOption{
		fizz.Summary("Log in"),
		fizz.Description("The returned token must be sent in the `Authorization` header of the other requests, as `Bearer <token>`."),
		fizz.Response("401", "Invalid credentials", httpError{}, nil, nil),
	}, tonic.Handler(server.login, http.StatusOK))

	chatGroup := server.fizz.Group(
		"",
		"Chat",
		"Start chat sessions with an agent and send them messages.",
	)
	chatGroup.Use(server.authMiddleware)
	chatGroup.GET("/profiles", []fizz.OperationOption{
		fizz.Summary("List the chat profiles"),
		fizz.Description("Each chat profile is an agent of the agent project."),
		fizz.Response("401", "Invalid session token", httpError{}, nil, nil),
		fizz.Response("502", "Agent project unavailable", httpError{}, nil, nil),
	}, tonic.Handler(server.listProfiles, http.StatusOK))
	chatGroup.POST("/chats", []fizz.OperationOption{
		fizz.Summary("Start a chat session"),
		fizz.Description("Start a chat session with the agent of the given chat profile, an empty chat profile starts a chat session without agent."),
		fizz.Response("400", "Unknown chat profile", httpError{}, nil, nil),
		fizz.Response("401", "Invalid session token", httpError{}, nil, nil),
	}, tonic.Handler(server.startChat, http.StatusCreated))
	chatGroup.POST("/chats/:session_id/messages", []fizz.OperationOption{
		fizz.Summary("Send a message"),
		fizz.Description("Send a message, as JSON or as a multipart form with `content` and `files`, the answer is streamed as server sent events:\n" +
			"- `message` a new message,\n" +
			"- `token` a token appended to a message,\n" +
			"- `done` the final version of the answer."),
		fizz.Response("401", "Invalid session token", httpError{}, nil, nil),
		fizz.Response("404", "Chat session not found", httpError{}, nil, nil),
	}, server.postMessage)
	chatGroup.POST("/chats/:session_id/charts", []fizz.OperationOption{
		fizz.Summary("Draw a chart"),
		fizz.Description("Ask the agent for a chart, optionally based on a CSV `file`, as a multipart form with `content` and `file`."),
		fizz.Response("400", "No agent selected", httpError{}, nil, nil),
		fizz.Response("401", "Invalid session token", httpError{}, nil, nil),
		fizz.Response("404", "Chat session not found", httpError{}, nil, nil),
		fizz.Response("502", "Agent project unavailable", httpError{}, nil, nil),
	}, server.drawChart)
	chatGroup.DELETE("/chats/:session_id", []fizz.OperationOption{
		fizz.Summary("End a chat session"),
		fizz.Response("401", "Invalid session token", httpError{}, nil, nil),
		fizz.Response("404", "Chat session not found", httpError{}, nil, nil),
	}, tonic.Handler(server.endChat, http.StatusOK))

	threadsGroup := server.fizz.Group(
		"/threads",
		"Threads",
		"Browse, resume, update and delete the persisted chat threads.",
	)
	threadsGroup.Use(server.authMiddleware)
	threadsGroup.GET("", []fizz.OperationOption{
		fizz.Summary("List the threads of the user"),
		fizz.Response("400", "Invalid cursor", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.listThreads, http.StatusOK))
	threadsGroup.GET("/:thread_id", []fizz.OperationOption{
		fizz.Summary("Retrieve a thread"),
		fizz.Description("Retrieve a thread with its steps and elements."),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Thread not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.getThread, http.StatusOK))
	threadsGroup.PATCH("/:thread_id", []fizz.OperationOption{
		fizz.Summary("Update a thread"),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Thread not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.updateThread, http.StatusOK))
	threadsGroup.DELETE("/:thread_id", []fizz.OperationOption{
		fizz.Summary("Delete a thread"),
		fizz.Description("Delete a thread, its steps and its elements."),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Thread not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.deleteThread, http.StatusOK))
	threadsGroup.POST("/:thread_id/resume", []fizz.OperationOption{
		fizz.Summary("Resume a thread"),
		fizz.Description("Start a chat session continuing the thread with the same agent and conversation."),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Thread not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.resumeThread, http.StatusCreated))
	threadsGroup.GET("/:thread_id/elements/:element_id", []fizz.OperationOption{
		fizz.Summary("Download the content of an element"),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Element not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, server.getElementContent)

	feedbackGroup := server.fizz.Group(
		"/feedback",
		"Feedback",
		"Rate the answers of the agents.",
	)
	feedbackGroup.Use(server.authMiddleware)
	feedbackGroup.PUT("", []fizz.OperationOption{
		fizz.Summary("Create or update a feedback"),
		fizz.Response("400", "Invalid feedback", httpError{}, nil, nil),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("404", "Step not found", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.upsertFeedback, http.StatusOK))
	feedbackGroup.DELETE("/:feedback_id", []fizz.OperationOption{
		fizz.Summary("Delete a feedback"),
		fizz.Response("403", "Not the thread author", httpError{}, nil, nil),
		fizz.Response("503", "No data layer", httpError{}, nil, nil),
	}, tonic.Handler(server.deleteFeedback, http.StatusOK))

	ginEngine.NoRoute(func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusNotFound, fmt.Errorf("not found"))
	})

	ginEngine.NoMethod(func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})

	return server, nil
}

// WriteOpenAPISpec writes the open api specification of the server as indented JSON.
func (server *Server) WriteOpenAPISpec(w io.Writer) error {
	server.fizz.Generator().SetInfo(&infos)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "\t")
	return encoder.Encode(server.fizz.Generator().API())
}

type response struct {
	Message string `json:"message" description:"Human-readable response description"`
}

type infoResponse struct {
	response
	Version     string `json:"version" description:"agentchat version"`
	VersionHash string `json:"version_hash"`
	DataLayer   string `json:"data_layer,omitempty" description:"Description of the data layer, empty when nothing is persisted"`
}

func (server *Server) getInfo(*gin.Context) (infoResponse, error) {
	res := infoResponse{
		response: response{
			Message: fmt.Sprintf("This is %s", server.options.AppName),
		},
		Version:     version.Version,
		VersionHash: version.Hash,
	}
	if server.options.DataLayer != nil {
		res.DataLayer = server.options.DataLayer.BuildDebugURL()
	}
	return res, nil
}

// Authentication

type loginRequest struct {
	Username string `json:"username" validate:"required" description:"Username, case insensitive"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token       string `json:"token" description:"Session token"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
}

func (server *Server) login(c *gin.Context, request *loginRequest) (*loginResponse, error) {
	user := server.options.Authenticator.Authenticate(request.Username, request.Password)
	if user == nil {
		return nil, wrapError(http.StatusUnauthorized, fmt.Errorf("Invalid credentials"))
	}

	if server.options.DataLayer != nil {
		_, err := server.options.DataLayer.GetOrCreateUser(c, datalayer.User{
			Identifier:  user.Identifier,
			DisplayName: user.DisplayName,
		})
		if err != nil {
			log.WithField("user", user.Identifier).WithError(err).Warn("unable to persist the user")
		}
	}

	token, err := MakeAndSerializeToken(*user, server.options.Secret)
	if err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	return &loginResponse{
		Token:       token,
		Identifier:  user.Identifier,
		DisplayName: user.DisplayName,
	}, nil
}

// Chat

type listProfilesRequest struct {
	Limit int `query:"limit" validate:"gte=0" description:"Maximum number of profiles, the service limit when 0"`
}

func (server *Server) listProfiles(c *gin.Context, request *listProfilesRequest) ([]profiles.ChatProfile, error) {
	chatProfiles, err := server.options.Profiles.ListLimited(c, request.Limit)
	if err != nil {
		return nil, wrapError(http.StatusBadGateway, err)
	}
	return chatProfiles, nil
}

type startChatRequest struct {
	ChatProfile string `json:"chat_profile" description:"Name of the chat profile, i.e. of the agent"`
}

type startChatResponse struct {
	session.Info
	Messages []*session.OutputMessage `json:"messages" description:"Messages greeting the user"`
}

func (server *Server) startChat(c *gin.Context, request *startChatRequest) (*startChatResponse, error) {
	if request.ChatProfile != "" {
		ok, err := server.options.Profiles.Has(c, request.ChatProfile)
		if err != nil {
			return nil, wrapError(http.StatusBadGateway, err)
		}
		if !ok {
			return nil, wrapError(http.StatusBadRequest, fmt.Errorf("Unknown chat profile [%s]", request.ChatProfile))
		}
	}

	chatSession, messages := server.options.Sessions.Start(c, currentUser(c), request.ChatProfile)
	return &startChatResponse{
		Info:     chatSession.Info(),
		Messages: messages,
	}, nil
}

type sessionRequest struct {
	SessionID string `path:"session_id" description:"The chat session identifier"`
}

// userSession retrieves a chat session of the current user.
func (server *Server) userSession(c *gin.Context, sessionID string) (*session.Session, error) {
	chatSession, err := server.options.Sessions.Get(sessionID)
	if err != nil {
		return nil, wrapError(http.StatusNotFound, err)
	}
	if !chatSession.IsOwnedBy(currentUser(c).Identifier) {
		// Not revealing the existence of the sessions of other users
		return nil, wrapError(http.StatusNotFound, session.NewSessionNotFoundError(sessionID))
	}
	return chatSession, nil
}

func (server *Server) endChat(c *gin.Context, request *sessionRequest) (*response, error) {
	if _, err := server.userSession(c, request.SessionID); err != nil {
		return nil, err
	}
	if err := server.options.Sessions.End(request.SessionID); err != nil {
		return nil, wrapError(http.StatusNotFound, err)
	}
	return &response{
		Message: fmt.Sprintf("Chat session [%s] ended", request.SessionID),
	}, nil
}

// Threads

func (server *Server) requireDataLayer() (*datalayer.DataLayer, error) {
	if server.options.DataLayer == nil {
		return nil, wrapError(http.StatusServiceUnavailable, session.ErrNoPersistence)
	}
	return server.options.DataLayer, nil
}

// checkThreadAuthor verifies that the current user is the author of an existing thread.
func (server *Server) checkThreadAuthor(c *gin.Context, threadID string) (*datalayer.DataLayer, error) {
	dl, err := server.requireDataLayer()
	if err != nil {
		return nil, err
	}
	author, err := dl.GetThreadAuthor(c, threadID)
	if err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	if author == "" {
		return nil, wrapError(http.StatusNotFound, session.NewThreadNotFoundError(threadID))
	}
	user := currentUser(c)
	if author != user.Identifier {
		return nil, wrapError(http.StatusForbidden, session.NewNotThreadAuthorError(threadID, user.Identifier))
	}
	return dl, nil
}

func elementURL(element *backend.Element) string {
	return fmt.Sprintf("/threads/%s/elements/%s", element.ThreadID, element.ID)
}

func withURLs(elements []*backend.Element) []*backend.Element {
	for _, element := range elements {
		element.URL = elementURL(element)
	}
	return elements
}

type listThreadsRequest struct {
	First  int    `query:"first" default:"20" description:"Maximum number of threads to retrieve"`
	Cursor string `query:"cursor" description:"Cursor of the first thread to retrieve, as returned in the previous page"`
	Search string `query:"search" description:"Case insensitive search in the thread names"`
}

func (server *Server) listThreads(c *gin.Context, request *listThreadsRequest) (*datalayer.PaginatedThreads, error) {
	dl, err := server.requireDataLayer()
	if err != nil {
		return nil, err
	}
	threads, err := dl.ListThreads(
		c,
		datalayer.Pagination{First: request.First, Cursor: request.Cursor},
		backend.ThreadFilter{UserID: currentUser(c).Identifier, Search: request.Search},
	)
	if err != nil {
		var cursorErr *datalayer.InvalidCursorError
		if errors.As(err, &cursorErr) {
			return nil, wrapError(http.StatusBadRequest, err)
		}
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	return threads, nil
}

type threadRequest struct {
	ThreadID string `path:"thread_id" description:"The thread identifier"`
}

func (server *Server) getThread(c *gin.Context, request *threadRequest) (*datalayer.ThreadDetails, error) {
	dl, err := server.checkThreadAuthor(c, request.ThreadID)
	if err != nil {
		return nil, err
	}
	thread, err := dl.GetThread(c, request.ThreadID)
	if err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	if thread == nil {
		return nil, wrapError(http.StatusNotFound, session.NewThreadNotFoundError(request.ThreadID))
	}
	thread.Elements = withURLs(thread.Elements)
	return thread, nil
}

type updateThreadRequest struct {
	threadRequest
	Name     *string          `json:"name,omitempty" description:"New name of the thread"`
	Metadata backend.Metadata `json:"metadata,omitempty" description:"Metadata merged in the thread metadata"`
	Tags     []string         `json:"tags,omitempty" description:"New tags of the thread"`
}

func (server *Server) updateThread(c *gin.Context, request *updateThreadRequest) (*response, error) {
	dl, err := server.checkThreadAuthor(c, request.ThreadID)
	if err != nil {
		return nil, err
	}
	err = dl.UpdateThread(c, request.ThreadID, datalayer.ThreadUpdate{
		Name:     request.Name,
		Metadata: request.Metadata,
		Tags:     request.Tags,
	})
	if err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	return &response{
		Message: fmt.Sprintf("Thread [%s] updated", request.ThreadID),
	}, nil
}

func (server *Server) deleteThread(c *gin.Context, request *threadRequest) (*response, error) {
	dl, err := server.checkThreadAuthor(c, request.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := dl.DeleteThread(c, request.ThreadID); err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	return &response{
		Message: fmt.Sprintf("Thread [%s] deleted", request.ThreadID),
	}, nil
}

func (server *Server) resumeThread(c *gin.Context, request *threadRequest) (*session.Info, error) {
	if _, err := server.requireDataLayer(); err != nil {
		return nil, err
	}
	chatSession, err := server.options.Sessions.Resume(c, currentUser(c), request.ThreadID)
	if err != nil {
		var notFoundErr *session.ThreadNotFoundError
		if errors.As(err, &notFoundErr) {
			return nil, wrapError(http.StatusNotFound, err)
		}
		var notAuthorErr *session.NotThreadAuthorError
		if errors.As(err, &notAuthorErr) {
			return nil, wrapError(http.StatusForbidden, err)
		}
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	info := chatSession.Info()
	return &info, nil
}

// Feedback

type upsertFeedbackRequest struct {
	ForID    string `json:"forId" validate:"required" description:"Identifier of the rated step"`
	ThreadID string `json:"threadId" validate:"required" description:"Identifier of the thread of the rated step"`
	Value    int    `json:"value" description:"1 for a positive feedback, 0 for a negative one"`
	Comment  string `json:"comment,omitempty"`
}

type upsertFeedbackResponse struct {
	response
	FeedbackID string `json:"feedback_id"`
}

func (server *Server) upsertFeedback(c *gin.Context, request *upsertFeedbackRequest) (*upsertFeedbackResponse, error) {
	dl, err := server.checkThreadAuthor(c, request.ThreadID)
	if err != nil {
		return nil, err
	}
	feedbackID, err := dl.UpsertFeedback(c, backend.Feedback{
		ForID:    request.ForID,
		ThreadID: request.ThreadID,
		Value:    request.Value,
		Comment:  request.Comment,
	})
	if err != nil {
		var invalidErr *datalayer.InvalidFeedbackError
		if errors.As(err, &invalidErr) {
			return nil, wrapError(http.StatusBadRequest, err)
		}
		var notFoundErr *datalayer.StepNotFoundError
		if errors.As(err, &notFoundErr) {
			return nil, wrapError(http.StatusNotFound, err)
		}
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	return &upsertFeedbackResponse{
		response: response{
			Message: fmt.Sprintf("Feedback [%s] saved", feedbackID),
		},
		FeedbackID: feedbackID,
	}, nil
}

type deleteFeedbackRequest struct {
	FeedbackID string `path:"feedback_id" description:"The feedback identifier"`
}

type deleteFeedbackResponse struct {
	response
	Deleted bool `json:"deleted"`
}

func (server *Server) deleteFeedback(c *gin.Context, request *deleteFeedbackRequest) (*deleteFeedbackResponse, error) {
	dl, err := server.requireDataLayer()
	if err != nil {
		return nil, err
	}
	if threadID, ok := datalayer.FeedbackThreadID(request.FeedbackID); ok {
		if _, err := server.checkThreadAuthor(c, threadID); err != nil {
			return nil, err
		}
	}
	deleted, err := dl.DeleteFeedback(c, request.FeedbackID)
	if err != nil {
		return nil, wrapError(http.StatusInternalServerError, err)
	}
	res := &deleteFeedbackResponse{Deleted: deleted}
	if deleted {
		res.Message = fmt.Sprintf("Feedback [%s] deleted", request.FeedbackID)
	} else {
		res.Message = fmt.Sprintf("Feedback [%s] not found", request.FeedbackID)
	}
	return res, nil
}
