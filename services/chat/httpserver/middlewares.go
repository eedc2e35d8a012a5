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
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/agentchat/agentchat/services/chat/auth"
)

const userContextKey = "agentchat_user"

func ginLoggerMiddleware(c *gin.Context) {
	method := c.Request.Method
	path := c.Request.URL.Path

	start := time.Now()
	c.Next()
	stop := time.Since(start)

	statusCode := c.Writer.Status()
	dataLength := c.Writer.Size()
	if dataLength < 0 {
		dataLength = 0
	}

	entry := log.WithFields(logrus.Fields{
		"statusCode": statusCode,
		"latency":    int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0)),
		"clientIP":   c.ClientIP(),
		"dataLength": dataLength,
	})

	if statusCode >= http.StatusInternalServerError {
		entry.Errorf("[%s] [%s] - 5XX internal error", method, path)
	} else if statusCode >= http.StatusBadRequest {
		entry.Warnf("[%s] [%s] - 4XX request error", method, path)
	} else {
		entry.Debugf("[%s] [%s]", method, path)
	}
}

func ginErrorHandlerMiddleware(c *gin.Context) {
	c.Next()

	statusCode := c.Writer.Status()
	log := log.WithField("status", statusCode)

	for errIndex, err := range c.Errors {
		if statusCode >= http.StatusInternalServerError {
			log.Errorf("Error #%02d - %s", errIndex+1, err)
		} else if statusCode >= http.StatusBadRequest {
			log.Debugf("Error #%02d - %s", errIndex+1, err)
		}
	}

	// Errors raised by tonic handlers are already rendered
	if len(c.Errors) > 0 && !c.Writer.Written() {
		c.JSON(statusCode, gin.H{
			"message": c.Errors.Last().Error(),
		})
	}
}

// authMiddleware only lets through the requests carrying a valid session token.
func (server *Server) authMiddleware(c *gin.Context) {
	header := c.GetHeader(authorizationHeaderKey)
	if !strings.HasPrefix(header, bearerPrefix) {
		abortWithError(c, wrapError(
			http.StatusUnauthorized,
			fmt.Errorf("Missing session token in header [%s]", authorizationHeaderKey),
		))
		return
	}

	claims, err := ParseAndVerifyToken(strings.TrimPrefix(header, bearerPrefix), server.options.Secret)
	if err != nil {
		abortWithError(c, wrapError(
			http.StatusUnauthorized,
			fmt.Errorf("Unable to validate token from header [%s] (%w)", authorizationHeaderKey, err),
		))
		return
	}

	c.Set(userContextKey, auth.User{Identifier: claims.Identifier, DisplayName: claims.DisplayName})
	c.Next()
}

func currentUser(c *gin.Context) auth.User {
	return c.MustGet(userContextKey).(auth.User)
}
