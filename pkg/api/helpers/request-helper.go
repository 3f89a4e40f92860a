// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package helpers contains the request-side plumbing shared by every
// controller: authorization checks and the error-to-HTTP translation.
package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

// SanitizeString strips control characters that would let user input forge
// log lines.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")

	return s
}

func HandleInternalServerError(c *gin.Context, err error) {
	if c == nil {
		panic("HandleInternalServerError: c is nil")
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	erx := SanitizeString(err.Error())
	zap.S().Errorw(
		"Internal server error",
		"error", erx,
		"route", c.FullPath(),
	)

	c.JSON(
		http.StatusInternalServerError,
		gin.H{
			"error":   erx,
			"status":  http.StatusInternalServerError,
			"message": "The server had an internal error.",
		})
}

func HandleInvalidInputError(c *gin.Context, err error) {
	if c == nil {
		panic("HandleInvalidInputError: c is nil")
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	erx := SanitizeString(err.Error())
	zap.S().Infow(
		"Invalid input error",
		"error", erx,
		"route", c.FullPath(),
	)

	c.JSON(
		http.StatusBadRequest,
		gin.H{
			"error":   erx,
			"status":  http.StatusBadRequest,
			"message": "You have provided a wrong input. Please check your parameters.",
		})
}

func HandleNotFound(c *gin.Context, err error) {
	if c == nil {
		panic("HandleNotFound: c is nil")
	}

	erx := SanitizeString(err.Error())

	c.JSON(
		http.StatusNotFound,
		gin.H{
			"error":   erx,
			"status":  http.StatusNotFound,
			"message": "The requested resource was not found.",
			"route":   c.FullPath(),
		})
}

func HandleConflict(c *gin.Context, err error) {
	if c == nil {
		panic("HandleConflict: c is nil")
	}

	erx := SanitizeString(err.Error())
	zap.S().Infow(
		"Rejected transition",
		"error", erx,
		"route", c.FullPath(),
	)

	c.JSON(
		http.StatusConflict,
		gin.H{
			"error":   erx,
			"status":  http.StatusConflict,
			"message": "The operation is not allowed in the current state.",
		})
}

func HandleBusy(c *gin.Context, err error) {
	if c == nil {
		panic("HandleBusy: c is nil")
	}

	erx := SanitizeString(err.Error())

	c.Header("Retry-After", "1")
	c.JSON(
		http.StatusServiceUnavailable,
		gin.H{
			"error":   erx,
			"status":  http.StatusServiceUnavailable,
			"message": "The order is locked by a concurrent request. Retry shortly.",
		})
}

// HandleEngineError routes an error from the lifecycle engine to the
// matching HTTP response. Sentinels from standarderrors map to 404, 409 or
// 503; anything else is a 500.
func HandleEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, standarderrors.ErrNotFound):
		HandleNotFound(c, err)
	case errors.Is(err, standarderrors.ErrInvalidState),
		errors.Is(err, standarderrors.ErrNoOpenPause),
		errors.Is(err, standarderrors.ErrConflict):
		HandleConflict(c, err)
	case errors.Is(err, standarderrors.ErrBusy):
		HandleBusy(c, err)
	default:
		HandleInternalServerError(c, err)
	}
}

// CheckIfUserIsAllowed checks if the authenticated user may access the
// data of the given team.
func CheckIfUserIsAllowed(c *gin.Context, teamID string) error {
	user := c.MustGet(gin.AuthUserKey)
	if user != teamID {
		c.AbortWithStatus(http.StatusUnauthorized)
		zap.S().Infof("User %s unauthorized to access %s", user, SanitizeString(teamID))
		return fmt.Errorf("user %s unauthorized to access %s", user, SanitizeString(teamID))
	}
	return nil
}
