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

package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/api/helpers"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/workorder"
)

var errQuantityNegative = errors.New("quantities must not be negative")

type instanceRequest struct {
	TeamID     string `uri:"teamId" binding:"required"`
	InstanceID string `uri:"instanceId" binding:"required,uuid"`
}

type startInstanceBody struct {
	OperatorID string `json:"operatorId"`
}

// StartInstanceHandler starts work on a pending operation instance.
func StartInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body startInstanceBody
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&body); err != nil {
			helpers.HandleInvalidInputError(c, err)
			return
		}
	}

	inst, err := service.StartInstance(c.Request.Context(), request.TeamID, request.InstanceID, body.OperatorID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

type pauseInstanceBody struct {
	PauseReasonID string `json:"pauseReasonId" binding:"required"`
	Notes         string `json:"notes"`
}

// PauseInstanceHandler interrupts an in-progress instance. The pause
// reason must exist in the team's catalog.
func PauseInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body pauseInstanceBody
	if err := c.BindJSON(&body); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	// Reason existence is validated here, not inside the engine.
	reason, err := store.GetPauseReason(c.Request.Context(), request.TeamID, body.PauseReasonID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}
	if !reason.Active {
		helpers.HandleInvalidInputError(c, errors.New("pause reason is deactivated"))
		return
	}

	inst, err := service.PauseInstance(c.Request.Context(), request.TeamID, request.InstanceID, body.PauseReasonID, body.Notes)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// ResumeInstanceHandler continues a paused instance.
func ResumeInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	inst, err := service.ResumeInstance(c.Request.Context(), request.TeamID, request.InstanceID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

type completeInstanceBody struct {
	QuantityCompleted int            `json:"quantityCompleted"`
	QuantityRejected  int            `json:"quantityRejected"`
	CapturedData      map[string]any `json:"capturedData"`
	Notes             string         `json:"notes"`
}

// CompleteInstanceHandler finishes an in-progress instance and lets the
// sequential gate promote the next operation or close the order.
func CompleteInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body completeInstanceBody
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&body); err != nil {
			helpers.HandleInvalidInputError(c, err)
			return
		}
	}
	if body.QuantityCompleted < 0 || body.QuantityRejected < 0 {
		helpers.HandleInvalidInputError(c, errQuantityNegative)
		return
	}

	inst, err := service.CompleteInstance(c.Request.Context(), request.TeamID, request.InstanceID,
		workorder.CompleteParams{
			QuantityCompleted: body.QuantityCompleted,
			QuantityRejected:  body.QuantityRejected,
			CapturedData:      body.CapturedData,
			Notes:             body.Notes,
		})
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// CancelInstanceHandler cancels an instance from any non-terminal status.
func CancelInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	inst, err := service.CancelInstance(c.Request.Context(), request.TeamID, request.InstanceID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// GetInstanceHandler returns one operation instance.
func GetInstanceHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	inst, err := store.GetInstance(c.Request.Context(), request.TeamID, request.InstanceID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// GetActiveTimeHandler returns the productive seconds of an instance as of
// now, net of pauses.
func GetActiveTimeHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	seconds, err := service.ActiveSeconds(c.Request.Context(), request.TeamID, request.InstanceID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instanceId":    request.InstanceID,
		"activeSeconds": seconds,
	})
}

// GetPauseEventsHandler returns the pause ledger of an instance.
func GetPauseEventsHandler(c *gin.Context) {
	var request instanceRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	// Ownership check before touching the ledger.
	if _, err := store.GetInstance(c.Request.Context(), request.TeamID, request.InstanceID); err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	events, err := store.ListPauseEvents(c.Request.Context(), request.InstanceID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}
