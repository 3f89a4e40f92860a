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
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/api/helpers"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
)

type routingRequest struct {
	TeamID    string `uri:"teamId" binding:"required"`
	RoutingID string `uri:"routingId" binding:"required,uuid"`
}

type routingOperationBody struct {
	OperationNumber int    `json:"operationNumber" binding:"required,gt=0"`
	Name            string `json:"name" binding:"required"`
	SetupSeconds    int64  `json:"setupSeconds"`
	RunSecondsPer   int64  `json:"runSecondsPerUnit"`
	Department      string `json:"department"`
}

type createRoutingBody struct {
	Name       string                 `json:"name" binding:"required"`
	Operations []routingOperationBody `json:"operations" binding:"required,min=1,dive"`
}

func routingsCacheKey(teamID string) string {
	return "routings/" + teamID
}

func pauseReasonsCacheKey(teamID string) string {
	return "pauseReasons/" + teamID
}

// CreateRoutingHandler adds a routing to the team's catalog. Operation
// numbers must be unique within the routing; gaps are allowed.
func CreateRoutingHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body createRoutingBody
	if err := c.BindJSON(&body); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	seen := make(map[int]bool, len(body.Operations))
	for _, op := range body.Operations {
		if seen[op.OperationNumber] {
			helpers.HandleInvalidInputError(c, errors.New("duplicate operation number in routing"))
			return
		}
		seen[op.OperationNumber] = true
	}

	now := service.Clock().Now()
	routing := &models.Routing{
		ID:        uuid.NewString(),
		TeamID:    request.TeamID,
		Name:      body.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, op := range body.Operations {
		routing.Operations = append(routing.Operations, models.RoutingOperation{
			ID:              uuid.NewString(),
			OperationNumber: op.OperationNumber,
			Name:            op.Name,
			SetupTime:       time.Duration(op.SetupSeconds) * time.Second,
			RunTimePerUnit:  time.Duration(op.RunSecondsPer) * time.Second,
			Department:      op.Department,
		})
	}
	sort.Slice(routing.Operations, func(i, j int) bool {
		return routing.Operations[i].OperationNumber < routing.Operations[j].OperationNumber
	})

	err := persistence.WithTx(c.Request.Context(), store, func(tx persistence.Tx) error {
		return tx.InsertRouting(c.Request.Context(), routing)
	})
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	catalogCache.Delete(routingsCacheKey(request.TeamID))

	c.JSON(http.StatusCreated, routing)
}

// GetRoutingHandler returns one routing.
func GetRoutingHandler(c *gin.Context) {
	var request routingRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	routing, err := store.GetRouting(c.Request.Context(), request.TeamID, request.RoutingID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, routing)
}

// ListRoutingsHandler returns the team's routing catalog, cached briefly.
func ListRoutingsHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	if cached, found := catalogCache.Get(routingsCacheKey(request.TeamID)); found {
		c.JSON(http.StatusOK, cached)
		return
	}

	routings, err := store.ListRoutings(c.Request.Context(), request.TeamID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	catalogCache.Set(routingsCacheKey(request.TeamID), routings, cache.DefaultExpiration)

	c.JSON(http.StatusOK, routings)
}

type createPauseReasonBody struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
}

// CreatePauseReasonHandler adds a pause reason to the team's catalog.
func CreatePauseReasonHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body createPauseReasonBody
	if err := c.BindJSON(&body); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	reason := &models.PauseReason{
		ID:        uuid.NewString(),
		TeamID:    request.TeamID,
		Name:      body.Name,
		Category:  body.Category,
		Active:    true,
		CreatedAt: service.Clock().Now(),
	}

	err := persistence.WithTx(c.Request.Context(), store, func(tx persistence.Tx) error {
		return tx.InsertPauseReason(c.Request.Context(), reason)
	})
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	catalogCache.Delete(pauseReasonsCacheKey(request.TeamID))

	c.JSON(http.StatusCreated, reason)
}

type pauseReasonRequest struct {
	TeamID   string `uri:"teamId" binding:"required"`
	ReasonID string `uri:"reasonId" binding:"required,uuid"`
}

type updatePauseReasonBody struct {
	Name     *string `json:"name"`
	Category *string `json:"category"`
	Active   *bool   `json:"active"`
}

// UpdatePauseReasonHandler edits a pause reason. Deactivation hides the
// reason from new pauses; historic pause events keep referencing it.
func UpdatePauseReasonHandler(c *gin.Context) {
	var request pauseReasonRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body updatePauseReasonBody
	if err := c.BindJSON(&body); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	var reason *models.PauseReason
	err := persistence.WithTx(c.Request.Context(), store, func(tx persistence.Tx) error {
		current, err := tx.GetPauseReason(c.Request.Context(), request.TeamID, request.ReasonID)
		if err != nil {
			return err
		}

		if body.Name != nil {
			current.Name = *body.Name
		}
		if body.Category != nil {
			current.Category = *body.Category
		}
		if body.Active != nil {
			current.Active = *body.Active
		}

		reason = current

		return tx.UpdatePauseReason(c.Request.Context(), current)
	})
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	catalogCache.Delete(pauseReasonsCacheKey(request.TeamID))

	c.JSON(http.StatusOK, reason)
}

// ListPauseReasonsHandler returns the team's pause reason catalog, cached
// briefly.
func ListPauseReasonsHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	if cached, found := catalogCache.Get(pauseReasonsCacheKey(request.TeamID)); found {
		c.JSON(http.StatusOK, cached)
		return
	}

	reasons, err := store.ListPauseReasons(c.Request.Context(), request.TeamID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	catalogCache.Set(pauseReasonsCacheKey(request.TeamID), reasons, cache.DefaultExpiration)

	c.JSON(http.StatusOK, reasons)
}
