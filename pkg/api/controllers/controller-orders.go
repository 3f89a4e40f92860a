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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/api/helpers"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/workorder"
)

type teamRequest struct {
	TeamID string `uri:"teamId" binding:"required"`
}

type orderRequest struct {
	TeamID  string `uri:"teamId" binding:"required"`
	OrderID string `uri:"orderId" binding:"required,uuid"`
}

type createOrderBody struct {
	OrderNumber    string     `json:"orderNumber" binding:"required"`
	RoutingID      string     `json:"routingId" binding:"required,uuid"`
	Quantity       int        `json:"quantity" binding:"required,gt=0"`
	Priority       int        `json:"priority"`
	ScheduledStart *time.Time `json:"scheduledStartDate"`
	ScheduledEnd   *time.Time `json:"scheduledEndDate"`
}

// CreateOrderHandler creates an order from a routing and seeds its
// operation instances.
func CreateOrderHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	var body createOrderBody
	if err := c.BindJSON(&body); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	order, err := service.CreateOrder(c.Request.Context(), request.TeamID, workorder.CreateOrderParams{
		OrderNumber:    body.OrderNumber,
		RoutingID:      body.RoutingID,
		Quantity:       body.Quantity,
		Priority:       body.Priority,
		ScheduledStart: body.ScheduledStart,
		ScheduledEnd:   body.ScheduledEnd,
	})
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// GetOrderHandler returns one order together with its operation instances.
func GetOrderHandler(c *gin.Context) {
	var request orderRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	order, err := store.GetOrder(c.Request.Context(), request.TeamID, request.OrderID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	instances, err := store.ListInstancesForOrder(c.Request.Context(), order.ID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":     order,
		"instances": instances,
	})
}

// ListOrdersHandler returns all orders of the team.
func ListOrdersHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	orders, err := store.ListOrders(c.Request.Context(), request.TeamID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// ReconcileHandler forces the team's orders back into the invariant
// "exactly one operation number per order is startable".
func ReconcileHandler(c *gin.Context) {
	var request teamRequest
	if err := c.BindUri(&request); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if err := helpers.CheckIfUserIsAllowed(c, request.TeamID); err != nil {
		return
	}

	result, err := service.ReconcileTeam(c.Request.Context(), request.TeamID)
	if err != nil {
		helpers.HandleEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
