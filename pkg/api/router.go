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

// Package api assembles the REST surface of the work order engine.
package api

import (
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/api/controllers"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/workorder"
)

// SetupRestAPI wires the controllers and returns the HTTP server, ready
// for ListenAndServe. All routes below /api/v1 are protected by basic
// auth; a user may only touch the team matching its username.
func SetupRestAPI(svc *workorder.Service, store persistence.Store, accounts gin.Accounts, port int) *http.Server {
	controllers.Init(svc, store)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Combined access and error log through the global zap logger,
	// RFC3339 with UTC time format. Panics land in the error log with a
	// stack.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/api/v1", gin.BasicAuth(accounts))
	{
		v1.POST("/:teamId/orders", controllers.CreateOrderHandler)
		v1.GET("/:teamId/orders", controllers.ListOrdersHandler)
		v1.GET("/:teamId/orders/:orderId", controllers.GetOrderHandler)

		v1.GET("/:teamId/instances/:instanceId", controllers.GetInstanceHandler)
		v1.POST("/:teamId/instances/:instanceId/start", controllers.StartInstanceHandler)
		v1.POST("/:teamId/instances/:instanceId/pause", controllers.PauseInstanceHandler)
		v1.POST("/:teamId/instances/:instanceId/resume", controllers.ResumeInstanceHandler)
		v1.POST("/:teamId/instances/:instanceId/complete", controllers.CompleteInstanceHandler)
		v1.POST("/:teamId/instances/:instanceId/cancel", controllers.CancelInstanceHandler)
		v1.GET("/:teamId/instances/:instanceId/active-time", controllers.GetActiveTimeHandler)
		v1.GET("/:teamId/instances/:instanceId/pauses", controllers.GetPauseEventsHandler)

		v1.POST("/:teamId/routings", controllers.CreateRoutingHandler)
		v1.GET("/:teamId/routings", controllers.ListRoutingsHandler)
		v1.GET("/:teamId/routings/:routingId", controllers.GetRoutingHandler)

		v1.POST("/:teamId/pause-reasons", controllers.CreatePauseReasonHandler)
		v1.GET("/:teamId/pause-reasons", controllers.ListPauseReasonsHandler)
		v1.PATCH("/:teamId/pause-reasons/:reasonId", controllers.UpdatePauseReasonHandler)

		v1.POST("/:teamId/reconcile", controllers.ReconcileHandler)
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
