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

// Package controllers holds the gin handlers of the REST API. Handlers
// bind and authorize the request, call into the lifecycle engine or the
// store, and translate errors through the helpers package.
package controllers

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/workorder"
)

var (
	service *workorder.Service
	store   persistence.Store

	// catalogCache fronts reads of the pause reason and routing catalogs.
	// Catalog writes invalidate the team's entries.
	catalogCache = cache.New(30*time.Second, 5*time.Minute)
)

// Init wires the controllers to the engine and the store. Must be called
// once before the router is set up.
func Init(svc *workorder.Service, st persistence.Store) {
	service = svc
	store = st
	catalogCache.Flush()
}
