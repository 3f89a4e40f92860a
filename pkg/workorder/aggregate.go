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

package workorder

import (
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
)

// DeriveOrderStatus computes an order's aggregate status from the multiset
// of its instance statuses. Pure function; the same implementation serves
// the live service and the reconciliation routine.
//
// Cancelled instances are excluded from the derivation: they are terminal
// administrative leftovers and must neither block completion nor pull the
// order back to pending.
//
// The pending/completed mix with nothing running maps to OrderStatusWaiting:
// the order is between operations. This is a different notion from the
// per-instance waiting status (instance gated behind the sequential gate);
// the stored value stays "waiting" for wire compatibility.
func DeriveOrderStatus(statuses []models.InstanceStatus) models.OrderStatus {
	if len(statuses) == 0 {
		return models.OrderStatusPending
	}

	considered := make([]models.InstanceStatus, 0, len(statuses))
	for _, s := range statuses {
		if s != models.StatusCancelled {
			considered = append(considered, s)
		}
	}
	if len(considered) == 0 {
		return models.OrderStatusCancelled
	}

	var completed, paused, inProgress, waiting, pending int
	for _, s := range considered {
		switch s {
		case models.StatusCompleted:
			completed++
		case models.StatusPaused:
			paused++
		case models.StatusInProgress:
			inProgress++
		case models.StatusWaiting:
			waiting++
		case models.StatusPending:
			pending++
		}
	}

	switch {
	case completed == len(considered):
		return models.OrderStatusCompleted
	case paused > 0:
		return models.OrderStatusPaused
	case inProgress > 0:
		return models.OrderStatusInProgress
	case waiting == len(considered):
		// Should not normally persist; defensive.
		return models.OrderStatusWaiting
	case pending > 0:
		if pending+waiting == len(considered) {
			return models.OrderStatusPending
		}
		// Mixed: some operations finished, later ones not yet started.
		return models.OrderStatusWaiting
	default:
		return models.OrderStatusPending
	}
}
