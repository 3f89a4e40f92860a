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
	"context"
	"time"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
)

// operationDone reports whether the instance no longer blocks the gate.
// Cancelled instances count as done so an administrative cancel of one
// parallel station cannot deadlock the whole order.
func operationDone(s models.InstanceStatus) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

// allDoneAt reports whether every instance at the operation number is done.
func allDoneAt(instances []*models.OperationInstance, operationNumber int) bool {
	found := false
	for _, inst := range instances {
		if inst.OperationNumber != operationNumber {
			continue
		}
		found = true
		if !operationDone(inst.Status) {
			return false
		}
	}

	return found
}

// nextOperationNumber returns the smallest operation number greater than n
// present among the instances. Routings commonly number operations with
// gaps (10, 20, 30), so "N+1" means the next distinct number, not n+1.
func nextOperationNumber(instances []*models.OperationInstance, n int) (int, bool) {
	next := 0
	found := false
	for _, inst := range instances {
		if inst.OperationNumber <= n {
			continue
		}
		if !found || inst.OperationNumber < next {
			next = inst.OperationNumber
			found = true
		}
	}

	return next, found
}

// runGate is the sequential gate controller. Called inside the completing
// transaction, right after the instance write, so the "all instances of N
// are done" check cannot race a sibling's complete.
//
// If every instance at the completed operation number is done, instances
// at the next operation number still waiting are promoted to pending.
// Instances already advanced manually are left untouched, which makes the
// promotion idempotent and partial-state safe. If no next operation
// exists, the parent order is completed and its actual end date stamped.
func runGate(ctx context.Context, tx persistence.Tx, order *models.Order, completedOperation int, now time.Time) error {
	instances, err := tx.ListInstancesForOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	if !allDoneAt(instances, completedOperation) {
		return nil
	}

	next, ok := nextOperationNumber(instances, completedOperation)
	if ok {
		_, err := tx.SetStatusForOperation(ctx, order.ID, next,
			[]models.InstanceStatus{models.StatusWaiting}, models.StatusPending)

		return err
	}

	// Last operation of the routing: close the order.
	if order.Status == models.OrderStatusCompleted && order.ActualEnd != nil {
		return nil
	}
	order.Status = models.OrderStatusCompleted
	if order.ActualEnd == nil {
		end := now
		order.ActualEnd = &end
	}
	order.UpdatedAt = now

	return tx.UpdateOrder(ctx, order)
}
