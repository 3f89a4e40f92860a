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

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/metrics"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
)

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	OrdersScanned    int `json:"ordersScanned"`
	InstancesChanged int `json:"instancesChanged"`
	OrdersUpdated    int `json:"ordersUpdated"`
}

// ReconcileTeam re-derives the correct pending/waiting state of every
// instance of every order of the team, using the same gating rule as the
// live path. It repairs data after rule changes or corruption.
//
// For each order: partition instances by operation number, find the lowest
// number that is not fully done - the order's current operation - then
// force waiting instances at that number to pending and pending instances
// at higher numbers back to waiting. Completed, in-progress, paused and
// cancelled instances are never touched, so the routine is idempotent and
// safe to run concurrently with live traffic.
func (s *Service) ReconcileTeam(ctx context.Context, teamID string) (*ReconcileResult, error) {
	started := time.Now()
	result := &ReconcileResult{}

	orders, err := s.store.ListOrders(ctx, teamID)
	if err != nil {
		return nil, err
	}

	for _, order := range orders {
		result.OrdersScanned++

		// One transaction per order keeps the write lock short while
		// still making each order's repair atomic.
		changed, updated, err := s.reconcileOrder(ctx, teamID, order.ID)
		if err != nil {
			s.log.Errorw("Reconciliation failed for order", "orderID", order.ID, "error", err)
			metrics.IncErrorCount(metrics.ComponentReconciler, order.ID)

			return nil, err
		}

		result.InstancesChanged += changed
		if updated {
			result.OrdersUpdated++
		}
	}

	metrics.ObserveReconcile(teamID, result.InstancesChanged, time.Since(started))
	s.log.Infow("Reconciliation finished",
		"team", teamID,
		"ordersScanned", result.OrdersScanned,
		"instancesChanged", result.InstancesChanged,
		"ordersUpdated", result.OrdersUpdated)

	return result, nil
}

func (s *Service) reconcileOrder(ctx context.Context, teamID, orderID string) (changed int, orderUpdated bool, err error) {
	err = persistence.WithTx(ctx, s.store, func(tx persistence.Tx) error {
		instances, err := tx.ListInstancesForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			return nil
		}

		numbers := operationNumbers(instances)

		current, active := currentOperation(instances, numbers)

		for _, n := range numbers {
			switch {
			case active && n == current:
				// Unlock stragglers at the current operation.
				c, err := tx.SetStatusForOperation(ctx, orderID, n,
					[]models.InstanceStatus{models.StatusWaiting}, models.StatusPending)
				if err != nil {
					return err
				}
				changed += c
			case active && n > current:
				// Re-gate later operations that were unlocked too early.
				c, err := tx.SetStatusForOperation(ctx, orderID, n,
					[]models.InstanceStatus{models.StatusPending}, models.StatusWaiting)
				if err != nil {
					return err
				}
				changed += c
			}
		}

		// Converge the aggregate status with the same pure function the
		// live path uses.
		before, err := tx.GetOrder(ctx, teamID, orderID)
		if err != nil {
			return err
		}
		if err := s.recomputeOrderStatus(ctx, tx, teamID, orderID, s.clock.Now()); err != nil {
			return err
		}
		after, err := tx.GetOrder(ctx, teamID, orderID)
		if err != nil {
			return err
		}
		orderUpdated = before.Status != after.Status

		return nil
	})

	return changed, orderUpdated, err
}

// operationNumbers returns the distinct operation numbers, ascending.
func operationNumbers(instances []*models.OperationInstance) []int {
	seen := make(map[int]bool)
	numbers := make([]int, 0)
	for _, inst := range instances {
		if !seen[inst.OperationNumber] {
			seen[inst.OperationNumber] = true
			numbers = append(numbers, inst.OperationNumber)
		}
	}
	// instances arrive sorted by operation number, so numbers already are.

	return numbers
}

// currentOperation returns the lowest operation number that is not fully
// done. active is false when every operation is done.
func currentOperation(instances []*models.OperationInstance, numbers []int) (current int, active bool) {
	for _, n := range numbers {
		if !allDoneAt(instances, n) {
			return n, true
		}
	}

	return 0, false
}
