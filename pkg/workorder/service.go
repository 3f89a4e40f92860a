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

// Package workorder is the lifecycle engine of the shop floor tracker: the
// operation instance state machine, the sequential gate controller, the
// order status aggregator and the reconciliation routine.
//
// Every transition runs as one atomic unit against the store: read current
// state, validate against the transition table, write the new state, all
// inside a single transaction. Two actors racing the same transition get
// exactly one success; the loser sees ErrInvalidState.
package workorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/activetime"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/logger"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/metrics"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/pauseledger"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

// Service exposes the lifecycle operations of the engine.
type Service struct {
	store  persistence.Store
	ledger *pauseledger.Ledger
	clock  clock.Clock
	locks  *mapmutex.Mutex
	log    *zap.SugaredLogger
}

// NewService creates the engine service. If c is nil, the system clock is
// used.
func NewService(store persistence.Store, ledger *pauseledger.Ledger, c clock.Clock) *Service {
	if c == nil {
		c = clock.New()
	}

	return &Service{
		store:  store,
		ledger: ledger,
		clock:  c,
		locks:  mapmutex.NewMapMutex(),
		log:    logger.For(logger.ComponentWorkOrder),
	}
}

// Clock returns the service's time source.
func (s *Service) Clock() clock.Clock {
	return s.clock
}

// Ledger returns the service's pause ledger.
func (s *Service) Ledger() *pauseledger.Ledger {
	return s.ledger
}

// CreateOrderParams are the inputs of CreateOrder.
type CreateOrderParams struct {
	OrderNumber    string
	RoutingID      string
	Quantity       int
	Priority       int
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
}

// CreateOrder creates an order from a routing and seeds one operation
// instance per routing operation: the lowest operation number starts
// pending, every later one starts waiting behind the sequential gate.
func (s *Service) CreateOrder(ctx context.Context, teamID string, params CreateOrderParams) (*models.Order, error) {
	if params.OrderNumber == "" {
		return nil, errors.New("order number must not be empty")
	}

	now := s.clock.Now()

	var order *models.Order
	err := persistence.WithTx(ctx, s.store, func(tx persistence.Tx) error {
		routing, err := tx.GetRouting(ctx, teamID, params.RoutingID)
		if err != nil {
			return fmt.Errorf("routing %q: %w", params.RoutingID, err)
		}
		if len(routing.Operations) == 0 {
			return fmt.Errorf("routing %q has no operations", params.RoutingID)
		}

		firstOperation := routing.Operations[0].OperationNumber
		for _, op := range routing.Operations[1:] {
			if op.OperationNumber < firstOperation {
				firstOperation = op.OperationNumber
			}
		}

		order = &models.Order{
			ID:             uuid.NewString(),
			TeamID:         teamID,
			OrderNumber:    params.OrderNumber,
			RoutingID:      routing.ID,
			Quantity:       params.Quantity,
			Priority:       params.Priority,
			Status:         models.OrderStatusPending,
			ScheduledStart: params.ScheduledStart,
			ScheduledEnd:   params.ScheduledEnd,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		instances := make([]*models.OperationInstance, 0, len(routing.Operations))
		for _, op := range routing.Operations {
			status := models.StatusWaiting
			if op.OperationNumber == firstOperation {
				status = models.StatusPending
			}
			instances = append(instances, &models.OperationInstance{
				ID:                 uuid.NewString(),
				OrderID:            order.ID,
				TeamID:             teamID,
				RoutingOperationID: op.ID,
				OperationNumber:    op.OperationNumber,
				Status:             status,
				CreatedAt:          now,
				UpdatedAt:          now,
			})
		}

		return tx.InsertInstances(ctx, instances)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("Order created", "orderID", order.ID, "orderNumber", order.OrderNumber, "team", teamID)

	return order, nil
}

// StartInstance begins work on a pending instance: status in_progress,
// actual start time stamped, operator recorded. Fails with
// ErrInvalidState from any other status, including waiting (not yet
// unlocked).
func (s *Service) StartInstance(ctx context.Context, teamID, instanceID, operatorID string) (*models.OperationInstance, error) {
	return s.transition(ctx, teamID, instanceID, EventStart,
		func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error) {
			updated, err := tx.UpdateInstanceWhere(ctx, inst.ID,
				[]models.InstanceStatus{models.StatusPending},
				func(i *models.OperationInstance) {
					start := now
					i.Status = models.StatusInProgress
					i.ActualStartTime = &start
					i.OperatorID = operatorID
					i.UpdatedAt = now
				})
			if err != nil {
				return nil, err
			}

			if err := s.stampOrderStart(ctx, tx, teamID, inst.OrderID, now); err != nil {
				return nil, err
			}

			return updated, nil
		})
}

// PauseInstance interrupts an in-progress instance: a pause event is
// opened in the ledger and the status set to paused, atomically.
func (s *Service) PauseInstance(ctx context.Context, teamID, instanceID, reasonID, notes string) (*models.OperationInstance, error) {
	return s.transition(ctx, teamID, instanceID, EventPause,
		func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error) {
			if _, err := s.ledger.OpenPause(ctx, tx, inst.ID, reasonID, notes); err != nil {
				return nil, err
			}

			return tx.UpdateInstanceWhere(ctx, inst.ID,
				[]models.InstanceStatus{models.StatusInProgress},
				func(i *models.OperationInstance) {
					i.Status = models.StatusPaused
					i.UpdatedAt = now
				})
		})
}

// ResumeInstance continues a paused instance: the open pause event is
// closed and the status set back to in_progress. Fails with ErrNoOpenPause
// when the ledger has nothing to close.
func (s *Service) ResumeInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	return s.transition(ctx, teamID, instanceID, EventResume,
		func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error) {
			if _, err := s.ledger.CloseOpenPause(ctx, tx, inst.ID); err != nil {
				return nil, err
			}

			return tx.UpdateInstanceWhere(ctx, inst.ID,
				[]models.InstanceStatus{models.StatusPaused},
				func(i *models.OperationInstance) {
					i.Status = models.StatusInProgress
					i.UpdatedAt = now
				})
		})
}

// CompleteParams are the optional completion inputs.
type CompleteParams struct {
	CapturedData      map[string]any
	QuantityCompleted int
	QuantityRejected  int
	Notes             string
}

// CompleteInstance finishes an in-progress instance and synchronously runs
// the sequential gate controller in the same transaction, so the "all
// instances of this operation number are done" check cannot race a
// sibling's completion.
func (s *Service) CompleteInstance(ctx context.Context, teamID, instanceID string, params CompleteParams) (*models.OperationInstance, error) {
	return s.transition(ctx, teamID, instanceID, EventComplete,
		func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error) {
			updated, err := tx.UpdateInstanceWhere(ctx, inst.ID,
				[]models.InstanceStatus{models.StatusInProgress},
				func(i *models.OperationInstance) {
					end := now
					i.Status = models.StatusCompleted
					i.ActualEndTime = &end
					i.QuantityCompleted = params.QuantityCompleted
					i.QuantityRejected = params.QuantityRejected
					if params.CapturedData != nil {
						i.CapturedData = params.CapturedData
					}
					if params.Notes != "" {
						i.Notes = params.Notes
					}
					i.UpdatedAt = now
				})
			if err != nil {
				return nil, err
			}

			order, err := tx.GetOrder(ctx, teamID, inst.OrderID)
			if err != nil {
				return nil, err
			}
			if err := runGate(ctx, tx, order, updated.OperationNumber, now); err != nil {
				return nil, fmt.Errorf("gate promotion for order %q: %w", order.ID, err)
			}

			return updated, nil
		})
}

// CancelInstance is the administrative override: legal from every
// non-terminal status, closes a dangling open pause, and never triggers
// gate promotion.
func (s *Service) CancelInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	return s.transition(ctx, teamID, instanceID, EventCancel,
		func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error) {
			if inst.Status == models.StatusPaused {
				if _, err := s.ledger.CloseOpenPause(ctx, tx, inst.ID); err != nil &&
					!errors.Is(err, standarderrors.ErrNoOpenPause) {
					return nil, err
				}
			}

			return tx.UpdateInstanceWhere(ctx, inst.ID,
				[]models.InstanceStatus{
					models.StatusWaiting,
					models.StatusPending,
					models.StatusInProgress,
					models.StatusPaused,
				},
				func(i *models.OperationInstance) {
					i.Status = models.StatusCancelled
					i.UpdatedAt = now
				})
		})
}

// ActiveSeconds returns the productive seconds of the instance as of now,
// net of all pauses. Read-only.
func (s *Service) ActiveSeconds(ctx context.Context, teamID, instanceID string) (int64, error) {
	inst, err := s.store.GetInstance(ctx, teamID, instanceID)
	if err != nil {
		return 0, err
	}

	closed, err := s.ledger.ClosedDuration(ctx, s.store, instanceID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	open, err := s.ledger.OpenDuration(ctx, s.store, instanceID, now)
	if err != nil {
		return 0, err
	}

	return activetime.ActiveSeconds(inst, closed, open, now), nil
}

// transition is the shared skeleton of the five operations: resolve the
// instance, take the per-order lock, validate the event against the
// transition table, run the mutation inside one transaction, then
// recompute the parent order's aggregate status.
func (s *Service) transition(
	ctx context.Context,
	teamID, instanceID, event string,
	mutate func(tx persistence.Tx, inst *models.OperationInstance, now time.Time) (*models.OperationInstance, error),
) (result *models.OperationInstance, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveTransition(event, outcomeOf(err), time.Since(started))
		if err != nil && !isExpected(err) {
			metrics.IncErrorCount(metrics.ComponentWorkOrderService, instanceID)
		}
	}()

	// Resolve the parent order before locking; the authoritative read
	// happens again inside the transaction.
	peek, err := s.store.GetInstance(ctx, teamID, instanceID)
	if err != nil {
		return nil, err
	}

	if !s.locks.TryLock(peek.OrderID) {
		return nil, fmt.Errorf("order %q: %w", peek.OrderID, standarderrors.ErrBusy)
	}
	defer s.locks.Unlock(peek.OrderID)

	err = persistence.WithTx(ctx, s.store, func(tx persistence.Tx) error {
		inst, err := tx.GetInstance(ctx, teamID, instanceID)
		if err != nil {
			return err
		}

		if _, err := Transition(ctx, inst.Status, event); err != nil {
			return err
		}

		now := s.clock.Now()
		updated, err := mutate(tx, inst, now)
		if err != nil {
			// A conditional write that lost the race is indistinguishable,
			// for the caller, from calling at the wrong time.
			if errors.Is(err, standarderrors.ErrConflict) {
				return fmt.Errorf("%s lost the race on instance %q: %w", event, instanceID, standarderrors.ErrInvalidState)
			}

			return err
		}

		if err := s.recomputeOrderStatus(ctx, tx, teamID, updated.OrderID, now); err != nil {
			return err
		}

		result = updated

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debugw("Transition applied", "event", event, "instanceID", instanceID, "status", result.Status)

	return result, nil
}

// stampOrderStart records the order's actual start on the first started
// instance. Idempotent.
func (s *Service) stampOrderStart(ctx context.Context, tx persistence.Tx, teamID, orderID string, now time.Time) error {
	order, err := tx.GetOrder(ctx, teamID, orderID)
	if err != nil {
		return err
	}
	if order.ActualStart != nil {
		return nil
	}

	start := now
	order.ActualStart = &start
	order.UpdatedAt = now

	return tx.UpdateOrder(ctx, order)
}

// recomputeOrderStatus applies the order status aggregator after an
// instance mutation. The write is skipped when the derived status equals
// the stored one.
func (s *Service) recomputeOrderStatus(ctx context.Context, tx persistence.Tx, teamID, orderID string, now time.Time) error {
	instances, err := tx.ListInstancesForOrder(ctx, orderID)
	if err != nil {
		return err
	}

	statuses := make([]models.InstanceStatus, 0, len(instances))
	for _, inst := range instances {
		statuses = append(statuses, inst.Status)
	}

	derived := DeriveOrderStatus(statuses)

	order, err := tx.GetOrder(ctx, teamID, orderID)
	if err != nil {
		return err
	}
	if order.Status == derived {
		return nil
	}

	order.Status = derived
	if derived == models.OrderStatusCompleted && order.ActualEnd == nil {
		end := now
		order.ActualEnd = &end
	}
	order.UpdatedAt = now

	return tx.UpdateOrder(ctx, order)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, standarderrors.ErrInvalidState):
		return metrics.OutcomeInvalidState
	case errors.Is(err, standarderrors.ErrNoOpenPause):
		return metrics.OutcomeNoOpenPause
	case errors.Is(err, standarderrors.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}

func isExpected(err error) bool {
	return errors.Is(err, standarderrors.ErrInvalidState) ||
		errors.Is(err, standarderrors.ErrNoOpenPause) ||
		errors.Is(err, standarderrors.ErrNotFound)
}
