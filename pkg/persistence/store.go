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

// Package persistence defines the storage contract of the work order
// lifecycle engine. Implementations must guarantee that everything done
// inside one transaction is atomic with respect to other transactions:
// a precondition check and the write depending on it always land together
// or not at all. That property closes the concurrent-start race on a
// single pending instance.
//
// Backends: memory (tests, default) and sqlitestore (production, WAL
// single-writer).
package persistence

import (
	"context"
	"time"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
)

// Reader is the read side of the store. Entities returned are copies;
// mutating them does not mutate the store.
type Reader interface {
	GetOrder(ctx context.Context, teamID, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, teamID string) ([]*models.Order, error)

	GetInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error)
	// ListInstancesForOrder returns all instances of the order, sorted by
	// operation number, then by creation time.
	ListInstancesForOrder(ctx context.Context, orderID string) ([]*models.OperationInstance, error)

	GetRouting(ctx context.Context, teamID, routingID string) (*models.Routing, error)
	ListRoutings(ctx context.Context, teamID string) ([]*models.Routing, error)

	GetPauseReason(ctx context.Context, teamID, reasonID string) (*models.PauseReason, error)
	ListPauseReasons(ctx context.Context, teamID string) ([]*models.PauseReason, error)

	// GetOpenPauseEvent returns the single open pause event of the
	// instance, or standarderrors.ErrNotFound if none is open.
	GetOpenPauseEvent(ctx context.Context, instanceID string) (*models.PauseEvent, error)
	// ListPauseEvents returns all pause events of the instance, sorted by
	// start time.
	ListPauseEvents(ctx context.Context, instanceID string) ([]*models.PauseEvent, error)
}

// Writer is the write side of the store. It is only reachable through a
// transaction.
type Writer interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error

	InsertInstances(ctx context.Context, instances []*models.OperationInstance) error
	// UpdateInstanceWhere applies mutate to the instance and persists it,
	// but only if the instance's current status is in expected. Returns
	// standarderrors.ErrConflict when the status no longer matches, and
	// standarderrors.ErrNotFound when the instance does not exist.
	UpdateInstanceWhere(
		ctx context.Context,
		instanceID string,
		expected []models.InstanceStatus,
		mutate func(*models.OperationInstance),
	) (*models.OperationInstance, error)
	// SetStatusForOperation is the bulk conditional write used by the gate
	// controller and the reconciliation routine: for every instance of the
	// order at the given operation number whose status is in from, set the
	// status to to. Returns the number of instances changed.
	SetStatusForOperation(
		ctx context.Context,
		orderID string,
		operationNumber int,
		from []models.InstanceStatus,
		to models.InstanceStatus,
	) (int, error)

	InsertRouting(ctx context.Context, routing *models.Routing) error

	InsertPauseReason(ctx context.Context, reason *models.PauseReason) error
	UpdatePauseReason(ctx context.Context, reason *models.PauseReason) error

	InsertPauseEvent(ctx context.Context, event *models.PauseEvent) error
	// ClosePauseEvent sets the end time of the instance's open pause event.
	// Returns standarderrors.ErrNotFound if no open event exists.
	ClosePauseEvent(ctx context.Context, instanceID string, endTime time.Time) (*models.PauseEvent, error)
}

// Tx is a transaction over the store. A transaction must be finished with
// exactly one Commit or Rollback.
type Tx interface {
	Reader
	Writer

	Commit() error
	Rollback() error
}

// Store is the engine's storage backend.
type Store interface {
	Reader

	BeginTx(ctx context.Context) (Tx, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// WithTx begins a transaction, runs fn, and commits. On error or panic the
// transaction is rolled back and the error propagated.
func WithTx(ctx context.Context, store Store, fn func(tx Tx) error) (err error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
