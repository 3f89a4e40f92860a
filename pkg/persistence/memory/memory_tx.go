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

package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

var errTxDone = errors.New("transaction already finished")

// inMemoryTx mutates the live maps while holding the store's write lock.
// Rollback restores the snapshot taken at BeginTx.
type inMemoryTx struct {
	store *InMemoryStore
	undo  *state
	done  bool
}

func (tx *inMemoryTx) guard(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}

	return validateContext(ctx)
}

func (tx *inMemoryTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.undo = nil
	tx.store.mu.Unlock()

	return nil
}

func (tx *inMemoryTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.store.restore(tx.undo)
	tx.undo = nil
	tx.store.mu.Unlock()

	return nil
}

// --- Reader (inside tx, lock already held) ---

func (tx *inMemoryTx) GetOrder(ctx context.Context, teamID, orderID string) (*models.Order, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return getOrder(tx.store.orders, teamID, orderID)
}

func (tx *inMemoryTx) ListOrders(ctx context.Context, teamID string) ([]*models.Order, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return listOrders(tx.store.orders, teamID), nil
}

func (tx *inMemoryTx) GetInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return getInstance(tx.store.instances, teamID, instanceID)
}

func (tx *inMemoryTx) ListInstancesForOrder(ctx context.Context, orderID string) ([]*models.OperationInstance, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return listInstancesForOrder(tx.store.instances, orderID), nil
}

func (tx *inMemoryTx) GetRouting(ctx context.Context, teamID, routingID string) (*models.Routing, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return getRouting(tx.store.routings, teamID, routingID)
}

func (tx *inMemoryTx) ListRoutings(ctx context.Context, teamID string) ([]*models.Routing, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return listRoutings(tx.store.routings, teamID), nil
}

func (tx *inMemoryTx) GetPauseReason(ctx context.Context, teamID, reasonID string) (*models.PauseReason, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return getPauseReason(tx.store.reasons, teamID, reasonID)
}

func (tx *inMemoryTx) ListPauseReasons(ctx context.Context, teamID string) ([]*models.PauseReason, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return listPauseReasons(tx.store.reasons, teamID), nil
}

func (tx *inMemoryTx) GetOpenPauseEvent(ctx context.Context, instanceID string) (*models.PauseEvent, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return getOpenPauseEvent(tx.store.pauses, instanceID)
}

func (tx *inMemoryTx) ListPauseEvents(ctx context.Context, instanceID string) ([]*models.PauseEvent, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	return listPauseEvents(tx.store.pauses, instanceID), nil
}

// --- Writer ---

func (tx *inMemoryTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if order.ID == "" {
		return errors.New("order must have non-empty id")
	}
	if _, exists := tx.store.orders[order.ID]; exists {
		return fmt.Errorf("order %q: %w", order.ID, standarderrors.ErrConflict)
	}

	tx.store.orders[order.ID] = copyOf(order)

	return nil
}

func (tx *inMemoryTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if _, exists := tx.store.orders[order.ID]; !exists {
		return standarderrors.ErrNotFound
	}

	tx.store.orders[order.ID] = copyOf(order)

	return nil
}

func (tx *inMemoryTx) InsertInstances(ctx context.Context, instances []*models.OperationInstance) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}

	for _, inst := range instances {
		if inst.ID == "" {
			return errors.New("instance must have non-empty id")
		}
		if _, exists := tx.store.instances[inst.ID]; exists {
			return fmt.Errorf("instance %q: %w", inst.ID, standarderrors.ErrConflict)
		}
	}
	for _, inst := range instances {
		tx.store.instances[inst.ID] = copyOf(inst)
	}

	return nil
}

func (tx *inMemoryTx) UpdateInstanceWhere(
	ctx context.Context,
	instanceID string,
	expected []models.InstanceStatus,
	mutate func(*models.OperationInstance),
) (*models.OperationInstance, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	inst, ok := tx.store.instances[instanceID]
	if !ok {
		return nil, standarderrors.ErrNotFound
	}
	if !statusIn(inst.Status, expected) {
		return nil, fmt.Errorf("instance %q is %s: %w", instanceID, inst.Status, standarderrors.ErrConflict)
	}

	updated := copyOf(inst)
	mutate(updated)
	tx.store.instances[instanceID] = updated

	return copyOf(updated), nil
}

func (tx *inMemoryTx) SetStatusForOperation(
	ctx context.Context,
	orderID string,
	operationNumber int,
	from []models.InstanceStatus,
	to models.InstanceStatus,
) (int, error) {
	if err := tx.guard(ctx); err != nil {
		return 0, err
	}

	changed := 0
	now := time.Now()
	for id, inst := range tx.store.instances {
		if inst.OrderID != orderID || inst.OperationNumber != operationNumber {
			continue
		}
		if !statusIn(inst.Status, from) {
			continue
		}

		updated := copyOf(inst)
		updated.Status = to
		updated.UpdatedAt = now
		tx.store.instances[id] = updated
		changed++
	}

	return changed, nil
}

func (tx *inMemoryTx) InsertRouting(ctx context.Context, routing *models.Routing) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if routing.ID == "" {
		return errors.New("routing must have non-empty id")
	}
	if _, exists := tx.store.routings[routing.ID]; exists {
		return fmt.Errorf("routing %q: %w", routing.ID, standarderrors.ErrConflict)
	}

	tx.store.routings[routing.ID] = copyOf(routing)

	return nil
}

func (tx *inMemoryTx) InsertPauseReason(ctx context.Context, reason *models.PauseReason) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if reason.ID == "" {
		return errors.New("pause reason must have non-empty id")
	}
	if _, exists := tx.store.reasons[reason.ID]; exists {
		return fmt.Errorf("pause reason %q: %w", reason.ID, standarderrors.ErrConflict)
	}

	tx.store.reasons[reason.ID] = copyOf(reason)

	return nil
}

func (tx *inMemoryTx) UpdatePauseReason(ctx context.Context, reason *models.PauseReason) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if _, exists := tx.store.reasons[reason.ID]; !exists {
		return standarderrors.ErrNotFound
	}

	tx.store.reasons[reason.ID] = copyOf(reason)

	return nil
}

func (tx *inMemoryTx) InsertPauseEvent(ctx context.Context, event *models.PauseEvent) error {
	if err := tx.guard(ctx); err != nil {
		return err
	}
	if event.ID == "" {
		return errors.New("pause event must have non-empty id")
	}
	if _, exists := tx.store.pauses[event.ID]; exists {
		return fmt.Errorf("pause event %q: %w", event.ID, standarderrors.ErrConflict)
	}

	tx.store.pauses[event.ID] = copyOf(event)

	return nil
}

func (tx *inMemoryTx) ClosePauseEvent(ctx context.Context, instanceID string, endTime time.Time) (*models.PauseEvent, error) {
	if err := tx.guard(ctx); err != nil {
		return nil, err
	}

	for id, p := range tx.store.pauses {
		if p.InstanceID == instanceID && p.IsOpen() {
			closed := copyOf(p)
			end := endTime
			closed.EndTime = &end
			tx.store.pauses[id] = closed

			return copyOf(closed), nil
		}
	}

	return nil, standarderrors.ErrNotFound
}

func statusIn(status models.InstanceStatus, set []models.InstanceStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == status {
			return true
		}
	}

	return false
}
