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

package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// --- Reader (inside tx) ---

func (t *sqliteTx) GetOrder(ctx context.Context, teamID, orderID string) (*models.Order, error) {
	return getOrder(ctx, t.tx, teamID, orderID)
}

func (t *sqliteTx) ListOrders(ctx context.Context, teamID string) ([]*models.Order, error) {
	return listOrders(ctx, t.tx, teamID)
}

func (t *sqliteTx) GetInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	return getInstance(ctx, t.tx, teamID, instanceID)
}

func (t *sqliteTx) ListInstancesForOrder(ctx context.Context, orderID string) ([]*models.OperationInstance, error) {
	return listInstancesForOrder(ctx, t.tx, orderID)
}

func (t *sqliteTx) GetRouting(ctx context.Context, teamID, routingID string) (*models.Routing, error) {
	return getRouting(ctx, t.tx, teamID, routingID)
}

func (t *sqliteTx) ListRoutings(ctx context.Context, teamID string) ([]*models.Routing, error) {
	return listRoutings(ctx, t.tx, teamID)
}

func (t *sqliteTx) GetPauseReason(ctx context.Context, teamID, reasonID string) (*models.PauseReason, error) {
	return getPauseReason(ctx, t.tx, teamID, reasonID)
}

func (t *sqliteTx) ListPauseReasons(ctx context.Context, teamID string) ([]*models.PauseReason, error) {
	return listPauseReasons(ctx, t.tx, teamID)
}

func (t *sqliteTx) GetOpenPauseEvent(ctx context.Context, instanceID string) (*models.PauseEvent, error) {
	return getOpenPauseEvent(ctx, t.tx, instanceID)
}

func (t *sqliteTx) ListPauseEvents(ctx context.Context, instanceID string) ([]*models.PauseEvent, error) {
	return listPauseEvents(ctx, t.tx, instanceID)
}

// --- Writer ---

func (t *sqliteTx) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, team_id, order_number, routing_id, quantity, priority, status,
		 scheduled_start, scheduled_end, actual_start, actual_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.TeamID, order.OrderNumber, order.RoutingID, order.Quantity,
		order.Priority, order.Status, toNanos(order.ScheduledStart), toNanos(order.ScheduledEnd),
		toNanos(order.ActualStart), toNanos(order.ActualEnd),
		order.CreatedAt.UnixNano(), order.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %q: %w", order.ID, err)
	}

	return nil
}

func (t *sqliteTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET order_number = ?, routing_id = ?, quantity = ?, priority = ?,
		 status = ?, scheduled_start = ?, scheduled_end = ?, actual_start = ?, actual_end = ?,
		 updated_at = ? WHERE id = ?`,
		order.OrderNumber, order.RoutingID, order.Quantity, order.Priority,
		order.Status, toNanos(order.ScheduledStart), toNanos(order.ScheduledEnd),
		toNanos(order.ActualStart), toNanos(order.ActualEnd),
		order.UpdatedAt.UnixNano(), order.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %q: %w", order.ID, err)
	}

	return requireRows(res)
}

func (t *sqliteTx) InsertInstances(ctx context.Context, instances []*models.OperationInstance) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO operation_instances (id, order_id, team_id, routing_operation_id,
		 operation_number, status, operator_id, actual_start_time, actual_end_time,
		 quantity_completed, quantity_rejected, captured_data, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare instance insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instances {
		captured, err := encodeJSON(inst.CapturedData)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			inst.ID, inst.OrderID, inst.TeamID, inst.RoutingOperationID, inst.OperationNumber,
			inst.Status, inst.OperatorID, toNanos(inst.ActualStartTime), toNanos(inst.ActualEndTime),
			inst.QuantityCompleted, inst.QuantityRejected, captured, inst.Notes,
			inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert instance %q: %w", inst.ID, err)
		}
	}

	return nil
}

func (t *sqliteTx) UpdateInstanceWhere(
	ctx context.Context,
	instanceID string,
	expected []models.InstanceStatus,
	mutate func(*models.OperationInstance),
) (*models.OperationInstance, error) {
	// The transaction serializes all writers, so read-check-write here is
	// atomic with respect to every other transaction.
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM operation_instances WHERE id = ?`, instanceID)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, err
	}

	if !statusIn(inst.Status, expected) {
		return nil, fmt.Errorf("instance %q is %s: %w", instanceID, inst.Status, standarderrors.ErrConflict)
	}

	mutate(inst)

	captured, err := encodeJSON(inst.CapturedData)
	if err != nil {
		return nil, err
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE operation_instances SET status = ?, operator_id = ?, actual_start_time = ?,
		 actual_end_time = ?, quantity_completed = ?, quantity_rejected = ?, captured_data = ?,
		 notes = ?, updated_at = ? WHERE id = ?`,
		inst.Status, inst.OperatorID, toNanos(inst.ActualStartTime), toNanos(inst.ActualEndTime),
		inst.QuantityCompleted, inst.QuantityRejected, captured, inst.Notes,
		inst.UpdatedAt.UnixNano(), inst.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance %q: %w", inst.ID, err)
	}
	if err := requireRows(res); err != nil {
		return nil, err
	}

	return inst, nil
}

func (t *sqliteTx) SetStatusForOperation(
	ctx context.Context,
	orderID string,
	operationNumber int,
	from []models.InstanceStatus,
	to models.InstanceStatus,
) (int, error) {
	if len(from) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := make([]any, 0, len(from)+4)
	args = append(args, to, time.Now().UnixNano(), orderID, operationNumber)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE operation_instances SET status = ?, updated_at = ?
		 WHERE order_id = ? AND operation_number = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed bulk status update for order %q: %w", orderID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func (t *sqliteTx) InsertRouting(ctx context.Context, routing *models.Routing) error {
	operations, err := encodeJSON(routing.Operations)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO routings (id, team_id, name, operations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		routing.ID, routing.TeamID, routing.Name, operations,
		routing.CreatedAt.UnixNano(), routing.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert routing %q: %w", routing.ID, err)
	}

	return nil
}

func (t *sqliteTx) InsertPauseReason(ctx context.Context, reason *models.PauseReason) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pause_reasons (id, team_id, name, category, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		reason.ID, reason.TeamID, reason.Name, reason.Category, reason.Active,
		reason.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pause reason %q: %w", reason.ID, err)
	}

	return nil
}

func (t *sqliteTx) UpdatePauseReason(ctx context.Context, reason *models.PauseReason) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE pause_reasons SET name = ?, category = ?, active = ? WHERE id = ?`,
		reason.Name, reason.Category, reason.Active, reason.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pause reason %q: %w", reason.ID, err)
	}

	return requireRows(res)
}

func (t *sqliteTx) InsertPauseEvent(ctx context.Context, event *models.PauseEvent) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pause_events (id, instance_id, pause_reason_id, start_time, end_time, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.InstanceID, event.PauseReasonID, event.StartTime.UnixNano(),
		toNanos(event.EndTime), event.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pause event %q: %w", event.ID, err)
	}

	return nil
}

func (t *sqliteTx) ClosePauseEvent(ctx context.Context, instanceID string, endTime time.Time) (*models.PauseEvent, error) {
	open, err := getOpenPauseEvent(ctx, t.tx, instanceID)
	if err != nil {
		return nil, err
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE pause_events SET end_time = ? WHERE id = ? AND end_time IS NULL`,
		endTime.UnixNano(), open.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to close pause event %q: %w", open.ID, err)
	}
	if err := requireRows(res); err != nil {
		return nil, err
	}

	end := endTime
	open.EndTime = &end

	return open, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return standarderrors.ErrNotFound
	}

	return nil
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
