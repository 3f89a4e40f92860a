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

// Package sqlitestore implements the persistence contract on SQLite.
//
// The database runs in WAL mode with a single connection, so writes
// serialize and every transaction is atomic with respect to all others.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	team_id         TEXT NOT NULL,
	order_number    TEXT NOT NULL,
	routing_id      TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	scheduled_start INTEGER,
	scheduled_end   INTEGER,
	actual_start    INTEGER,
	actual_end      INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_team ON orders(team_id);

CREATE TABLE IF NOT EXISTS routings (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	operations TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routings_team ON routings(team_id);

CREATE TABLE IF NOT EXISTS operation_instances (
	id                   TEXT PRIMARY KEY,
	order_id             TEXT NOT NULL,
	team_id              TEXT NOT NULL,
	routing_operation_id TEXT NOT NULL,
	operation_number     INTEGER NOT NULL,
	status               TEXT NOT NULL,
	operator_id          TEXT NOT NULL DEFAULT '',
	actual_start_time    INTEGER,
	actual_end_time      INTEGER,
	quantity_completed   INTEGER NOT NULL DEFAULT 0,
	quantity_rejected    INTEGER NOT NULL DEFAULT 0,
	captured_data        TEXT NOT NULL DEFAULT '{}',
	notes                TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_order ON operation_instances(order_id, operation_number);

CREATE TABLE IF NOT EXISTS pause_events (
	id              TEXT PRIMARY KEY,
	instance_id     TEXT NOT NULL,
	pause_reason_id TEXT NOT NULL,
	start_time      INTEGER NOT NULL,
	end_time        INTEGER,
	notes           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pause_events_instance ON pause_events(instance_id);
-- at most one open pause per instance, enforced at the storage level too
CREATE UNIQUE INDEX IF NOT EXISTS idx_pause_events_open ON pause_events(instance_id) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS pause_reasons (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pause_reasons_team ON pause_reasons(team_id);
`

// Store is the SQLite-backed implementation of persistence.Store.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	connStr := buildConnectionString(dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	return dbPath + "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_cache_size=-64000"
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// BeginTx starts an immediate transaction so the write lock is taken up
// front and precondition checks cannot race a concurrent writer.
func (s *Store) BeginTx(ctx context.Context) (persistence.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the read queries are
// written once.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- time and JSON column helpers ---

func toNanos(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)

	return &t
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}

	return string(b), nil
}

// --- Reader (store-level) ---

func (s *Store) GetOrder(ctx context.Context, teamID, orderID string) (*models.Order, error) {
	return getOrder(ctx, s.db, teamID, orderID)
}

func (s *Store) ListOrders(ctx context.Context, teamID string) ([]*models.Order, error) {
	return listOrders(ctx, s.db, teamID)
}

func (s *Store) GetInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	return getInstance(ctx, s.db, teamID, instanceID)
}

func (s *Store) ListInstancesForOrder(ctx context.Context, orderID string) ([]*models.OperationInstance, error) {
	return listInstancesForOrder(ctx, s.db, orderID)
}

func (s *Store) GetRouting(ctx context.Context, teamID, routingID string) (*models.Routing, error) {
	return getRouting(ctx, s.db, teamID, routingID)
}

func (s *Store) ListRoutings(ctx context.Context, teamID string) ([]*models.Routing, error) {
	return listRoutings(ctx, s.db, teamID)
}

func (s *Store) GetPauseReason(ctx context.Context, teamID, reasonID string) (*models.PauseReason, error) {
	return getPauseReason(ctx, s.db, teamID, reasonID)
}

func (s *Store) ListPauseReasons(ctx context.Context, teamID string) ([]*models.PauseReason, error) {
	return listPauseReasons(ctx, s.db, teamID)
}

func (s *Store) GetOpenPauseEvent(ctx context.Context, instanceID string) (*models.PauseEvent, error) {
	return getOpenPauseEvent(ctx, s.db, instanceID)
}

func (s *Store) ListPauseEvents(ctx context.Context, instanceID string) ([]*models.PauseEvent, error) {
	return listPauseEvents(ctx, s.db, instanceID)
}

// --- shared read queries ---

const orderColumns = `id, team_id, order_number, routing_id, quantity, priority, status,
	scheduled_start, scheduled_end, actual_start, actual_end, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var (
		o                                      models.Order
		schedStart, schedEnd, actStart, actEnd sql.NullInt64
		createdAt, updatedAt                   int64
	)
	err := row.Scan(
		&o.ID, &o.TeamID, &o.OrderNumber, &o.RoutingID, &o.Quantity, &o.Priority, &o.Status,
		&schedStart, &schedEnd, &actStart, &actEnd, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, standarderrors.ErrNotFound
		}

		return nil, err
	}

	o.ScheduledStart = fromNanos(schedStart)
	o.ScheduledEnd = fromNanos(schedEnd)
	o.ActualStart = fromNanos(actStart)
	o.ActualEnd = fromNanos(actEnd)
	o.CreatedAt = time.Unix(0, createdAt)
	o.UpdatedAt = time.Unix(0, updatedAt)

	return &o, nil
}

func getOrder(ctx context.Context, q querier, teamID, orderID string) (*models.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? AND team_id = ?`, orderID, teamID)

	return scanOrder(row)
}

func listOrders(ctx context.Context, q querier, teamID string) ([]*models.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE team_id = ? ORDER BY created_at`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}

	return out, rows.Err()
}

const instanceColumns = `id, order_id, team_id, routing_operation_id, operation_number, status,
	operator_id, actual_start_time, actual_end_time, quantity_completed, quantity_rejected,
	captured_data, notes, created_at, updated_at`

func scanInstance(row interface{ Scan(...any) error }) (*models.OperationInstance, error) {
	var (
		inst                 models.OperationInstance
		startTime, endTime   sql.NullInt64
		capturedData         string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&inst.ID, &inst.OrderID, &inst.TeamID, &inst.RoutingOperationID, &inst.OperationNumber,
		&inst.Status, &inst.OperatorID, &startTime, &endTime, &inst.QuantityCompleted,
		&inst.QuantityRejected, &capturedData, &inst.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, standarderrors.ErrNotFound
		}

		return nil, err
	}

	inst.ActualStartTime = fromNanos(startTime)
	inst.ActualEndTime = fromNanos(endTime)
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)

	if capturedData != "" && capturedData != "{}" {
		if err := json.Unmarshal([]byte(capturedData), &inst.CapturedData); err != nil {
			return nil, fmt.Errorf("failed to decode captured data of instance %q: %w", inst.ID, err)
		}
	}

	return &inst, nil
}

func getInstance(ctx context.Context, q querier, teamID, instanceID string) (*models.OperationInstance, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM operation_instances WHERE id = ? AND team_id = ?`,
		instanceID, teamID)

	return scanInstance(row)
}

func listInstancesForOrder(ctx context.Context, q querier, orderID string) ([]*models.OperationInstance, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM operation_instances
		 WHERE order_id = ? ORDER BY operation_number, created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.OperationInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}

	return out, rows.Err()
}

func getRouting(ctx context.Context, q querier, teamID, routingID string) (*models.Routing, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, team_id, name, operations, created_at, updated_at
		 FROM routings WHERE id = ? AND team_id = ?`, routingID, teamID)

	return scanRouting(row)
}

func scanRouting(row interface{ Scan(...any) error }) (*models.Routing, error) {
	var (
		r                    models.Routing
		operations           string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.TeamID, &r.Name, &operations, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, standarderrors.ErrNotFound
		}

		return nil, err
	}

	if err := json.Unmarshal([]byte(operations), &r.Operations); err != nil {
		return nil, fmt.Errorf("failed to decode operations of routing %q: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, createdAt)
	r.UpdatedAt = time.Unix(0, updatedAt)

	return &r, nil
}

func listRoutings(ctx context.Context, q querier, teamID string) ([]*models.Routing, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, team_id, name, operations, created_at, updated_at
		 FROM routings WHERE team_id = ? ORDER BY created_at`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Routing, 0)
	for rows.Next() {
		r, err := scanRouting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func getPauseReason(ctx context.Context, q querier, teamID, reasonID string) (*models.PauseReason, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, team_id, name, category, active, created_at
		 FROM pause_reasons WHERE id = ? AND team_id = ?`, reasonID, teamID)

	return scanPauseReason(row)
}

func scanPauseReason(row interface{ Scan(...any) error }) (*models.PauseReason, error) {
	var (
		r         models.PauseReason
		createdAt int64
	)
	if err := row.Scan(&r.ID, &r.TeamID, &r.Name, &r.Category, &r.Active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, standarderrors.ErrNotFound
		}

		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt)

	return &r, nil
}

func listPauseReasons(ctx context.Context, q querier, teamID string) ([]*models.PauseReason, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, team_id, name, category, active, created_at
		 FROM pause_reasons WHERE team_id = ? ORDER BY created_at`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.PauseReason, 0)
	for rows.Next() {
		r, err := scanPauseReason(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func scanPauseEvent(row interface{ Scan(...any) error }) (*models.PauseEvent, error) {
	var (
		p         models.PauseEvent
		startTime int64
		endTime   sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.InstanceID, &p.PauseReasonID, &startTime, &endTime, &p.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, standarderrors.ErrNotFound
		}

		return nil, err
	}
	p.StartTime = time.Unix(0, startTime)
	p.EndTime = fromNanos(endTime)

	return &p, nil
}

func getOpenPauseEvent(ctx context.Context, q querier, instanceID string) (*models.PauseEvent, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, instance_id, pause_reason_id, start_time, end_time, notes
		 FROM pause_events WHERE instance_id = ? AND end_time IS NULL`, instanceID)

	return scanPauseEvent(row)
}

func listPauseEvents(ctx context.Context, q querier, instanceID string) ([]*models.PauseEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, instance_id, pause_reason_id, start_time, end_time, notes
		 FROM pause_events WHERE instance_id = ? ORDER BY start_time`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.PauseEvent, 0)
	for rows.Next() {
		p, err := scanPauseEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, rows.Err()
}
