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

// Package memory provides an in-memory implementation of the persistence
// contract. It is the default backend for tests and single-process
// development setups.
//
// Transactions take the store's write lock for their whole lifetime, so
// there is exactly one writer at any time and every transaction observes
// a consistent snapshot. That is the same single-writer discipline the
// SQLite backend gets from WAL mode with one connection.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

// InMemoryStore holds all entities in maps keyed by id. All returned
// entities are deep copies; external mutation never leaks into the store.
//
// Single-process only. For production deployments use the sqlitestore
// backend.
type InMemoryStore struct {
	mu sync.RWMutex

	orders    map[string]*models.Order
	instances map[string]*models.OperationInstance
	routings  map[string]*models.Routing
	reasons   map[string]*models.PauseReason
	pauses    map[string]*models.PauseEvent
}

// NewInMemoryStore creates a new empty in-memory store, ready for use.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:    make(map[string]*models.Order),
		instances: make(map[string]*models.OperationInstance),
		routings:  make(map[string]*models.Routing),
		reasons:   make(map[string]*models.PauseReason),
		pauses:    make(map[string]*models.PauseEvent),
	}
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

func copyOf[T any](src *T) *T {
	var dst T
	// deepcopy only fails on unsupported kinds; our models are plain data.
	_ = deepcopy.Copy(&dst, src)

	return &dst
}

// state is everything a transaction can touch, bundled so that snapshot
// and restore stay in one place.
type state struct {
	orders    map[string]*models.Order
	instances map[string]*models.OperationInstance
	routings  map[string]*models.Routing
	reasons   map[string]*models.PauseReason
	pauses    map[string]*models.PauseEvent
}

func (s *InMemoryStore) snapshot() *state {
	snap := &state{
		orders:    make(map[string]*models.Order, len(s.orders)),
		instances: make(map[string]*models.OperationInstance, len(s.instances)),
		routings:  make(map[string]*models.Routing, len(s.routings)),
		reasons:   make(map[string]*models.PauseReason, len(s.reasons)),
		pauses:    make(map[string]*models.PauseEvent, len(s.pauses)),
	}
	for id, o := range s.orders {
		snap.orders[id] = copyOf(o)
	}
	for id, i := range s.instances {
		snap.instances[id] = copyOf(i)
	}
	for id, r := range s.routings {
		snap.routings[id] = copyOf(r)
	}
	for id, r := range s.reasons {
		snap.reasons[id] = copyOf(r)
	}
	for id, p := range s.pauses {
		snap.pauses[id] = copyOf(p)
	}

	return snap
}

func (s *InMemoryStore) restore(snap *state) {
	s.orders = snap.orders
	s.instances = snap.instances
	s.routings = snap.routings
	s.reasons = snap.reasons
	s.pauses = snap.pauses
}

// --- Reader (store-level, read lock) ---

func (s *InMemoryStore) GetOrder(ctx context.Context, teamID, orderID string) (*models.Order, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getOrder(s.orders, teamID, orderID)
}

func (s *InMemoryStore) ListOrders(ctx context.Context, teamID string) ([]*models.Order, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return listOrders(s.orders, teamID), nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, teamID, instanceID string) (*models.OperationInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getInstance(s.instances, teamID, instanceID)
}

func (s *InMemoryStore) ListInstancesForOrder(ctx context.Context, orderID string) ([]*models.OperationInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return listInstancesForOrder(s.instances, orderID), nil
}

func (s *InMemoryStore) GetRouting(ctx context.Context, teamID, routingID string) (*models.Routing, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRouting(s.routings, teamID, routingID)
}

func (s *InMemoryStore) ListRoutings(ctx context.Context, teamID string) ([]*models.Routing, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return listRoutings(s.routings, teamID), nil
}

func (s *InMemoryStore) GetPauseReason(ctx context.Context, teamID, reasonID string) (*models.PauseReason, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getPauseReason(s.reasons, teamID, reasonID)
}

func (s *InMemoryStore) ListPauseReasons(ctx context.Context, teamID string) ([]*models.PauseReason, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return listPauseReasons(s.reasons, teamID), nil
}

func (s *InMemoryStore) GetOpenPauseEvent(ctx context.Context, instanceID string) (*models.PauseEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getOpenPauseEvent(s.pauses, instanceID)
}

func (s *InMemoryStore) ListPauseEvents(ctx context.Context, instanceID string) ([]*models.PauseEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return listPauseEvents(s.pauses, instanceID), nil
}

// BeginTx starts a transaction. The store's write lock is held until the
// transaction is committed or rolled back, so transactions serialize.
func (s *InMemoryStore) BeginTx(ctx context.Context) (persistence.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()

	return &inMemoryTx{
		store: s,
		undo:  s.snapshot(),
	}, nil
}

// Ping reports the store as alive.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return validateContext(ctx)
}

// Close releases all data.
func (s *InMemoryStore) Close(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = nil
	s.instances = nil
	s.routings = nil
	s.reasons = nil
	s.pauses = nil

	return nil
}

// --- shared read helpers (caller must hold a lock) ---

func getOrder(orders map[string]*models.Order, teamID, orderID string) (*models.Order, error) {
	o, ok := orders[orderID]
	if !ok || (teamID != "" && o.TeamID != teamID) {
		return nil, standarderrors.ErrNotFound
	}

	return copyOf(o), nil
}

func listOrders(orders map[string]*models.Order, teamID string) []*models.Order {
	out := make([]*models.Order, 0)
	for _, o := range orders {
		if teamID == "" || o.TeamID == teamID {
			out = append(out, copyOf(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

func getInstance(instances map[string]*models.OperationInstance, teamID, instanceID string) (*models.OperationInstance, error) {
	inst, ok := instances[instanceID]
	if !ok || (teamID != "" && inst.TeamID != teamID) {
		return nil, standarderrors.ErrNotFound
	}

	return copyOf(inst), nil
}

func listInstancesForOrder(instances map[string]*models.OperationInstance, orderID string) []*models.OperationInstance {
	out := make([]*models.OperationInstance, 0)
	for _, inst := range instances {
		if inst.OrderID == orderID {
			out = append(out, copyOf(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OperationNumber != out[j].OperationNumber {
			return out[i].OperationNumber < out[j].OperationNumber
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

func getRouting(routings map[string]*models.Routing, teamID, routingID string) (*models.Routing, error) {
	r, ok := routings[routingID]
	if !ok || (teamID != "" && r.TeamID != teamID) {
		return nil, standarderrors.ErrNotFound
	}

	return copyOf(r), nil
}

func listRoutings(routings map[string]*models.Routing, teamID string) []*models.Routing {
	out := make([]*models.Routing, 0)
	for _, r := range routings {
		if teamID == "" || r.TeamID == teamID {
			out = append(out, copyOf(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

func getPauseReason(reasons map[string]*models.PauseReason, teamID, reasonID string) (*models.PauseReason, error) {
	r, ok := reasons[reasonID]
	if !ok || (teamID != "" && r.TeamID != teamID) {
		return nil, standarderrors.ErrNotFound
	}

	return copyOf(r), nil
}

func listPauseReasons(reasons map[string]*models.PauseReason, teamID string) []*models.PauseReason {
	out := make([]*models.PauseReason, 0)
	for _, r := range reasons {
		if teamID == "" || r.TeamID == teamID {
			out = append(out, copyOf(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

func getOpenPauseEvent(pauses map[string]*models.PauseEvent, instanceID string) (*models.PauseEvent, error) {
	for _, p := range pauses {
		if p.InstanceID == instanceID && p.IsOpen() {
			return copyOf(p), nil
		}
	}

	return nil, standarderrors.ErrNotFound
}

func listPauseEvents(pauses map[string]*models.PauseEvent, instanceID string) []*models.PauseEvent {
	out := make([]*models.PauseEvent, 0)
	for _, p := range pauses {
		if p.InstanceID == instanceID {
			out = append(out, copyOf(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })

	return out
}
