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

package models

import (
	"time"
)

// Order is a production request for a quantity of a product, following a
// routing. It owns one operation instance per routing operation.
type Order struct {
	ID             string      `json:"id"`
	TeamID         string      `json:"teamId"`
	OrderNumber    string      `json:"orderNumber"`
	RoutingID      string      `json:"routingId"`
	Quantity       int         `json:"quantity"`
	Priority       int         `json:"priority"`
	Status         OrderStatus `json:"status"`
	ScheduledStart *time.Time  `json:"scheduledStartDate,omitempty"`
	ScheduledEnd   *time.Time  `json:"scheduledEndDate,omitempty"`
	ActualStart    *time.Time  `json:"actualStartDate,omitempty"`
	ActualEnd      *time.Time  `json:"actualEndDate,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Routing is an ordered template of operations a product passes through.
// It is immutable once referenced by orders, except for administrative
// edits; versioning is by convention only.
type Routing struct {
	ID         string             `json:"id"`
	TeamID     string             `json:"teamId"`
	Name       string             `json:"name"`
	Operations []RoutingOperation `json:"operations"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// RoutingOperation is one template step of a routing. OperationNumber
// defines the sequence; gaps (10, 20, 30) are allowed.
type RoutingOperation struct {
	ID              string        `json:"id"`
	OperationNumber int           `json:"operationNumber"`
	Name            string        `json:"name"`
	SetupTime       time.Duration `json:"setupTime,omitempty"`
	RunTimePerUnit  time.Duration `json:"runTimePerUnit,omitempty"`
	Department      string        `json:"department,omitempty"`
}

// OperationInstance is the stateful, trackable occurrence of a routing
// operation for a specific order. It is the unit the lifecycle engine
// manipulates; it is never deleted, cancellation is terminal.
type OperationInstance struct {
	ID                 string         `json:"id"`
	OrderID            string         `json:"orderId"`
	TeamID             string         `json:"teamId"`
	RoutingOperationID string         `json:"routingOperationId"`
	OperationNumber    int            `json:"operationNumber"`
	Status             InstanceStatus `json:"status"`
	OperatorID         string         `json:"operatorId,omitempty"`
	ActualStartTime    *time.Time     `json:"actualStartTime,omitempty"`
	ActualEndTime      *time.Time     `json:"actualEndTime,omitempty"`
	QuantityCompleted  int            `json:"quantityCompleted"`
	QuantityRejected   int            `json:"quantityRejected"`
	CapturedData       map[string]any `json:"capturedData,omitempty"`
	Notes              string         `json:"notes,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// PauseEvent records one interval during which an operation instance was
// not actively worked. At most one pause event per instance may be open
// (EndTime == nil) at any time. Closed events are never mutated.
type PauseEvent struct {
	ID            string     `json:"id"`
	InstanceID    string     `json:"instanceId"`
	PauseReasonID string     `json:"pauseReasonId"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// IsOpen reports whether the pause is still running.
func (p *PauseEvent) IsOpen() bool {
	return p.EndTime == nil
}

// Duration returns the length of the pause. For an open event the length
// is measured up to asOf.
func (p *PauseEvent) Duration(asOf time.Time) time.Duration {
	end := asOf
	if p.EndTime != nil {
		end = *p.EndTime
	}

	d := end.Sub(p.StartTime)
	if d < 0 {
		return 0
	}

	return d
}

// PauseReason is a team-scoped catalog entry. Pure reference data; the
// engine validates existence only at the API boundary.
type PauseReason struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
