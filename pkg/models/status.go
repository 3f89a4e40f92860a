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

// InstanceStatus is the lifecycle status of a single operation instance.
// Instances with an operation number greater than the order's current one
// are held in StatusWaiting until the sequential gate unlocks them.
type InstanceStatus string

const (
	StatusWaiting    InstanceStatus = "waiting"
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in_progress"
	StatusPaused     InstanceStatus = "paused"
	StatusCompleted  InstanceStatus = "completed"
	StatusCancelled  InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transition may be applied.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid reports whether s is one of the known instance statuses.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case StatusWaiting, StatusPending, StatusInProgress, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}

	return false
}

// OrderStatus is the aggregate status of a work order. It is always derived
// from the multiset of the order's instance statuses, never set directly,
// except on creation and cancellation.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusPaused     OrderStatus = "paused"
	OrderStatusWaiting    OrderStatus = "waiting"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)
