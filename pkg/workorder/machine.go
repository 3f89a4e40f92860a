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
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

// Lifecycle events of an operation instance.
const (
	// EventUnlock promotes a gated instance once all instances of the
	// previous operation number completed. Only the sequential gate and
	// the reconciliation routine raise it.
	EventUnlock = "unlock"
	// EventStart begins work on a pending instance.
	EventStart = "start"
	// EventPause interrupts an in-progress instance.
	EventPause = "pause"
	// EventResume continues a paused instance.
	EventResume = "resume"
	// EventComplete finishes an in-progress instance.
	EventComplete = "complete"
	// EventCancel is the administrative override, legal from every
	// non-terminal state. It never triggers gate promotion.
	EventCancel = "cancel"
)

// lifecycleEvents is the closed transition table of the instance state
// machine. Anything not listed here is an invalid transition; in
// particular no event except unlock and cancel applies to a waiting
// instance, which distinguishes "not yet unlocked" from "ready".
func lifecycleEvents() fsm.Events {
	return fsm.Events{
		{Name: EventUnlock, Src: []string{string(models.StatusWaiting)}, Dst: string(models.StatusPending)},
		{Name: EventStart, Src: []string{string(models.StatusPending)}, Dst: string(models.StatusInProgress)},
		{Name: EventPause, Src: []string{string(models.StatusInProgress)}, Dst: string(models.StatusPaused)},
		{Name: EventResume, Src: []string{string(models.StatusPaused)}, Dst: string(models.StatusInProgress)},
		{Name: EventComplete, Src: []string{string(models.StatusInProgress)}, Dst: string(models.StatusCompleted)},
		{Name: EventCancel, Src: []string{
			string(models.StatusWaiting),
			string(models.StatusPending),
			string(models.StatusInProgress),
			string(models.StatusPaused),
		}, Dst: string(models.StatusCancelled)},
	}
}

// newLifecycle builds a machine positioned at the given status.
func newLifecycle(current models.InstanceStatus) *fsm.FSM {
	return fsm.NewFSM(string(current), lifecycleEvents(), fsm.Callbacks{})
}

// Transition applies event to the current status and returns the status
// reached. An illegal event yields ErrInvalidState with the current
// status preserved.
func Transition(ctx context.Context, current models.InstanceStatus, event string) (models.InstanceStatus, error) {
	machine := newLifecycle(current)

	if err := machine.Event(ctx, event); err != nil {
		var invalidEvent fsm.InvalidEventError
		var unknownEvent fsm.UnknownEventError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) {
			return current, fmt.Errorf("cannot %s an instance that is %s: %w", event, current, standarderrors.ErrInvalidState)
		}

		return current, err
	}

	return models.InstanceStatus(machine.Current()), nil
}

// CanTransition reports whether event is legal from the current status.
func CanTransition(current models.InstanceStatus, event string) bool {
	return newLifecycle(current).Can(event)
}
