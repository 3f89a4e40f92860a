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

// Package pauseledger records the start and end of every pause on an
// operation instance and answers duration queries over them.
//
// The ledger guarantees the at-most-one-open-event invariant. Instance
// status transitions are the caller's responsibility; the ledger never
// touches instance rows.
package pauseledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

// Ledger opens, closes and sums pause events. All mutations go through a
// transaction supplied by the caller so they commit together with the
// instance status change that triggered them.
type Ledger struct {
	clock clock.Clock
}

// NewLedger creates a ledger. If c is nil, the system clock is used.
func NewLedger(c clock.Clock) *Ledger {
	if c == nil {
		c = clock.New()
	}

	return &Ledger{clock: c}
}

// OpenPause starts a new pause event for the instance. It fails with
// ErrInvalidState when an open pause already exists.
func (l *Ledger) OpenPause(ctx context.Context, tx persistence.Tx, instanceID, reasonID, notes string) (*models.PauseEvent, error) {
	_, err := tx.GetOpenPauseEvent(ctx, instanceID)
	if err == nil {
		return nil, fmt.Errorf("instance %q already has an open pause: %w", instanceID, standarderrors.ErrInvalidState)
	}
	if !errors.Is(err, standarderrors.ErrNotFound) {
		return nil, err
	}

	event := &models.PauseEvent{
		ID:            uuid.NewString(),
		InstanceID:    instanceID,
		PauseReasonID: reasonID,
		StartTime:     l.clock.Now(),
		Notes:         notes,
	}
	if err := tx.InsertPauseEvent(ctx, event); err != nil {
		return nil, err
	}

	return event, nil
}

// CloseOpenPause ends the instance's open pause event. It fails with
// ErrNoOpenPause when none exists.
func (l *Ledger) CloseOpenPause(ctx context.Context, tx persistence.Tx, instanceID string) (*models.PauseEvent, error) {
	event, err := tx.ClosePauseEvent(ctx, instanceID, l.clock.Now())
	if err != nil {
		if errors.Is(err, standarderrors.ErrNotFound) {
			return nil, fmt.Errorf("instance %q: %w", instanceID, standarderrors.ErrNoOpenPause)
		}

		return nil, err
	}

	return event, nil
}

// ClosedDuration sums the durations of all closed pause events of the
// instance.
func (l *Ledger) ClosedDuration(ctx context.Context, r persistence.Reader, instanceID string) (time.Duration, error) {
	events, err := r.ListPauseEvents(ctx, instanceID)
	if err != nil {
		return 0, err
	}

	var total time.Duration
	for _, e := range events {
		if e.IsOpen() {
			continue
		}
		total += e.Duration(time.Time{})
	}

	return total, nil
}

// OpenDuration returns the running duration of the currently open pause
// event as of the given time, or zero if none is open.
func (l *Ledger) OpenDuration(ctx context.Context, r persistence.Reader, instanceID string, asOf time.Time) (time.Duration, error) {
	event, err := r.GetOpenPauseEvent(ctx, instanceID)
	if err != nil {
		if errors.Is(err, standarderrors.ErrNotFound) {
			return 0, nil
		}

		return 0, err
	}

	return event.Duration(asOf), nil
}
