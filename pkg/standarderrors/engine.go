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

package standarderrors

import "errors"

var (
	// ErrInvalidState is returned when a transition is attempted from a
	// status that does not permit it. This covers "already started",
	// "not paused", "not in progress" and "not yet unlocked".
	ErrInvalidState = errors.New("transition not permitted from current status")

	// ErrNoOpenPause is returned by resume when the instance has no open
	// pause event to close.
	ErrNoOpenPause = errors.New("no open pause event")

	// ErrNotFound is returned when an entity does not exist or is outside
	// the caller's team scope.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by the store when a conditional write lost
	// a race: the row's status no longer matches the expected set.
	// Callers surface it as ErrInvalidState at the engine boundary.
	ErrConflict = errors.New("conditional update conflict")

	// ErrBusy is returned when the per-order lock could not be acquired
	// after the keyed mutex's backoff attempts. Retryable by the caller.
	ErrBusy = errors.New("order is busy, retry")
)
