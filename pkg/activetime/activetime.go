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

// Package activetime derives the productive wall-clock time of an
// operation instance, net of pauses.
package activetime

import (
	"time"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
)

// ActiveSeconds returns the productive seconds of the instance as of now.
//
// The calculation is pure and callable at any point of an instance's life,
// including mid-pause and after completion. Once the instance has an
// actual end time and no open pause, the result is frozen: it no longer
// depends on now.
//
//	end    = actualEndTime, or now while still running
//	raw    = end - actualStartTime (zero if never started)
//	paused = closed pause durations, plus the open one while paused
//	result = max(0, raw - paused)
func ActiveSeconds(inst *models.OperationInstance, closedPaused, openPaused time.Duration, now time.Time) int64 {
	if inst.ActualStartTime == nil {
		return 0
	}

	end := now
	if inst.ActualEndTime != nil {
		end = *inst.ActualEndTime
	}

	raw := end.Sub(*inst.ActualStartTime)

	paused := closedPaused
	if inst.Status == models.StatusPaused {
		paused += openPaused
	}

	active := raw - paused
	if active < 0 {
		return 0
	}

	return int64(active / time.Second)
}
