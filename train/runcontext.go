/*
 *	Copyright 2025 The FleetTrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package train

import "time"

// RunContext is the per-worker state of one training run: whether a training
// step is currently executing, the current epoch, and when the run started.
//
// It replaces what would otherwise be process-wide mutable flags: there is
// exactly one RunContext per Trainer, it is passed by reference to the parts
// that need it, and the training flag is only ever flipped through scoped
// helpers that guarantee restoration (see swapValue). Within one worker no
// training and evaluation run concurrently, so RunContext needs no locking.
type RunContext struct {
	// isTraining is set for the duration of a training step and cleared
	// otherwise. The cyclic iterator only advances epochs while it is set, so
	// evaluation sub-loops never consume an epoch.
	isTraining bool

	// epoch is the current epoch index, starting at 0.
	epoch int

	// startTime of the run, the reference point for the evaluation loop's
	// wall-clock budget.
	startTime time.Time
}

// IsTraining reports whether a training step is currently executing.
func (rc *RunContext) IsTraining() bool { return rc.isTraining }

// Epoch returns the current epoch index.
func (rc *RunContext) Epoch() int { return rc.epoch }

// StartTime returns when the run started.
func (rc *RunContext) StartTime() time.Time { return rc.startTime }

// reset prepares the context for a fresh run.
func (rc *RunContext) reset(now time.Time) {
	rc.isTraining = false
	rc.epoch = 0
	rc.startTime = now
}

// swapValue sets *ptr to value and returns a function restoring the previous
// value. Meant to be paired with defer, so the restoration runs on every exit
// path, normal return or propagated failure:
//
//	defer swapValue(&rc.isTraining, true)()
func swapValue[T any](ptr *T, value T) (restore func()) {
	previous := *ptr
	*ptr = value
	return func() { *ptr = previous }
}
