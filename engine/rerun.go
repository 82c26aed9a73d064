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

package engine

// RerunMode selects whether the engine re-executes steps to validate the
// numerical reproducibility of its results.
type RerunMode int

const (
	// RerunValidateResults re-executes steps and compares results.
	RerunValidateResults RerunMode = iota

	// RerunReportStats re-executes steps and only reports determinism statistics.
	RerunReportStats

	// RerunDisabled turns result re-execution off. The evaluation loop forces
	// this mode for its duration, since replaying forward-only passes would
	// double the evaluation cost for no benefit.
	RerunDisabled
)

// String implements fmt.Stringer.
func (m RerunMode) String() string {
	switch m {
	case RerunValidateResults:
		return "RerunValidateResults"
	case RerunReportStats:
		return "RerunReportStats"
	case RerunDisabled:
		return "RerunDisabled"
	}
	return "RerunMode(?)"
}

// RerunStateMachine is the engine's result-rerun controller. The orchestration
// only ever reads the current mode, sets RerunDisabled, and restores what it
// found -- on every exit path.
type RerunStateMachine interface {
	Mode() RerunMode
	SetMode(mode RerunMode)
}

// rerunToggle is a plain in-memory RerunStateMachine, for engines that have no
// rerun machinery of their own.
type rerunToggle struct {
	mode RerunMode
}

// NewRerunToggle returns an in-memory RerunStateMachine starting at the given
// mode.
func NewRerunToggle(mode RerunMode) RerunStateMachine {
	return &rerunToggle{mode: mode}
}

func (r *rerunToggle) Mode() RerunMode        { return r.mode }
func (r *rerunToggle) SetMode(mode RerunMode) { r.mode = mode }
