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

// Package distributed abstracts the process-group runtime that keeps a fleet of
// training workers in lock-step.
//
// The orchestration needs very little from the runtime: rank queries and one
// blocking collective, AllReduce. Every member of a Group must call the same
// collectives, the same number of times, in the same order -- otherwise the
// fleet deadlocks. The train package is written so that its control flow is
// identical on every worker at every iteration; implementations of Group only
// have to provide the transport.
//
// LocalFleet (see local.go) is a complete in-process implementation used by
// tests and the demo binary. Production deployments inject an implementation
// backed by their actual collective-communication transport.
package distributed

import "github.com/pkg/errors"

// ReduceOp is the combining operation of an AllReduce.
type ReduceOp int

const (
	// ReduceSum adds the contributions element-wise.
	ReduceSum ReduceOp = iota

	// ReduceMax takes the element-wise maximum. Over {0, 1} encoded booleans
	// this is a logical OR, which is how fleet-wide consensus flags are built.
	ReduceMax
)

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	switch op {
	case ReduceSum:
		return "ReduceSum"
	case ReduceMax:
		return "ReduceMax"
	}
	return "ReduceOp(?)"
}

// Group is one worker's handle to its process group.
//
// AllReduce runs over every member of this group; for pipelined deployments
// the group injected into a train.Trainer must be the one all its collective
// traffic should run on (typically the data-parallel group).
type Group interface {
	// Rank of this worker within the group, in [0, WorldSize).
	Rank() int

	// WorldSize is the number of workers in the group.
	WorldSize() int

	// IsLastRank reports whether this worker is the group's last rank. Some
	// diagnostic collection runs only there.
	IsLastRank() bool

	// IsPipelineLastStage reports whether this worker's pipeline stage
	// produces the final loss. Only such workers accumulate metrics.
	IsPipelineLastStage() bool

	// AllReduce combines values element-wise across all members of the group
	// and returns the shared result. It blocks until every member has called
	// it with a vector of the same length and the same op.
	AllReduce(values []float64, op ReduceOp) ([]float64, error)
}

// AllReduceOr reduces a locally computed boolean across the group with a
// logical OR: the result is true on every worker iff it was true on any
// worker. This is the consensus primitive for "any locally observable stop
// condition that must be agreed upon fleet-wide before acting".
func AllReduceOr(g Group, local bool) (bool, error) {
	flag := []float64{0}
	if local {
		flag[0] = 1
	}
	reduced, err := g.AllReduce(flag, ReduceMax)
	if err != nil {
		return false, errors.WithMessage(err, "AllReduceOr")
	}
	return reduced[0] > 0, nil
}
