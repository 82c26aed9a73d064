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

package distributed

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// LocalFleet is an in-process Group implementation: a fixed number of workers,
// one goroutine each, connected by a shared reduction barrier.
//
// It models a pure data-parallel fleet -- there is no pipeline dimension, so
// every rank is on the final pipeline stage. It is meant for tests and local
// simulation; it makes the collective-ordering requirements of Group real
// (a missing or extra AllReduce call on one worker blocks the others), which
// is exactly what one wants when testing lock-step control flow.
type LocalFleet struct {
	size int

	mu   sync.Mutex
	cond *sync.Cond

	// One reduction round in flight at a time; generation numbers the rounds.
	generation int
	arrived    int
	op         ReduceOp
	acc        []float64
	result     []float64
}

// NewLocalFleet creates an in-process fleet with the given number of workers.
func NewLocalFleet(numWorkers int) *LocalFleet {
	if numWorkers <= 0 {
		exceptions.Panicf("distributed.NewLocalFleet: numWorkers must be positive, got %d", numWorkers)
	}
	f := &LocalFleet{size: numWorkers}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Group returns the Group handle for the given rank. Each rank must be used by
// at most one goroutine at a time.
func (f *LocalFleet) Group(rank int) Group {
	if rank < 0 || rank >= f.size {
		exceptions.Panicf("distributed.LocalFleet.Group: rank %d out of range [0, %d)", rank, f.size)
	}
	return &localGroup{fleet: f, rank: rank}
}

// localGroup is one worker's handle into a LocalFleet.
type localGroup struct {
	fleet *LocalFleet
	rank  int
}

// Compile-time check.
var _ Group = (*localGroup)(nil)

func (g *localGroup) Rank() int                 { return g.rank }
func (g *localGroup) WorldSize() int            { return g.fleet.size }
func (g *localGroup) IsLastRank() bool          { return g.rank == g.fleet.size-1 }
func (g *localGroup) IsPipelineLastStage() bool { return true }

// AllReduce implements Group. It blocks until all workers of the fleet have
// contributed to the current round.
func (g *localGroup) AllReduce(values []float64, op ReduceOp) ([]float64, error) {
	f := g.fleet
	f.mu.Lock()
	defer f.mu.Unlock()

	gen := f.generation
	if f.arrived == 0 {
		f.op = op
		f.acc = make([]float64, len(values))
		copy(f.acc, values)
	} else {
		if op != f.op {
			return nil, errors.Errorf(
				"LocalFleet.AllReduce: rank %d called with op %s while the round in flight uses %s -- "+
					"collective calls diverged across workers", g.rank, op, f.op)
		}
		if len(values) != len(f.acc) {
			return nil, errors.Errorf(
				"LocalFleet.AllReduce: rank %d contributed %d values to a round of %d -- "+
					"collective calls diverged across workers", g.rank, len(values), len(f.acc))
		}
		for i, v := range values {
			switch op {
			case ReduceSum:
				f.acc[i] += v
			case ReduceMax:
				f.acc[i] = max(f.acc[i], v)
			}
		}
	}
	f.arrived++

	if f.arrived == f.size {
		// Last one in closes the round.
		f.result = f.acc
		f.acc = nil
		f.arrived = 0
		f.generation++
		f.cond.Broadcast()
	} else {
		for f.generation == gen {
			f.cond.Wait()
		}
	}

	out := make([]float64, len(f.result))
	copy(out, f.result)
	return out, nil
}
