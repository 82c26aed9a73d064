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

import (
	"io"

	"github.com/gomlx/fleettrain/engine"
	"github.com/pkg/errors"
)

// cyclicIterator turns a finite-or-infinite Dataset into an endless stream of
// batches, restarting the dataset at each exhaustion and counting epochs.
//
// The epoch counter only advances while the run context is in training mode:
// an evaluation sub-loop pulling from a cyclic iterator restarts the dataset
// silently, without consuming an epoch or tripping the MaxEpochs bound.
//
// Once the epoch bound is reached the iterator is terminal: Next returns
// io.EOF from then on, and the step interceptor converts that into the
// canonical skipped step.
type cyclicIterator struct {
	ds        Dataset
	run       *RunContext
	maxEpochs int

	terminal bool

	// onEpochEnd is called at each epoch boundary (while training) with the
	// number of completed epochs.
	onEpochEnd func(completedEpochs int)
}

// Compile-time check: the cyclic iterator is the engine's data-fetch boundary.
var _ engine.BatchIterator = (*cyclicIterator)(nil)

func newCyclicIterator(ds Dataset, run *RunContext, maxEpochs int, onEpochEnd func(int)) *cyclicIterator {
	return &cyclicIterator{
		ds:         ds,
		run:        run,
		maxEpochs:  maxEpochs,
		onEpochEnd: onEpochEnd,
	}
}

// Next implements engine.BatchIterator.
func (it *cyclicIterator) Next() (any, error) {
	if it.terminal {
		return nil, io.EOF
	}
	for {
		batch, err := it.ds.Yield()
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, errors.WithMessagef(err, "reading from dataset %q", it.ds.Name())
		}

		// One pass over the underlying dataset completed.
		if it.run.IsTraining() {
			it.run.epoch++
			if it.onEpochEnd != nil {
				it.onEpochEnd(it.run.epoch)
			}
			if it.maxEpochs > 0 && it.run.epoch >= it.maxEpochs {
				it.terminal = true
				return nil, io.EOF
			}
		}
		it.ds.Reset()
	}
}

// Epoch returns the number of completed training epochs.
func (it *cyclicIterator) Epoch() int { return it.run.epoch }
