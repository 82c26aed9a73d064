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
	"time"

	"github.com/pkg/errors"
)

// ErrConfig is the cause of all configuration errors. They are raised before
// any collective call is made, so no worker is left blocking on a fleet that
// never starts. Check with errors.Is(err, train.ErrConfig).
var ErrConfig = errors.New("invalid trainer configuration")

// Config carries the run configuration of a Trainer. It is read-only during
// the run.
type Config struct {
	// MaxEpochs bounds how many full passes over the training dataset the
	// cyclic iterator will produce. 0 means unbounded: the iterator restarts
	// the dataset indefinitely and only TrainIters bounds the run.
	MaxEpochs int

	// TrainIters is the total number of training steps. 0 means derive it
	// from the training dataset length, MaxEpochs and the batch geometry --
	// which requires a SizedDataset and MaxEpochs > 0.
	//
	// TrainIters and MaxEpochs are enforced independently: TrainIters bounds
	// how many steps the orchestrator requests, MaxEpochs bounds when the
	// cyclic iterator refuses to produce more data. Whichever is reached
	// first stops the run.
	TrainIters int

	// EvalIters is the number of iterations of one evaluation call. 0 means
	// derive it from the evaluation dataset length, which requires a
	// SizedDataset.
	EvalIters int

	// MicroBatchSize is the number of samples in one micro-batch, the unit
	// yielded by a Dataset and consumed by one engine forward/backward call.
	MicroBatchSize int

	// GlobalBatchSize is the total number of samples of one training step
	// across all workers.
	GlobalBatchSize int

	// DataParallelSize is the data-parallel width of the fleet.
	DataParallelSize int

	// EvalInterval runs an evaluation every so many training steps. 0
	// disables periodic evaluation.
	EvalInterval int

	// ExitDuration is the wall-clock budget of the run. When positive, every
	// evaluation iteration the fleet checks -- by consensus, never
	// unilaterally -- whether the budget is exhausted, and aborts the
	// evaluation if so. 0 disables the check.
	ExitDuration time.Duration
}

// NumMicrobatches is how many micro-batches the engine consumes per step:
// GlobalBatchSize / (MicroBatchSize * DataParallelSize).
func (c *Config) NumMicrobatches() int {
	return c.GlobalBatchSize / (c.MicroBatchSize * c.DataParallelSize)
}

// stepBatchSize is the number of samples one worker's step pulls times the
// data-parallel width, the granularity at which dataset length is consumed.
func (c *Config) stepBatchSize() int {
	return c.MicroBatchSize * c.DataParallelSize
}

// validate checks the static parts of the configuration.
func (c *Config) validate() error {
	if c.MicroBatchSize <= 0 || c.GlobalBatchSize <= 0 || c.DataParallelSize <= 0 {
		return errors.Wrapf(ErrConfig,
			"MicroBatchSize (%d), GlobalBatchSize (%d) and DataParallelSize (%d) must all be positive",
			c.MicroBatchSize, c.GlobalBatchSize, c.DataParallelSize)
	}
	if c.GlobalBatchSize%(c.MicroBatchSize*c.DataParallelSize) != 0 {
		return errors.Wrapf(ErrConfig,
			"GlobalBatchSize (%d) must be a multiple of MicroBatchSize*DataParallelSize (%d*%d)",
			c.GlobalBatchSize, c.MicroBatchSize, c.DataParallelSize)
	}
	if c.MaxEpochs < 0 || c.TrainIters < 0 || c.EvalIters < 0 {
		return errors.Wrapf(ErrConfig,
			"MaxEpochs (%d), TrainIters (%d) and EvalIters (%d) must not be negative",
			c.MaxEpochs, c.TrainIters, c.EvalIters)
	}
	return nil
}

// resolveIters derives TrainIters and EvalIters when they were not given.
// It runs exactly once, before training starts, and fails fast when a dataset
// has no known length and no explicit bound was supplied.
//
// Dataset lengths are per-worker shards, in micro-batches; one full epoch
// covers Len*MicroBatchSize*DataParallelSize samples fleet-wide.
func (c *Config) resolveIters(trainDS, evalDS Dataset) error {
	if c.TrainIters == 0 {
		sized, ok := trainDS.(SizedDataset)
		if !ok {
			return errors.Wrapf(ErrConfig,
				"training dataset %q is streaming (no known length): TrainIters must be given explicitly",
				trainDS.Name())
		}
		if c.MaxEpochs == 0 {
			return errors.Wrapf(ErrConfig,
				"cannot derive TrainIters for dataset %q without MaxEpochs: give either explicitly",
				trainDS.Name())
		}
		samples := sized.Len() * c.stepBatchSize()
		c.TrainIters = samples*c.MaxEpochs/c.GlobalBatchSize + 1
	}
	if evalDS != nil && c.EvalIters == 0 {
		sized, ok := evalDS.(SizedDataset)
		if !ok {
			return errors.Wrapf(ErrConfig,
				"evaluation dataset %q is streaming (no known length): EvalIters must be given explicitly",
				evalDS.Name())
		}
		samples := sized.Len() * c.stepBatchSize()
		c.EvalIters = max(samples/c.GlobalBatchSize, 1)
	}
	return nil
}
