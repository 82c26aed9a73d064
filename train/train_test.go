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
	"sync"
	"testing"
	"time"

	"github.com/gomlx/fleettrain/distributed"
	"github.com/gomlx/fleettrain/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pullingStep returns a StepFunc that pulls every micro-batch and reports a
// constant loss, counting executed steps.
func pullingStep(executed *int) engine.StepFunc {
	return func(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
		for i := 0; i < numMicrobatches; i++ {
			if _, err := it.Next(); err != nil {
				return engine.StepResult{}, err
			}
		}
		*executed++
		return engine.StepResult{Losses: engine.LossDict{"loss": engine.Scalar(1)}}, nil
	}
}

// TestTrainEpochBoundedRun is the end-to-end scenario: 2 epochs over 10
// batches of 1 sample with a global batch of 2 derives 11 training steps; the
// loop requests exactly 11 steps, the epoch boundary fires after steps 5 and
// 10, and step 11 is the skipped checkpoint-and-exit step.
func TestTrainEpochBoundedRun(t *testing.T) {
	config := Config{
		MaxEpochs:        2,
		MicroBatchSize:   1,
		GlobalBatchSize:  2,
		DataParallelSize: 1,
	}
	var executed int
	trainer := New(config, soloGroup(), pullingStep(&executed), nil)

	var requested int
	var skipped []int
	var boundarySteps []int
	var checkpoints []int
	var ended bool
	trainer.OnStep("test", 0, func(_ *Trainer, step int, result engine.StepResult) error {
		requested++
		if result.Skipped {
			skipped = append(skipped, step)
		}
		return nil
	})
	trainer.OnEpochEnd("test", 0, func(_ *Trainer, completed int) error {
		boundarySteps = append(boundarySteps, requested)
		return nil
	})
	trainer.OnEnd("test", 0, func(_ *Trainer) error {
		ended = true
		return nil
	})
	trainer.WithCheckpoint(func(step int) error {
		checkpoints = append(checkpoints, step)
		return nil
	})

	require.NoError(t, trainer.Train(newCountingDataset("train", 10), nil))

	assert.Equal(t, 11, trainer.Config().TrainIters)
	assert.Equal(t, 11, requested, "the loop must request exactly TrainIters steps")
	assert.Equal(t, 10, executed, "10 real steps fit in 2 epochs of 10 samples")
	assert.Equal(t, []int{11}, skipped)
	// The boundary events fire while pulling for the step after the epoch,
	// i.e. after 5 and after 10 completed steps.
	assert.Equal(t, []int{5, 10}, boundarySteps)
	assert.Equal(t, 2, trainer.RunContext().Epoch())
	assert.Equal(t, []int{11}, checkpoints, "the terminal skipped step checkpoints exactly once")
	assert.True(t, ended)
	assert.Equal(t, 20, trainer.ConsumedTrainSamples)
}

// TestTrainItersBoundGoverns: with a large epoch bound the explicit TrainIters
// stops the run first; both bounds are enforced independently.
func TestTrainItersBoundGoverns(t *testing.T) {
	config := Config{
		MaxEpochs:        100,
		TrainIters:       7,
		MicroBatchSize:   1,
		GlobalBatchSize:  1,
		DataParallelSize: 1,
	}
	var executed int
	trainer := New(config, soloGroup(), pullingStep(&executed), nil)
	require.NoError(t, trainer.Train(newCountingDataset("train", 10), nil))
	assert.Equal(t, 7, executed)
	assert.Equal(t, 0, trainer.RunContext().Epoch(), "7 steps of 1 sample never finish the 10-sample epoch")
}

// TestTrainPeriodicEvaluation: evaluations run every EvalInterval steps plus a
// final one, and training samples are not consumed by them.
func TestTrainPeriodicEvaluation(t *testing.T) {
	config := Config{
		MaxEpochs:        0,
		TrainIters:       6,
		EvalIters:        2,
		EvalInterval:     3,
		MicroBatchSize:   1,
		GlobalBatchSize:  1,
		DataParallelSize: 1,
	}
	var executed int
	forward := func(it engine.BatchIterator, numMicrobatches int, collect bool) ([]engine.LossDict, error) {
		for i := 0; i < numMicrobatches; i++ {
			if _, err := it.Next(); err != nil {
				return nil, err
			}
		}
		return []engine.LossDict{{"loss": engine.Scalar(2)}}, nil
	}
	trainer := New(config, soloGroup(), pullingStep(&executed), forward)

	var evals int
	trainer.OnEval("test", 0, func(_ *Trainer, result *EvalResult, _ time.Duration) error {
		evals++
		require.False(t, result.Aborted)
		assert.InDelta(t, 2.0, result.Metrics["loss"], 1e-12)
		return nil
	})

	require.NoError(t, trainer.Train(newCountingDataset("train", 10), newCountingDataset("eval", 4)))
	assert.Equal(t, 6, executed)
	assert.Equal(t, 3, evals, "after steps 3 and 6, plus the final evaluation")
	assert.Equal(t, 0, trainer.RunContext().Epoch(), "evaluation must not consume epochs")
	assert.Equal(t, 6, trainer.ConsumedTrainSamples)
	assert.Equal(t, 6, trainer.ConsumedValidSamples)
}

// TestTrainFleetLockStep runs a 2-worker fleet end to end through the local
// collective fabric: both workers finish, see identical evaluation metrics,
// and agree on the terminal skipped step.
func TestTrainFleetLockStep(t *testing.T) {
	const numWorkers = 2
	fleet := distributed.NewLocalFleet(numWorkers)
	errs := make([]error, numWorkers)
	metrics := make([]float64, numWorkers)
	var wg sync.WaitGroup
	for rank := 0; rank < numWorkers; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			group := fleet.Group(rank)
			config := Config{
				MaxEpochs:        2,
				EvalInterval:     4,
				MicroBatchSize:   1,
				GlobalBatchSize:  2,
				DataParallelSize: numWorkers,
			}
			var executed int
			forward := func(it engine.BatchIterator, numMicrobatches int, collect bool) ([]engine.LossDict, error) {
				for i := 0; i < numMicrobatches; i++ {
					if _, err := it.Next(); err != nil {
						return nil, err
					}
				}
				// Worker-dependent loss, averaged by the reduction.
				return []engine.LossDict{{"loss": engine.Scalar(float64(rank))}}, nil
			}
			trainer := New(config, group, pullingStep(&executed), forward)
			trainer.OnEval("test", 0, func(_ *Trainer, result *EvalResult, _ time.Duration) error {
				if !result.Aborted {
					metrics[rank] = result.Metrics["loss"]
				}
				return nil
			})
			errs[rank] = trainer.Train(
				newCountingDataset("train", 8), newCountingDataset("eval", 4))
		}(rank)
	}
	wg.Wait()
	for rank := 0; rank < numWorkers; rank++ {
		require.NoError(t, errs[rank])
		// (0+1)/2 on both workers.
		assert.InDelta(t, 0.5, metrics[rank], 1e-12, "rank %d", rank)
	}
}
