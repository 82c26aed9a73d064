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

// Package engine defines the boundary to the forward/backward computation engine.
//
// FleetTrain treats the engine as an opaque collaborator: it knows how to consume
// micro-batches from a BatchIterator and produce losses, but everything about the
// numerical work (model architecture, gradients, optimizer updates) stays on the
// other side of the StepFunc/ForwardFunc closures injected into a train.Trainer.
//
// The only contracts this package pins down are:
//
//   - How the engine reports losses (LossValue, either an unweighted scalar or a
//     weighted (sum, weight) pair, accumulated uniformly by the evaluation loop).
//   - The shape of one training step's outcome (StepResult).
//   - How the engine signals "no more data": by returning the io.EOF it received
//     from the BatchIterator, unchanged. Any other error is the engine's own
//     failure and is propagated untouched by the orchestration.
package engine

// BatchIterator is the data-fetch boundary between the orchestration and the
// engine. Next returns the next batch (an opaque value the engine understands)
// or io.EOF when the stream is exhausted -- for a cyclic training stream that
// only happens when the epoch bound was reached.
type BatchIterator interface {
	Next() (batch any, err error)
}

// LossValue is one loss (or metric) reported by the engine for one micro-batch.
//
// It is either an unweighted scalar -- see Scalar -- that accumulates as
// (value, 1), or a weighted pair -- see Weighted -- that accumulates as
// (sum, weight). Weighted values let the engine report, e.g., a token-level
// loss sum together with the token count, so micro-batches of different sizes
// average correctly.
type LossValue struct {
	value, weight float64
	weighted      bool
}

// Scalar returns an unweighted LossValue. It accumulates with weight 1.
func Scalar(value float64) LossValue {
	return LossValue{value: value}
}

// Weighted returns a LossValue carrying an explicit weight (typically a sample
// or token count).
func Weighted(sum, weight float64) LossValue {
	return LossValue{value: sum, weight: weight, weighted: true}
}

// Terms returns the (numerator, denominator) contribution of the loss value:
// (value, 1) for scalars, (sum, weight) for weighted values.
func (l LossValue) Terms() (numerator, denominator float64) {
	if l.weighted {
		return l.value, l.weight
	}
	return l.value, 1
}

// LossDict maps a metric name to the loss the engine reported for one
// micro-batch. Pipeline stages other than the final one produce empty
// dictionaries (no keys), never zero-valued entries.
type LossDict map[string]LossValue

// StepResult is the outcome of one training step.
type StepResult struct {
	// Losses reported by this step. Empty when the step was skipped or when
	// this worker is not on the final pipeline stage.
	Losses LossDict

	// Skipped is set when no step was executed because the training data was
	// exhausted under a finite epoch bound.
	Skipped bool

	// ShouldCheckpoint asks the orchestrator to persist a checkpoint after
	// this step.
	ShouldCheckpoint bool

	// ShouldExit asks the orchestrator to stop training after this step.
	ShouldExit bool

	// GradNorm is the global gradient norm of the step, 0 if skipped.
	GradNorm float64

	// NumZerosInGrad counts zero entries in the gradients, when the engine
	// tracks them.
	NumZerosInGrad int

	// Extra is an opaque payload from the engine, nil if skipped.
	Extra any
}

// SkippedStep is the canonical result of a step that found the training data
// exhausted: nothing was computed, and the orchestrator is asked to checkpoint
// and exit exactly once.
func SkippedStep() StepResult {
	return StepResult{
		Losses:           LossDict{},
		Skipped:          true,
		ShouldCheckpoint: true,
		ShouldExit:       true,
	}
}

// StepFunc runs one full training step: it pulls numMicrobatches batches from
// the iterator, runs forward/backward on each, and applies the optimizer
// update. If the iterator returns io.EOF the engine must return it unchanged
// (wrapping is fine); the orchestration converts it into SkippedStep.
type StepFunc func(it BatchIterator, numMicrobatches int) (StepResult, error)

// ForwardFunc runs forward-only over numMicrobatches batches, returning one
// LossDict per micro-batch. When collectNonLossData is set the engine should
// gather its auxiliary diagnostic outputs instead of losses; the returned
// dictionaries are then engine-defined.
type ForwardFunc func(it BatchIterator, numMicrobatches int, collectNonLossData bool) ([]LossDict, error)

// NonLossFunc collects auxiliary (non-loss) diagnostic data directly from the
// model, without going through the forward pass. When configured it takes
// precedence over the last-rank ForwardFunc collection pass.
type NonLossFunc func() (any, error)

// Module is a model component whose stochastic-regularization behavior
// (dropout and the like) depends on whether it is training. The evaluation
// loop switches all registered modules to evaluation mode for its duration
// and always switches them back.
type Module interface {
	SetTraining(training bool)
}
