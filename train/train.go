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

// Package train orchestrates an epoch-bounded, data-parallel training loop
// across a fleet of cooperating workers.
//
// The hard part it owns is not the numerical work -- that lives behind the
// engine.StepFunc/engine.ForwardFunc closures injected at construction -- but
// the control flow that keeps every worker in lock-step:
//
//   - A cyclic iterator that turns a finite dataset into an endless
//     epoch-aware stream, with a maximum-epoch stop condition.
//   - A step interceptor that converts data exhaustion into a well-formed
//     "skipped" step result (checkpoint-and-exit) instead of an error.
//   - A distributed evaluation loop that accumulates weighted metrics,
//     reduces them across the fleet, and can abort early on a wall-clock
//     budget -- decided by fleet-wide consensus, never unilaterally, so that
//     every worker leaves the loop in the same iteration.
//
// One Trainer runs on each worker. All cross-worker coordination goes through
// the injected distributed.Group; the Trainer guarantees its collective calls
// are identical on every worker at every iteration.
package train

import (
	"time"

	"github.com/gomlx/fleettrain/distributed"
	"github.com/gomlx/fleettrain/engine"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CheckpointFn persists a checkpoint after the given training step.
type CheckpointFn func(step int) error

// Trainer runs the training loop of one worker.
//
// Create it with New, configure it with the With* chainable setters and the
// On* hooks, then call Train -- or drive TrainStep/Evaluate directly from an
// outer loop.
type Trainer struct {
	config  Config
	group   distributed.Group
	stepFn  engine.StepFunc
	forward engine.ForwardFunc

	rerun         engine.RerunStateMachine
	modules       []engine.Module
	checkpointFn  CheckpointFn
	nonLossFn     engine.NonLossFunc
	lastRankNLFn  bool
	runCtx        RunContext
	itersResolved bool

	// ConsumedTrainSamples and ConsumedValidSamples count samples processed
	// fleet-wide, advanced by the step and evaluation loops. Read-only for
	// hooks.
	ConsumedTrainSamples int
	ConsumedValidSamples int

	onStart    *priorityHooks[*hookWithName[OnStartFn]]
	onStep     *priorityHooks[*hookWithName[OnStepFn]]
	onEpochEnd *priorityHooks[*hookWithName[OnEpochEndFn]]
	onEval     *priorityHooks[*hookWithName[OnEvalFn]]
	onEnd      *priorityHooks[*hookWithName[OnEndFn]]
}

// New creates a Trainer for one worker.
//
// group is the worker's process group -- all the Trainer's collective traffic
// runs on it. stepFn and forward are the computation engine's training-step
// and forward-only entry points.
func New(config Config, group distributed.Group, stepFn engine.StepFunc, forward engine.ForwardFunc) *Trainer {
	return &Trainer{
		config:     config,
		group:      group,
		stepFn:     stepFn,
		forward:    forward,
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpochEnd: newPriorityHooks[*hookWithName[OnEpochEndFn]](),
		onEval:     newPriorityHooks[*hookWithName[OnEvalFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// WithRerun attaches the engine's result-rerun controller. The evaluation loop
// disables it for its duration and restores whatever mode it found.
// It returns the Trainer, so calls can be cascaded.
func (t *Trainer) WithRerun(rerun engine.RerunStateMachine) *Trainer {
	t.rerun = rerun
	return t
}

// WithModules registers the model components whose train/eval mode the
// evaluation loop must toggle.
// It returns the Trainer, so calls can be cascaded.
func (t *Trainer) WithModules(modules ...engine.Module) *Trainer {
	t.modules = append(t.modules, modules...)
	return t
}

// WithCheckpoint sets the function invoked when a step result requests a
// checkpoint.
// It returns the Trainer, so calls can be cascaded.
func (t *Trainer) WithCheckpoint(fn CheckpointFn) *Trainer {
	t.checkpointFn = fn
	return t
}

// WithNonLossCollector sets a direct collector of auxiliary (non-loss)
// diagnostic data, run once after each complete evaluation.
//
// If lastRankOnly collection was also configured (WithLastRankCollection), the
// direct collector takes precedence.
// It returns the Trainer, so calls can be cascaded.
func (t *Trainer) WithNonLossCollector(fn engine.NonLossFunc) *Trainer {
	t.nonLossFn = fn
	return t
}

// WithLastRankCollection enables an extra forward-only pass after each
// complete evaluation, on the fleet's last rank only, with the engine
// collecting non-loss data.
// It returns the Trainer, so calls can be cascaded.
func (t *Trainer) WithLastRankCollection() *Trainer {
	t.lastRankNLFn = true
	return t
}

// Config returns the Trainer's configuration. After Train (or ResolveIters)
// it includes the derived TrainIters/EvalIters.
func (t *Trainer) Config() Config { return t.config }

// Group returns the worker's process group.
func (t *Trainer) Group() distributed.Group { return t.group }

// RunContext returns the per-run state: training flag, epoch, start time.
func (t *Trainer) RunContext() *RunContext { return &t.runCtx }

// logf logs on rank 0 only, mirroring every worker running the same code.
func (t *Trainer) logf(format string, args ...any) {
	if t.group.Rank() == 0 {
		klog.Infof(format, args...)
	}
}

// ResolveIters validates the configuration and derives TrainIters/EvalIters
// when they were not given. It runs at most once per Trainer, before any
// collective call, and fails with ErrConfig (wrapped) when a streaming
// dataset has no explicit bound.
//
// Train calls it implicitly; it is exported for orchestrators that drive
// TrainStep/Evaluate themselves.
func (t *Trainer) ResolveIters(trainDS, evalDS Dataset) error {
	if t.itersResolved {
		return nil
	}
	if err := t.config.validate(); err != nil {
		return err
	}
	if err := t.config.resolveIters(trainDS, evalDS); err != nil {
		return err
	}
	t.itersResolved = true
	return nil
}

// Train runs the full epoch-bounded training loop: up to Config.TrainIters
// steps pulled through a cyclic iterator over trainDS, periodic evaluations on
// evalDS every Config.EvalInterval steps, and a final evaluation at the end.
//
// Two stop conditions are enforced independently: TrainIters bounds the number
// of steps requested here, and MaxEpochs bounds the data the cyclic iterator
// will produce -- when the epoch bound trips first, the step interceptor
// returns a skipped result that requests a final checkpoint and a clean exit.
//
// evalDS may be nil, in which case no evaluation runs.
func (t *Trainer) Train(trainDS, evalDS Dataset) error {
	if err := t.ResolveIters(trainDS, evalDS); err != nil {
		return err
	}
	t.runCtx.reset(time.Now())

	it := newCyclicIterator(trainDS, &t.runCtx, t.config.MaxEpochs, func(completed int) {
		t.epochBoundary(completed)
	})

	if err := t.onStart.Enumerate(func(h *hookWithName[OnStartFn]) error {
		return callNamed(h, "OnStart", func(fn OnStartFn) error { return fn(t, trainDS) })
	}); err != nil {
		return err
	}

	t.logf("Training starts: %d steps, %d micro-batches/step, global batch size %d",
		t.config.TrainIters, t.config.NumMicrobatches(), t.config.GlobalBatchSize)

	for step := 1; step <= t.config.TrainIters; step++ {
		result, err := t.TrainStep(it)
		if err != nil {
			return errors.WithMessagef(err, "Train: step %d of %d", step, t.config.TrainIters)
		}
		if !result.Skipped {
			t.ConsumedTrainSamples += t.config.GlobalBatchSize
		}
		if err := t.onStep.Enumerate(func(h *hookWithName[OnStepFn]) error {
			return callNamed(h, "OnStep", func(fn OnStepFn) error { return fn(t, step, result) })
		}); err != nil {
			return err
		}
		if result.ShouldCheckpoint {
			if err := t.checkpoint(step); err != nil {
				return err
			}
		}
		if result.ShouldExit {
			t.logf("Training exits at step %d of %d", step, t.config.TrainIters)
			return t.finish()
		}
		if evalDS != nil && t.config.EvalInterval > 0 && step%t.config.EvalInterval == 0 {
			aborted, err := t.runEval(evalDS, false)
			if err != nil {
				return errors.WithMessagef(err, "Train: evaluation at step %d", step)
			}
			if aborted {
				// The fleet agreed the wall-clock budget is exhausted:
				// checkpoint and stop training too.
				t.logf("Exiting training, time limit reached during evaluation at step %d", step)
				if err := t.checkpoint(step); err != nil {
					return err
				}
				return t.finish()
			}
		}
	}

	if evalDS != nil {
		if _, err := t.runEval(evalDS, true); err != nil {
			return errors.WithMessage(err, "Train: final evaluation")
		}
	}
	return t.finish()
}

// epochBoundary fires the epoch hooks and logs the boundary event.
func (t *Trainer) epochBoundary(completed int) {
	if t.config.MaxEpochs > 0 && completed >= t.config.MaxEpochs {
		t.logf("Training of %d epochs has been completed, the training has finished.", completed)
	} else {
		t.logf("The training of epoch %d starts...", completed)
	}
	if err := t.onEpochEnd.Enumerate(func(h *hookWithName[OnEpochEndFn]) error {
		return callNamed(h, "OnEpochEnd", func(fn OnEpochEndFn) error { return fn(t, completed) })
	}); err != nil {
		klog.Warningf("OnEpochEnd hook failed: %+v", err)
	}
}

// checkpoint invokes the configured checkpoint function, if any.
func (t *Trainer) checkpoint(step int) error {
	if t.checkpointFn == nil {
		return nil
	}
	if err := t.checkpointFn(step); err != nil {
		return errors.WithMessagef(err, "checkpoint at step %d", step)
	}
	return nil
}

// runEval runs one evaluation and fires the OnEval hooks.
func (t *Trainer) runEval(evalDS Dataset, verbose bool) (aborted bool, err error) {
	startTime := time.Now()
	result, err := t.Evaluate(evalDS, verbose)
	if err != nil {
		return false, err
	}
	elapsed := time.Since(startTime)
	if err := t.onEval.Enumerate(func(h *hookWithName[OnEvalFn]) error {
		return callNamed(h, "OnEval", func(fn OnEvalFn) error { return fn(t, result, elapsed) })
	}); err != nil {
		return false, err
	}
	return result.Aborted, nil
}

// finish fires the OnEnd hooks.
func (t *Trainer) finish() error {
	return t.onEnd.Enumerate(func(h *hookWithName[OnEndFn]) error {
		return callNamed(h, "OnEnd", func(fn OnEndFn) error { return fn(t) })
	})
}
