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
	"sort"
	"time"

	"github.com/gomlx/fleettrain/engine"
	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but
// negative values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks, called once before the first step of
// Trainer.Train, after the iteration budgets are resolved.
type OnStartFn func(t *Trainer, ds Dataset) error

// OnStepFn is the type of OnStep hooks, called after every training step with
// its result.
type OnStepFn func(t *Trainer, step int, result engine.StepResult) error

// OnEpochEndFn is the type of OnEpochEnd hooks, called at each training epoch
// boundary with the number of completed epochs.
type OnEpochEndFn func(t *Trainer, completedEpochs int) error

// OnEvalFn is the type of OnEval hooks, called after each evaluation with its
// result and duration.
type OnEvalFn func(t *Trainer, result *EvalResult, elapsed time.Duration) error

// OnEndFn is the type of OnEnd hooks, called once after the last step of
// Trainer.Train.
type OnEndFn func(t *Trainer) error

// OnStart adds a hook with the given priority and name (for error reporting)
// to the start of Trainer.Train.
func (t *Trainer) OnStart(name string, priority Priority, fn OnStartFn) {
	t.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with the given priority and name (for error reporting)
// called after each training step.
func (t *Trainer) OnStep(name string, priority Priority, fn OnStepFn) {
	t.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with the given priority and name (for error
// reporting) called at each training epoch boundary.
func (t *Trainer) OnEpochEnd(name string, priority Priority, fn OnEpochEndFn) {
	t.onEpochEnd.Add(priority, &hookWithName[OnEpochEndFn]{name: name, fn: fn})
}

// OnEval adds a hook with the given priority and name (for error reporting)
// called after each evaluation.
func (t *Trainer) OnEval(name string, priority Priority, fn OnEvalFn) {
	t.onEval.Add(priority, &hookWithName[OnEvalFn]{name: name, fn: fn})
}

// OnEnd adds a hook with the given priority and name (for error reporting) to
// the end of Trainer.Train.
func (t *Trainer) OnEnd(name string, priority Priority, fn OnEndFn) {
	t.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks of type H per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate calls fn for all registered hooks in priority order, stopping at
// the first error.
func (h *priorityHooks[H]) Enumerate(fn func(hook H) error) error {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			if err := fn(hook); err != nil {
				return err
			}
		}
	}
	return nil
}

// callNamed wraps a named hook invocation with the hook's name for error
// reporting.
func callNamed[F any](hook *hookWithName[F], kind string, call func(F) error) error {
	if err := call(hook.fn); err != nil {
		return errors.WithMessagef(err, "%s(hook %q)", kind, hook.name)
	}
	return nil
}
