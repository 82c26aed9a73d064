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

	"github.com/gomlx/fleettrain/distributed"
	"github.com/gomlx/fleettrain/engine"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EvalResult is the outcome of one Trainer.Evaluate call.
type EvalResult struct {
	// Metrics maps each metric name to its value, averaged over all
	// evaluation iterations and reduced across the fleet. Nil when the
	// evaluation was aborted, or on workers that are not on the final
	// pipeline stage.
	Metrics map[string]float64

	// NonLossData is the auxiliary diagnostic payload of the collection pass,
	// when one was configured. Nil otherwise, and always nil when aborted.
	NonLossData any

	// Aborted is set when the fleet agreed the wall-clock budget was
	// exhausted and evaluation stopped early. It is set on every worker in
	// the same iteration -- never on only some of them.
	Aborted bool
}

// metricAccumulator accumulates per-metric (numerator, denominator) pairs over
// the iterations of one evaluation call. It is owned exclusively by that call.
type metricAccumulator map[string]*[2]float64

// add accumulates the terms of one reported loss value.
func (acc metricAccumulator) add(key string, value engine.LossValue) {
	pair := acc[key]
	if pair == nil {
		pair = &[2]float64{}
		acc[key] = pair
	}
	num, den := value.Terms()
	pair[0] += num
	pair[1] += den
}

// reduceAndFinalize sums the pairs across the group and divides numerator by
// denominator per key. Keys are sorted so every worker lays out the reduction
// vector identically -- a requirement of the collective.
func (acc metricAccumulator) reduceAndFinalize(g distributed.Group) (map[string]float64, error) {
	if len(acc) == 0 {
		return map[string]float64{}, nil
	}
	keys := make([]string, 0, len(acc))
	for key := range acc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	vector := make([]float64, 0, 2*len(keys))
	for _, key := range keys {
		pair := acc[key]
		vector = append(vector, pair[0], pair[1])
	}
	reduced, err := g.AllReduce(vector, distributed.ReduceSum)
	if err != nil {
		return nil, errors.WithMessage(err, "reducing evaluation metrics")
	}
	metrics := make(map[string]float64, len(keys))
	for i, key := range keys {
		metrics[key] = reduced[2*i] / reduced[2*i+1]
	}
	return metrics, nil
}

// Evaluate runs one full evaluation pass: up to Config.EvalIters forward-only
// iterations over evalDS, with the per-key (numerator, denominator)
// accumulation reduced across the fleet at the end.
//
// For its duration it disables the engine's result-rerun machinery and
// switches the registered modules to evaluation mode; both are restored on
// every exit path. The evaluation micro-batch count is derived from the
// global batch size, independent of training state.
//
// When Config.ExitDuration is positive, every iteration the fleet decides by
// consensus -- a logical-OR reduction of each worker's local wall-clock check
// -- whether the run's time budget is exhausted. If so, Evaluate returns
// Aborted=true with nil metrics on every worker in the same iteration, before
// that iteration's metrics are accumulated. A per-worker unilateral exit
// would desynchronize the fleet's collective calls and deadlock it.
func (t *Trainer) Evaluate(evalDS Dataset, verbose bool) (*EvalResult, error) {
	if t.config.EvalIters <= 0 {
		return nil, errors.Wrapf(ErrConfig,
			"Evaluate called with EvalIters=%d: give it explicitly or derive it with ResolveIters",
			t.config.EvalIters)
	}
	if t.runCtx.startTime.IsZero() {
		// Evaluate driven directly, without Train: the budget starts now.
		t.runCtx.startTime = time.Now()
	}

	// Scoped acquisitions, restored on success and failure alike.
	if t.rerun != nil {
		previous := t.rerun.Mode()
		t.rerun.SetMode(engine.RerunDisabled)
		defer t.rerun.SetMode(previous)
	}
	for _, m := range t.modules {
		m.SetTraining(false)
	}
	defer func() {
		for _, m := range t.modules {
			m.SetTraining(true)
		}
	}()

	// Evaluation batch geometry is pinned to the global batch size,
	// independent of the training schedule.
	evalBatchSize := t.config.GlobalBatchSize
	numMicrobatches := t.config.NumMicrobatches()

	it := newCyclicIterator(evalDS, &t.runCtx, 0 /* maxEpochs */, nil)
	acc := make(metricAccumulator)

	if verbose {
		t.logf("Evaluating on %d samples", t.config.EvalIters*evalBatchSize)
	}
	for iteration := 1; iteration <= t.config.EvalIters; iteration++ {
		if verbose {
			t.logf("Evaluating iter %d/%d", iteration, t.config.EvalIters)
		}
		lossDicts, err := t.forward(it, numMicrobatches, false)
		if err != nil {
			return nil, errors.WithMessagef(err, "Evaluate: forward pass of iteration %d", iteration)
		}

		// Fleet-wide time-limit consensus, checked before this iteration's
		// metrics are folded in.
		if t.config.ExitDuration > 0 {
			elapsed := time.Since(t.runCtx.startTime)
			done, err := distributed.AllReduceOr(t.group, elapsed > t.config.ExitDuration)
			if err != nil {
				return nil, errors.WithMessagef(err, "Evaluate: time-limit consensus of iteration %d", iteration)
			}
			if done {
				t.logf("Exiting during evaluation, time limit reached")
				return &EvalResult{Aborted: true}, nil
			}
		}

		// Only the final pipeline stage sees losses; other stages yield
		// empty dictionaries and are skipped, not treated as zero.
		if t.group.IsPipelineLastStage() {
			for _, lossDict := range lossDicts {
				for key, value := range lossDict {
					acc.add(key, value)
				}
			}
		}
		t.ConsumedValidSamples += evalBatchSize
	}

	result := &EvalResult{}
	var err error
	result.NonLossData, err = t.collectNonLossData(it, numMicrobatches)
	if err != nil {
		return nil, err
	}
	result.Metrics, err = acc.reduceAndFinalize(t.group)
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() && t.group.Rank() == 0 {
		klog.Infof("Evaluation done: %v", result.Metrics)
	}
	return result, nil
}

// collectNonLossData runs the optional auxiliary collection pass. A direct
// collector takes precedence over last-rank collection through the engine.
func (t *Trainer) collectNonLossData(it engine.BatchIterator, numMicrobatches int) (any, error) {
	if t.nonLossFn != nil {
		data, err := t.nonLossFn()
		if err != nil {
			return nil, errors.WithMessage(err, "Evaluate: non-loss data collection")
		}
		return data, nil
	}
	if t.lastRankNLFn && t.group.IsLastRank() {
		dicts, err := t.forward(it, numMicrobatches, true)
		if err != nil {
			return nil, errors.WithMessage(err, "Evaluate: last-rank non-loss collection pass")
		}
		return dicts, nil
	}
	return nil, nil
}
