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

// fleettrain runs a simulated fleet of training workers in one process: each
// worker is a goroutine with its own toy linear-regression engine and data
// shard, coordinated through a distributed.LocalFleet.
//
// It exists to exercise the orchestration end-to-end -- epoch-bounded cyclic
// iteration, skipped-step exit, distributed evaluation with the time-limit
// consensus -- and to expose the telemetry on a Prometheus endpoint.
//
// Example:
//
//	fleettrain --workers 4 --max-epochs 3 --eval-interval 20 --metrics-addr :9090
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/gomlx/fleettrain/commandline"
	"github.com/gomlx/fleettrain/datasets"
	"github.com/gomlx/fleettrain/distributed"
	"github.com/gomlx/fleettrain/engine"
	"github.com/gomlx/fleettrain/telemetry"
	"github.com/gomlx/fleettrain/train"
)

func main() {
	klog.InitFlags(nil)
	app := &cli.App{
		Name:  "fleettrain",
		Usage: "simulate a data-parallel training fleet in one process",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: 2, Usage: "number of data-parallel workers"},
			&cli.IntFlag{Name: "max-epochs", Value: 2, Usage: "epoch bound, 0 for unbounded"},
			&cli.IntFlag{Name: "train-iters", Value: 0, Usage: "training steps, 0 to derive from the dataset"},
			&cli.IntFlag{Name: "eval-iters", Value: 0, Usage: "evaluation iterations, 0 to derive from the dataset"},
			&cli.IntFlag{Name: "eval-interval", Value: 25, Usage: "steps between evaluations, 0 to disable"},
			&cli.IntFlag{Name: "micro-batch", Value: 8, Usage: "micro-batch size in samples"},
			&cli.IntFlag{Name: "global-batch", Value: 32, Usage: "global batch size in samples"},
			&cli.IntFlag{Name: "shard-batches", Value: 100, Usage: "batches per worker's data shard"},
			&cli.DurationFlag{Name: "exit-duration", Value: 0, Usage: "wall-clock budget of the run, 0 to disable"},
			&cli.StringFlag{Name: "metrics-addr", Value: "", Usage: "address of the Prometheus endpoint, empty to disable"},
			&cli.StringFlag{Name: "checkpoint-dir", Value: "", Usage: "directory for checkpoints, empty to disable"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		klog.Exitf("fleettrain failed: %+v", err)
	}
}

func run(c *cli.Context) error {
	runID := uuid.NewString()
	numWorkers := c.Int("workers")
	config := train.Config{
		MaxEpochs:        c.Int("max-epochs"),
		TrainIters:       c.Int("train-iters"),
		EvalIters:        c.Int("eval-iters"),
		EvalInterval:     c.Int("eval-interval"),
		MicroBatchSize:   c.Int("micro-batch"),
		GlobalBatchSize:  c.Int("global-batch"),
		DataParallelSize: numWorkers,
		ExitDuration:     c.Duration("exit-duration"),
	}
	klog.Infof("Run %s: %d workers, %d micro-batches per step", runID, numWorkers, config.NumMicrobatches())

	if addr := c.String("metrics-addr"); addr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, nil); err != nil {
				klog.Warningf("Prometheus endpoint failed: %v", err)
			}
		}()
	}

	fleet := distributed.NewLocalFleet(numWorkers)
	errs := make([]error, numWorkers)
	var wg sync.WaitGroup
	for rank := 0; rank < numWorkers; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = worker(c, config, fleet.Group(rank), runID)
		}(rank)
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			return errors.WithMessagef(err, "worker %d", rank)
		}
	}
	return nil
}

// worker builds one rank's datasets, engine and trainer, and runs training.
func worker(c *cli.Context, config train.Config, group distributed.Group, runID string) error {
	model := &linearModel{group: group, learningRate: 0.05}
	shardBatches := c.Int("shard-batches")
	trainDS := datasets.InMemory(
		fmt.Sprintf("synthetic-train-%d", group.Rank()),
		syntheticBatches(shardBatches, config.MicroBatchSize, int64(1+group.Rank())))
	evalDS := datasets.InMemory(
		fmt.Sprintf("synthetic-eval-%d", group.Rank()),
		syntheticBatches(max(shardBatches/10, 1), config.MicroBatchSize, int64(1000+group.Rank())))

	trainer := train.New(config, group, model.Step, model.Forward).
		WithModules(model).
		WithRerun(engine.NewRerunToggle(engine.RerunValidateResults))
	if dir := c.String("checkpoint-dir"); dir != "" && group.Rank() == 0 {
		trainer.WithCheckpoint(func(step int) error {
			data := must.M1(json.Marshal(map[string]any{
				"run": runID, "step": step, "weight": model.weight, "bias": model.bias,
			}))
			path := filepath.Join(dir, fmt.Sprintf("checkpoint-%06d.json", step))
			return os.WriteFile(path, data, 0o644)
		})
	}
	commandline.AttachProgressBar(trainer)
	if group.Rank() == 0 {
		telemetry.New(prometheus.DefaultRegisterer, "fleettrain").Attach(trainer)
	}
	return trainer.Train(trainDS, evalDS)
}

// batch is one micro-batch of the toy regression problem.
type batch struct {
	xs, ys []float64
}

// syntheticBatches samples numBatches micro-batches of y = 3x - 1 plus noise.
func syntheticBatches(numBatches, microBatchSize int, seed int64) []any {
	rng := rand.New(rand.NewSource(seed))
	batches := make([]any, numBatches)
	for i := range batches {
		b := batch{xs: make([]float64, microBatchSize), ys: make([]float64, microBatchSize)}
		for j := range b.xs {
			x := rng.Float64()*4 - 2
			b.xs[j] = x
			b.ys[j] = 3*x - 1 + rng.NormFloat64()*0.1
		}
		batches[i] = b
	}
	return batches
}

// linearModel is the toy computation engine: a single-feature linear
// regression trained with SGD, gradients averaged across the fleet.
type linearModel struct {
	group        distributed.Group
	weight, bias float64
	learningRate float64
	training     bool
}

// SetTraining implements engine.Module.
func (m *linearModel) SetTraining(training bool) { m.training = training }

// gradients accumulates loss and gradient terms over one micro-batch.
func (m *linearModel) gradients(b batch) (gw, gb, lossSum float64) {
	for i, x := range b.xs {
		d := m.weight*x + m.bias - b.ys[i]
		gw += 2 * d * x
		gb += 2 * d
		lossSum += d * d
	}
	return
}

// Step is the engine.StepFunc of the model: forward/backward over
// numMicrobatches batches, gradient all-reduce, SGD update.
func (m *linearModel) Step(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
	var gw, gb, lossSum, count float64
	for i := 0; i < numMicrobatches; i++ {
		raw, err := it.Next()
		if err != nil {
			return engine.StepResult{}, err
		}
		b := raw.(batch)
		mgw, mgb, mloss := m.gradients(b)
		gw += mgw
		gb += mgb
		lossSum += mloss
		count += float64(len(b.xs))
	}
	reduced, err := m.group.AllReduce([]float64{gw, gb, lossSum, count}, distributed.ReduceSum)
	if err != nil {
		return engine.StepResult{}, err
	}
	gw, gb = reduced[0]/reduced[3], reduced[1]/reduced[3]
	m.weight -= m.learningRate * gw
	m.bias -= m.learningRate * gb
	return engine.StepResult{
		Losses:   engine.LossDict{"mse": engine.Weighted(reduced[2], reduced[3])},
		GradNorm: math.Hypot(gw, gb),
	}, nil
}

// Forward is the engine.ForwardFunc of the model: forward-only losses, or the
// current parameters when collecting non-loss data.
func (m *linearModel) Forward(it engine.BatchIterator, numMicrobatches int, collectNonLossData bool) ([]engine.LossDict, error) {
	dicts := make([]engine.LossDict, 0, numMicrobatches)
	for i := 0; i < numMicrobatches; i++ {
		raw, err := it.Next()
		if err != nil {
			return nil, err
		}
		b := raw.(batch)
		if collectNonLossData {
			dicts = append(dicts, engine.LossDict{
				"weight": engine.Scalar(m.weight),
				"bias":   engine.Scalar(m.bias),
			})
			continue
		}
		_, _, lossSum := m.gradients(b)
		dicts = append(dicts, engine.LossDict{"mse": engine.Weighted(lossSum, float64(len(b.xs)))})
	}
	return dicts, nil
}
