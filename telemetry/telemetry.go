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

// Package telemetry exports training-loop metrics to Prometheus.
//
// Metrics registers its collectors on a caller-supplied prometheus.Registerer
// and attaches to a train.Trainer through its hooks. Typical use:
//
//	telemetry.New(prometheus.DefaultRegisterer, "fleettrain").Attach(trainer)
//	http.Handle("/metrics", promhttp.Handler())
package telemetry

import (
	"time"

	"github.com/gomlx/fleettrain/engine"
	"github.com/gomlx/fleettrain/train"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one worker's training loop.
type Metrics struct {
	stepsTotal        prometheus.Counter
	stepsSkippedTotal prometheus.Counter
	epochsCompleted   prometheus.Gauge
	consumedSamples   prometheus.Gauge
	gradNorm          prometheus.Gauge
	trainLoss         *prometheus.GaugeVec
	evalMetric        *prometheus.GaugeVec
	evalDuration      prometheus.Summary
	evalAbortedTotal  prometheus.Counter
}

// New creates the collectors under the given namespace and registers them on
// reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_steps_total",
			Help:      "Counts training steps executed, skipped ones included.",
		}),
		stepsSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_steps_skipped_total",
			Help:      "Counts training steps skipped because the data was exhausted.",
		}),
		epochsCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_epochs_completed",
			Help:      "Number of completed training epochs.",
		}),
		consumedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_consumed_samples",
			Help:      "Samples consumed by training, fleet-wide.",
		}),
		gradNorm: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_grad_norm",
			Help:      "Gradient norm of the last training step.",
		}),
		trainLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_loss",
			Help:      "Loss of the last training step, per metric key.",
		}, []string{"metric"}),
		evalMetric: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eval_metric",
			Help:      "Reduced metric of the last evaluation, per metric key.",
		}, []string{"metric"}),
		evalDuration: factory.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "eval_duration_seconds",
			Help:      "Duration of evaluation calls.",
		}),
		evalAbortedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_aborted_total",
			Help:      "Counts evaluations aborted by the fleet-wide time limit.",
		}),
	}
}

// Attach registers the hooks that feed the collectors from the Trainer.
func (m *Metrics) Attach(t *train.Trainer) {
	t.OnStep("telemetry", 100, func(t *train.Trainer, step int, result engine.StepResult) error {
		m.stepsTotal.Inc()
		if result.Skipped {
			m.stepsSkippedTotal.Inc()
		}
		m.consumedSamples.Set(float64(t.ConsumedTrainSamples))
		m.gradNorm.Set(result.GradNorm)
		for key, value := range result.Losses {
			num, den := value.Terms()
			m.trainLoss.WithLabelValues(key).Set(num / den)
		}
		return nil
	})
	t.OnEpochEnd("telemetry", 100, func(_ *train.Trainer, completedEpochs int) error {
		m.epochsCompleted.Set(float64(completedEpochs))
		return nil
	})
	t.OnEval("telemetry", 100, func(_ *train.Trainer, result *train.EvalResult, elapsed time.Duration) error {
		m.evalDuration.Observe(elapsed.Seconds())
		if result.Aborted {
			m.evalAbortedTotal.Inc()
			return nil
		}
		for key, value := range result.Metrics {
			m.evalMetric.WithLabelValues(key).Set(value)
		}
		return nil
	})
}
