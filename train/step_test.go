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
	"testing"

	"github.com/gomlx/fleettrain/engine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	MaxEpochs:        1,
	TrainIters:       1,
	EvalIters:        1,
	MicroBatchSize:   1,
	GlobalBatchSize:  1,
	DataParallelSize: 1,
}

func TestTrainStepConvertsExhaustion(t *testing.T) {
	stepFn := func(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
		return engine.StepResult{}, errors.Wrap(io.EOF, "pulling batch")
	}
	trainer := New(testConfig, soloGroup(), stepFn, nil)

	require.False(t, trainer.RunContext().IsTraining())
	result, err := trainer.TrainStep(nil)
	require.NoError(t, err)
	require.False(t, trainer.RunContext().IsTraining())

	assert.Equal(t, engine.SkippedStep(), result)
	assert.Empty(t, result.Losses)
	assert.True(t, result.Skipped)
	assert.True(t, result.ShouldCheckpoint)
	assert.True(t, result.ShouldExit)
	assert.Zero(t, result.GradNorm)
	assert.Nil(t, result.Extra)
}

func TestTrainStepScopesTrainingContext(t *testing.T) {
	var sawTraining bool
	var trainer *Trainer
	stepFn := func(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
		sawTraining = trainer.RunContext().IsTraining()
		return engine.StepResult{Losses: engine.LossDict{}}, nil
	}
	trainer = New(testConfig, soloGroup(), stepFn, nil)

	_, err := trainer.TrainStep(nil)
	require.NoError(t, err)
	assert.True(t, sawTraining, "training flag must be set for the duration of the step")
	assert.False(t, trainer.RunContext().IsTraining(), "training flag must be cleared after the step")
}

func TestTrainStepClearsTrainingContextOnFailure(t *testing.T) {
	cause := errors.New("device lost")
	stepFn := func(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
		return engine.StepResult{}, cause
	}
	trainer := New(testConfig, soloGroup(), stepFn, nil)

	_, err := trainer.TrainStep(nil)
	require.Error(t, err)
	// Engine failures other than exhaustion propagate unchanged.
	assert.True(t, errors.Is(err, cause))
	assert.False(t, trainer.RunContext().IsTraining())
}

func TestTrainStepPassesNumMicrobatches(t *testing.T) {
	config := testConfig
	config.MicroBatchSize = 2
	config.GlobalBatchSize = 16
	config.DataParallelSize = 2
	var got int
	stepFn := func(it engine.BatchIterator, numMicrobatches int) (engine.StepResult, error) {
		got = numMicrobatches
		return engine.StepResult{}, nil
	}
	trainer := New(config, soloGroup(), stepFn, nil)
	_, err := trainer.TrainStep(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}
