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

// TrainStep executes exactly one training step and always returns a
// well-formed result.
//
// It enters the training context for the duration of the call -- the flag is
// restored on every exit path -- and invokes the engine's step function. When
// the iterator signals exhaustion (io.EOF, the expected terminal condition
// under a finite epoch bound), TrainStep returns engine.SkippedStep(): empty
// losses, skipped=true, and a request to checkpoint and exit exactly once.
// Every other engine failure propagates unchanged; this orchestration does not
// interpret or retry it.
func (t *Trainer) TrainStep(it engine.BatchIterator) (engine.StepResult, error) {
	defer swapValue(&t.runCtx.isTraining, true)()

	result, err := t.stepFn(it, t.config.NumMicrobatches())
	if err != nil {
		if errors.Is(err, io.EOF) {
			return engine.SkippedStep(), nil
		}
		return engine.StepResult{}, err
	}
	return result, nil
}
