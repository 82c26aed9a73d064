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

// Dataset provides data to a Trainer, one batch at a time.
//
// A batch is opaque to the orchestration: it is handed to the computation
// engine as-is. The unit yielded here is one micro-batch -- the engine pulls
// several of them per training step.
//
// Yield returns io.EOF when one pass over a finite dataset is done; Reset must
// then restart it from the beginning. Unbounded/streaming datasets never
// return io.EOF. Any other error interrupts training or evaluation and is
// returned to the caller.
type Dataset interface {
	// Name identifies the dataset. Used for logging and error messages.
	Name() string

	// Reset restarts the dataset from the beginning. Called after io.EOF at
	// each epoch boundary.
	Reset()

	// Yield returns the next batch, or io.EOF at the end of one pass.
	Yield() (batch any, err error)
}

// SizedDataset is a Dataset with a known length, in batches.
//
// A known length is what allows the Trainer to derive the training and
// evaluation iteration budgets; a Dataset that does not implement SizedDataset
// requires those budgets to be given explicitly in the Config.
type SizedDataset interface {
	Dataset

	// Len returns the number of batches in one pass over the dataset.
	Len() int
}
