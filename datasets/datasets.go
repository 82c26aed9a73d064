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

// Package datasets is a collection of utility train.Dataset implementations:
// InMemory for sized slices of batches, FromYield for streaming sources and
// Take to bound any dataset.
package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fleettrain/train"
)

// inMemoryDataset is a sized train.Dataset over a slice of batches.
type inMemoryDataset struct {
	name    string
	batches []any
	next    int
}

// InMemory creates a sized train.Dataset yielding the given batches in order.
// One pass yields each batch once, then io.EOF.
func InMemory(name string, batches []any) train.SizedDataset {
	if len(batches) == 0 {
		exceptions.Panicf("datasets.InMemory(%q): no batches given", name)
	}
	return &inMemoryDataset{name: name, batches: batches}
}

// Name implements train.Dataset.
func (ds *inMemoryDataset) Name() string { return ds.name }

// Len implements train.SizedDataset.
func (ds *inMemoryDataset) Len() int { return len(ds.batches) }

// Reset implements train.Dataset.
func (ds *inMemoryDataset) Reset() { ds.next = 0 }

// Yield implements train.Dataset.
func (ds *inMemoryDataset) Yield() (any, error) {
	if ds.next >= len(ds.batches) {
		return nil, io.EOF
	}
	batch := ds.batches[ds.next]
	ds.next++
	return batch, nil
}

// yieldDataset adapts a yield function into a (streaming, unsized)
// train.Dataset.
type yieldDataset struct {
	name  string
	yield func() (any, error)
	reset func()
}

// FromYield creates a streaming train.Dataset from a yield function and an
// optional reset function. The resulting dataset has no known length, so
// iteration budgets must be configured explicitly when training on it.
func FromYield(name string, yield func() (any, error), reset func()) train.Dataset {
	if yield == nil {
		exceptions.Panicf("datasets.FromYield(%q): yield function is nil", name)
	}
	return &yieldDataset{name: name, yield: yield, reset: reset}
}

// Name implements train.Dataset.
func (ds *yieldDataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *yieldDataset) Reset() {
	if ds.reset != nil {
		ds.reset()
	}
}

// Yield implements train.Dataset.
func (ds *yieldDataset) Yield() (any, error) { return ds.yield() }

// takeDataset only yields take batches per pass.
type takeDataset struct {
	ds          train.Dataset
	count, take int
}

// Take returns a wrapper to ds that only yields n batches per pass. The result
// is sized.
func Take(ds train.Dataset, n int) train.SizedDataset {
	if n <= 0 {
		exceptions.Panicf("datasets.Take(%q, %d): n must be positive", ds.Name(), n)
	}
	return &takeDataset{ds: ds, take: n}
}

// Name implements train.Dataset.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Len implements train.SizedDataset.
func (ds *takeDataset) Len() int { return ds.take }

// Reset implements train.Dataset.
func (ds *takeDataset) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements train.Dataset.
func (ds *takeDataset) Yield() (any, error) {
	if ds.count >= ds.take {
		return nil, io.EOF
	}
	batch, err := ds.ds.Yield()
	if err != nil {
		return nil, err
	}
	ds.count++
	return batch, nil
}
