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

	"github.com/gomlx/fleettrain/distributed"
)

// countingDataset is a sized dataset yielding 1..length, counting passes.
type countingDataset struct {
	name   string
	length int
	next   int
}

func newCountingDataset(name string, length int) *countingDataset {
	return &countingDataset{name: name, length: length}
}

func (ds *countingDataset) Name() string { return ds.name }
func (ds *countingDataset) Len() int     { return ds.length }
func (ds *countingDataset) Reset()       { ds.next = 0 }
func (ds *countingDataset) Yield() (any, error) {
	if ds.next >= ds.length {
		return nil, io.EOF
	}
	ds.next++
	return ds.next, nil
}

// streamingDataset yields forever and has no known length.
type streamingDataset struct {
	count int
}

func (ds *streamingDataset) Name() string { return "streaming" }
func (ds *streamingDataset) Reset()       {}
func (ds *streamingDataset) Yield() (any, error) {
	ds.count++
	return ds.count, nil
}

// countingGroup wraps a Group and counts collective calls.
type countingGroup struct {
	distributed.Group
	allReduceCalls int
}

func (g *countingGroup) AllReduce(values []float64, op distributed.ReduceOp) ([]float64, error) {
	g.allReduceCalls++
	return g.Group.AllReduce(values, op)
}

// soloGroup returns a single-worker group.
func soloGroup() distributed.Group {
	return distributed.NewLocalFleet(1).Group(0)
}

// fakeModule records its train/eval mode transitions.
type fakeModule struct {
	training bool
	switches []bool
}

func (m *fakeModule) SetTraining(training bool) {
	m.training = training
	m.switches = append(m.switches, training)
}
