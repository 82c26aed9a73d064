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

package datasets

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain pulls batches until io.EOF and returns them.
func drain(t *testing.T, ds interface{ Yield() (any, error) }) []any {
	var got []any
	for {
		batch, err := ds.Yield()
		if err == io.EOF {
			return got
		}
		require.NoError(t, err)
		got = append(got, batch)
	}
}

func TestInMemory(t *testing.T) {
	ds := InMemory("mem", []any{1, 2, 3})
	assert.Equal(t, "mem", ds.Name())
	assert.Equal(t, 3, ds.Len())

	assert.Equal(t, []any{1, 2, 3}, drain(t, ds))
	// EOF is sticky until Reset.
	_, err := ds.Yield()
	assert.Equal(t, io.EOF, err)

	ds.Reset()
	assert.Equal(t, []any{1, 2, 3}, drain(t, ds))

	require.Panics(t, func() { InMemory("empty", nil) })
}

func TestFromYield(t *testing.T) {
	next, resets := 0, 0
	ds := FromYield("stream",
		func() (any, error) { next++; return next, nil },
		func() { resets++ })

	for want := 1; want <= 3; want++ {
		batch, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, want, batch)
	}
	ds.Reset()
	assert.Equal(t, 1, resets)

	// Reset is optional for streaming sources.
	noReset := FromYield("stream2", func() (any, error) { return 0, nil }, nil)
	assert.NotPanics(t, noReset.Reset)

	require.Panics(t, func() { FromYield("bad", nil, nil) })
}

func TestTake(t *testing.T) {
	next := 0
	infinite := FromYield("counter",
		func() (any, error) { next++; return next, nil },
		func() { next = 0 })

	ds := Take(infinite, 2)
	assert.Equal(t, 2, ds.Len())
	assert.Contains(t, ds.Name(), "counter")

	assert.Equal(t, []any{1, 2}, drain(t, ds))
	// Reset propagates to the wrapped dataset.
	ds.Reset()
	assert.Equal(t, []any{1, 2}, drain(t, ds))

	require.Panics(t, func() { Take(infinite, 0) })
}
