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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapValueRestores(t *testing.T) {
	value := 1
	func() {
		defer swapValue(&value, 7)()
		assert.Equal(t, 7, value)
	}()
	assert.Equal(t, 1, value)
}

func TestSwapValueRestoresOnPanic(t *testing.T) {
	rc := &RunContext{}
	require.Panics(t, func() {
		defer swapValue(&rc.isTraining, true)()
		panic("engine failure")
	})
	// Scoped effects are restored on every exit path, panics included.
	assert.False(t, rc.IsTraining())
}

func TestSwapValueNests(t *testing.T) {
	value := "outer"
	restoreA := swapValue(&value, "a")
	restoreB := swapValue(&value, "b")
	assert.Equal(t, "b", value)
	restoreB()
	assert.Equal(t, "a", value)
	restoreA()
	assert.Equal(t, "outer", value)
}
