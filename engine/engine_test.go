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

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLossValueTerms(t *testing.T) {
	num, den := Scalar(3.5).Terms()
	assert.Equal(t, 3.5, num)
	assert.Equal(t, 1.0, den)

	num, den = Weighted(10, 4).Terms()
	assert.Equal(t, 10.0, num)
	assert.Equal(t, 4.0, den)
}

func TestSkippedStep(t *testing.T) {
	result := SkippedStep()
	assert.True(t, result.Skipped)
	assert.True(t, result.ShouldCheckpoint)
	assert.True(t, result.ShouldExit)
	assert.Empty(t, result.Losses)
	assert.NotNil(t, result.Losses, "empty dict, not nil: no zero-valued entries either")
	assert.Zero(t, result.GradNorm)
	assert.Nil(t, result.Extra)
}

func TestRerunToggle(t *testing.T) {
	toggle := NewRerunToggle(RerunValidateResults)
	assert.Equal(t, RerunValidateResults, toggle.Mode())
	toggle.SetMode(RerunDisabled)
	assert.Equal(t, RerunDisabled, toggle.Mode())
	toggle.SetMode(RerunReportStats)
	assert.Equal(t, RerunReportStats, toggle.Mode())
}

func TestRerunModeString(t *testing.T) {
	assert.Equal(t, "RerunValidateResults", RerunValidateResults.String())
	assert.Equal(t, "RerunReportStats", RerunReportStats.String())
	assert.Equal(t, "RerunDisabled", RerunDisabled.String())
	assert.Equal(t, "RerunMode(?)", RerunMode(99).String())
}
