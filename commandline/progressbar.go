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

// Package commandline renders a training progress bar on the terminal,
// attached to a train.Trainer through its hooks.
package commandline

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/fleettrain/engine"
	"github.com/gomlx/fleettrain/train"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal
// supports the graphical symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// progressBar holds a progressbar being displayed for one training run.
type progressBar struct {
	bar        *progressbar.ProgressBar
	suffix     string
	lossStyle  lipgloss.Style
	epochStyle lipgloss.Style
}

// Write implements io.Writer, appending the current metrics suffix to each
// write of the enclosed bar, so bar and suffix land in one write operation.
func (pBar *progressBar) Write(data []byte) (n int, err error) {
	n, err = os.Stdout.Write(data)
	if err != nil {
		return n, err
	}
	_, err = os.Stdout.Write([]byte(pBar.suffix))
	if err != nil {
		return 0, err
	}
	return
}

func (pBar *progressBar) onStart(t *train.Trainer, _ train.Dataset) error {
	pBar.bar = progressbar.NewOptions(t.Config().TrainIters,
		progressbar.OptionSetDescription("Training:"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	return nil
}

func (pBar *progressBar) onStep(t *train.Trainer, step int, result engine.StepResult) error {
	var parts []string
	keys := make([]string, 0, len(result.Losses))
	for key := range result.Losses {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		num, den := result.Losses[key].Terms()
		parts = append(parts, pBar.lossStyle.Render(fmt.Sprintf("%s=%.4f", key, num/den)))
	}
	parts = append(parts, pBar.epochStyle.Render(
		fmt.Sprintf("epoch=%d", t.RunContext().Epoch())),
		fmt.Sprintf("samples=%s", humanize.Comma(int64(t.ConsumedTrainSamples))))
	pBar.suffix = " [" + strings.Join(parts, ", ") + "]"
	return pBar.bar.Set(step)
}

func (pBar *progressBar) onEval(t *train.Trainer, result *train.EvalResult, elapsed time.Duration) error {
	if result.Aborted {
		fmt.Printf("\nEvaluation aborted (time limit) after %s\n", elapsed.Round(time.Millisecond))
		return nil
	}
	keys := make([]string, 0, len(result.Metrics))
	for key := range result.Metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4f", key, result.Metrics[key]))
	}
	fmt.Printf("\nEvaluation (%s): %s\n", elapsed.Round(time.Millisecond), strings.Join(parts, ", "))
	return nil
}

func (pBar *progressBar) onEnd(t *train.Trainer) error {
	err := pBar.bar.Finish()
	fmt.Println()
	return err
}

// AttachProgressBar creates a progress bar and attaches it to the Trainer's
// hooks. Only rank 0 displays anything; on other ranks this is a no-op, so it
// is safe to call unconditionally on every worker.
func AttachProgressBar(t *train.Trainer) {
	if t.Group().Rank() != 0 {
		return
	}
	pBar := &progressBar{
		lossStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		epochStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("136")),
	}
	t.OnStart("progressbar", 0, pBar.onStart)
	t.OnStep("progressbar", 0, pBar.onStep)
	t.OnEval("progressbar", 0, pBar.onEval)
	t.OnEnd("progressbar", 0, pBar.onEnd)
}
