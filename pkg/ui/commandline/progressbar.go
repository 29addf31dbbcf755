// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search"
)

// ProgressBarName is the name of the hooks the progress bar attaches to the engine.
const ProgressBarName = "synapse.ui.commandline.progressBar"

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressBar holds a progressbar being displayed.
type progressBar struct {
	out              io.Writer
	bar              *progressbar.ProgressBar
	lastStepReported int

	// lipgloss based rich and asynchronous display.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup
}

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

func newStatsTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

func (pBar *progressBar) onStart(engine *search.Engine) error {
	pBar.lastStepReported = 0
	maxSteps := engine.Config().MaxIterations
	description := "Searching: "
	if maxSteps <= 0 {
		// Unknown length: the bar becomes a spinner.
		maxSteps = -1
	} else {
		description = fmt.Sprintf("Searching (at most %s plans): ", humanize.Comma(int64(maxSteps)))
	}
	pBar.bar = progressbar.NewOptions(maxSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("plans"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionSetWriter(pBar.out),
	)
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so the search is not blocked.
	pBar.isFirstOutput = true
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
	return nil
}

func (pBar *progressBar) onStep(engine *search.Engine, e *ep.EP) error {
	amount := engine.Iteration() - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}
	pBar.lastStepReported = engine.Iteration()
	result := engine.Result()
	update := progressBarUpdate{amount: amount}
	update.rows = append(update.rows,
		[2]string{"Iteration", humanize.Comma(int64(engine.Iteration()))},
		[2]string{"Frontier", humanize.Comma(int64(engine.FrontierSize()))},
		[2]string{"Solutions", humanize.Comma(int64(result.Solutions))},
		[2]string{"Current plan", e.String()},
		[2]string{"Median expansion", FormatDuration(result.MedianExpansionDuration())},
	)
	if result.Best != nil {
		update.rows = append(update.rows, [2]string{"Best score", engine.Config().Heuristic.Describe(result.BestScore)})
	}
	pBar.updates <- update
	return nil
}

// drawUpdates asynchronously draws updates, so a slow terminal doesn't slow down the search.
func (pBar *progressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	numLinesPrinted := 0
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(numLinesPrinted)
		}
		pBar.isFirstOutput = false

		rendered := pBar.statsStyle.Render(pBar.statsTable.String())
		_, _ = fmt.Fprintln(pBar.out, rendered)
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(pBar.out)
		numLinesPrinted = lipgloss.Height(rendered) + 1
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func (pBar *progressBar) onEnd(_ *search.Engine, _ *search.Result) error {
	if pBar.updates != nil {
		close(pBar.updates)
	}
	pBar.asyncUpdatesDone.Wait()
	pBar.updates = nil
	if pBar.bar != nil {
		_ = pBar.bar.Finish()
	}
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// AttachProgressBar creates a commandline progress bar and attaches it to the engine, so that
// everytime it runs it displays the progression of the search and a table with its stats.
func AttachProgressBar(engine *search.Engine) {
	AttachProgressBarTo(engine, os.Stdout)
}

// AttachProgressBarTo is like AttachProgressBar, but writes to out.
func AttachProgressBarTo(engine *search.Engine, out io.Writer) {
	pBar := &progressBar{
		out:        out,
		termenv:    termenv.NewOutput(out),
		statsStyle: lipgloss.NewStyle().PaddingLeft(8),
		statsTable: newStatsTable(),
	}
	engine.OnStart(ProgressBarName, 0, pBar.onStart)
	engine.OnStep(ProgressBarName, 0, pBar.onStep)
	engine.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
