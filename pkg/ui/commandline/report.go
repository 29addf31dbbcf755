// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools to run searches from the command line:
// a progress bar, the summary of a search and the listing of the plan realized on a target.
package commandline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(tableBorderColor))
	durationRE = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)
)

// FormatDuration pretty prints a duration with at most 2 decimal places.
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRE.FindStringSubmatch(s)
	if len(matches) != 3 || len(matches[0]) != len(s) {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

// FormatPPS pretty prints a rate in packets per second with SI prefixes.
func FormatPPS(pps float64) string {
	return humanize.SIWithDigits(pps, 2, "pps")
}

// Summary renders a table with the outcome of a search ranked by h.
func Summary(result *search.Result, h *heuristic.Heuristic) string {
	table := newStatsTable()
	table.Row("Run", result.RunID.String())
	table.Row("Heuristic", h.String())
	table.Row("Iterations", humanize.Comma(int64(result.Iterations)))
	table.Row("Expanded plans", humanize.Comma(int64(result.Expanded)))
	table.Row("Dead ends", humanize.Comma(int64(result.DeadEnds)))
	if result.Pruned > 0 {
		table.Row("Pruned duplicates", humanize.Comma(int64(result.Pruned)))
	}
	table.Row("Solutions", humanize.Comma(int64(result.Solutions)))
	table.Row("Median expansion", FormatDuration(result.MedianExpansionDuration()))
	table.Row("Total expansion", FormatDuration(result.TotalExpansionDuration()))
	if result.Stopped {
		table.Row("Stopped", result.StopReason)
	}
	if result.Best != nil {
		best := result.Best
		table.Row("Best score", h.Describe(result.BestScore))
		table.Row("Estimated throughput", FormatPPS(best.Throughput()))
		table.Row("Plan nodes", humanize.Comma(int64(best.NumNodes())))
		for _, t := range best.Platform().TargetList() {
			table.Row("  on "+t.String(), humanize.Comma(int64(best.Meta().NodesPerTarget[t])))
		}
		table.Row("Reorderings", strconv.Itoa(best.Meta().Reorderings))
	} else if result.BestPartial != nil {
		table.Row("Best partial plan", result.BestPartial.String())
		table.Row("Best partial score", h.Describe(result.BestPartialScore))
	}
	return titleStyle.Render("Search summary") + "\n" + table.String()
}

// PlanListing lists the plan nodes of e realized on target t, in plan order, one per line.
// It is the content of the plan file of the target.
func PlanListing(e *ep.EP, t targets.Target) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "# %s plan of EP#%d\n", t, e.ID())
	if roots := e.Meta().Roots[t]; len(roots) > 0 {
		parts := make([]string, len(roots))
		for ii, r := range roots {
			parts[ii] = "#" + strconv.Itoa(int(r))
		}
		_, _ = fmt.Fprintf(&sb, "# entry nodes: %s\n", strings.Join(parts, " "))
	}
	count := 0
	for _, node := range e.Nodes() {
		m := node.Module
		if m.Type.Target != t {
			continue
		}
		count++
		_, _ = fmt.Fprintf(&sb, "%d\t%s\tbdd=#%d", node.ID, m.Type.Name, m.Node)
		if node.Prev != ep.InvalidEPNodeID {
			_, _ = fmt.Fprintf(&sb, "\tprev=%d", node.Prev)
		}
		if m.NextTarget != t {
			_, _ = fmt.Fprintf(&sb, "\tnext=%s", m.NextTarget)
		}
		if m.Data != nil {
			_, _ = fmt.Fprintf(&sb, "\t%v", m.Data)
		}
		sb.WriteByte('\n')
	}
	if count == 0 {
		sb.WriteString("# no nodes\n")
	}
	return sb.String()
}
