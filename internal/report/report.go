// Package report renders the timings log as a per-query comparison table.
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
)

const (
	Filename = "timings.txt"
	barWidth = 40
)

// Report holds the latest duration of every (solution, query) pair measured
// at one scale factor.
type Report struct {
	ScaleFactor float64
	Solutions   []string
	Queries     []int
	durations   map[int]map[string]time.Duration
}

// New keeps records measured at scaleFactor; a later record of the same
// solution and query replaces the earlier one. nQueries > 0 keeps only the
// first nQueries query numbers.
func New(records []runner.Record, scaleFactor float64, nQueries int) *Report {
	r := &Report{ScaleFactor: scaleFactor, durations: make(map[int]map[string]time.Duration)}
	for _, record := range records {
		if record.ScaleFactor != scaleFactor {
			continue
		}
		perSolution, ok := r.durations[record.Query]
		if !ok {
			perSolution = make(map[string]time.Duration)
			r.durations[record.Query] = perSolution
			r.Queries = append(r.Queries, record.Query)
		}
		if !slices.Contains(r.Solutions, record.Solution) {
			r.Solutions = append(r.Solutions, record.Solution)
		}
		perSolution[record.Solution] = record.Duration
	}
	slices.Sort(r.Solutions)
	slices.Sort(r.Queries)
	if nQueries > 0 && len(r.Queries) > nQueries {
		for _, query := range r.Queries[nQueries:] {
			delete(r.durations, query)
		}
		r.Queries = r.Queries[:nQueries]
	}
	return r
}

// Duration of query for solution; false when it was not measured.
func (r *Report) Duration(query int, solution string) (time.Duration, bool) {
	d, ok := r.durations[query][solution]
	return d, ok
}

func (r *Report) longest() time.Duration {
	var longest time.Duration
	for _, perSolution := range r.durations {
		for _, d := range perSolution {
			longest = max(longest, d)
		}
	}
	return longest
}

func bar(d time.Duration, limit float64) string {
	if limit <= 0 {
		return ""
	}
	ratio := d.Seconds() / limit
	if ratio > 1 {
		return strings.Repeat("█", barWidth) + "▶"
	}
	return strings.Repeat("█", int(math.Round(ratio*barWidth)))
}

// Render writes the table to w. Bars are scaled to yLimit seconds, or to the
// longest duration when yLimit is nil.
func (r *Report) Render(w io.Writer, yLimit *float64) {
	limit := r.longest().Seconds()
	if yLimit != nil {
		limit = *yLimit
	}
	fmt.Fprintf(w, "scale factor %v, duration in seconds\n", config.FormatScaleFactor(r.ScaleFactor))

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(append(append([]string{"query"}, r.Solutions...), "chart"))
	alignment := []int{tablewriter.ALIGN_LEFT}
	for range r.Solutions {
		alignment = append(alignment, tablewriter.ALIGN_RIGHT)
	}
	table.SetColumnAlignment(append(alignment, tablewriter.ALIGN_LEFT))

	width := 0
	for _, solution := range r.Solutions {
		width = max(width, len(solution))
	}
	for _, query := range r.Queries {
		row := []string{fmt.Sprintf("q%v", query)}
		var bars []string
		for _, solution := range r.Solutions {
			d, ok := r.Duration(query, solution)
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%.3f", d.Seconds()))
			bars = append(bars, fmt.Sprintf("%-*v %v", width, solution, bar(d, limit)))
		}
		table.Append(append(row, strings.Join(bars, "\n")))
	}
	table.Render()
}

// Write renders the report of the configured timings log into
// <paths.plots>/timings.txt and, with plot.show, into out. It returns the
// written path.
func Write(settings config.Settings, out io.Writer) (string, error) {
	log := runner.NewTimingsLog(settings.Paths)
	records, err := runner.ReadTimings(log.Path)
	if err != nil {
		return "", fmt.Errorf("read timings: %w", err)
	}
	r := New(records, settings.ScaleFactor, settings.Plot.NQueries)
	if len(r.Queries) == 0 {
		return "", fmt.Errorf("no timings at scale factor %v in %v", config.FormatScaleFactor(settings.ScaleFactor), log.Path)
	}
	var buf bytes.Buffer
	r.Render(&buf, settings.Plot.YLimit)

	if err := os.MkdirAll(settings.Paths.Plots, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(settings.Paths.Plots, Filename)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	logger.Logger.Infof("report of %v queries and %v solutions written to %v", len(r.Queries), len(r.Solutions), path)
	if settings.Plot.Show {
		if _, err := out.Write(buf.Bytes()); err != nil {
			return "", err
		}
	}
	return path, nil
}
