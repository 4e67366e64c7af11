package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"taxonmatch/internal/resolve"
)

// printSummary writes per-state and per-method counts for a run.
func printSummary(out io.Writer, result *resolve.Result, written []string) {
	counts := result.Counts()
	methods := make([]string, 0, len(counts.ByMatchedBy))
	for method := range counts.ByMatchedBy {
		methods = append(methods, method)
	}
	slices.Sort(methods)

	rows := [][]string{
		{"submissions", strconv.Itoa(len(result.Submissions))},
		{"distinct names", strconv.Itoa(counts.Total)},
		{"resolved", strconv.Itoa(counts.Resolved)},
		{"unresolved", strconv.Itoa(counts.Unresolved)},
		{"pending_retry", strconv.Itoa(counts.PendingRetry)},
	}
	for _, method := range methods {
		rows = append(rows, []string{"matched_by " + method, strconv.Itoa(counts.ByMatchedBy[method])})
	}

	view{headers: []string{"Summary", "Count"}, rows: rows, numeric: map[int]bool{1: true}}.writeTo(out)
	for _, stageErr := range result.Errors {
		fmt.Fprintf(out, "%s stage failed for %d names: %v\n", stageErr.Stage, len(stageErr.Keys), stageErr.Err)
	}
	if len(written) > 0 {
		fmt.Fprintln(out, "Diagnostics:")
		for _, path := range written {
			fmt.Fprintf(out, "  - %s\n", path)
		}
	}
}
