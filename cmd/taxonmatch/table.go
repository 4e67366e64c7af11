package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// view is a small report table. On a terminal it renders with rounded
// borders, anywhere else as TSV so the output pipes cleanly into cut or awk.
type view struct {
	headers []string
	rows    [][]string
	// numeric marks right-aligned column indexes.
	numeric map[int]bool
}

func (v view) writeTo(out io.Writer) {
	if len(v.headers) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.AppendHeader(v.row(v.headers))
	for _, r := range v.rows {
		tw.AppendRow(v.row(r))
	}
	if !isTerminal(out) {
		fmt.Fprintln(out, tw.RenderTSV())
		return
	}
	tw.SetStyle(table.StyleRounded)
	configs := make([]table.ColumnConfig, len(v.headers))
	for i := range v.headers {
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if v.numeric[i] {
			configs[i].Align = text.AlignRight
		}
	}
	tw.SetColumnConfigs(configs)
	fmt.Fprintln(out, tw.Render())
}

// row pads or truncates values to the header width.
func (v view) row(values []string) table.Row {
	r := make(table.Row, len(v.headers))
	for i := range r {
		r[i] = ""
		if i < len(values) {
			r[i] = values[i]
		}
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
