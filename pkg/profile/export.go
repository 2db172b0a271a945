package profile

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"
)

// ExportCSV writes df as CSV with a header row.
func ExportCSV(ctx context.Context, w io.Writer, df *dataframe.DataFrame) error {
	return exports.ExportToCSV(ctx, w, df)
}

// ExportJSON writes df as JSON lines, one object per row.
func ExportJSON(ctx context.Context, w io.Writer, df *dataframe.DataFrame) error {
	return exports.ExportToJSON(ctx, w, df)
}

// ExportParquet writes df to a Parquet file at path.
func ExportParquet(ctx context.Context, path string, df *dataframe.DataFrame) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := exports.ExportToParquet(ctx, fw, df); err != nil {
		fw.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return fw.Close()
}

// PlotOptions controls PlotStack.
type PlotOptions struct {
	Height  int // rows; 0 picks asciigraph's default
	Width   int // columns; 0 plots one column per sample
	Caption string
}

// PlotStack draws the stack depth of samples as an ASCII line graph.
func PlotStack(samples []Sample, opts PlotOptions) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoSamples
	}
	series := make([]float64, len(samples))
	for i, s := range samples {
		series[i] = float64(s.StackDepth)
	}
	// asciigraph needs at least two points to draw a line.
	if len(series) == 1 {
		series = append(series, series[0])
	}

	var options []asciigraph.Option
	if opts.Height > 0 {
		options = append(options, asciigraph.Height(opts.Height))
	}
	if opts.Width > 0 {
		options = append(options, asciigraph.Width(opts.Width))
	}
	if opts.Caption != "" {
		options = append(options, asciigraph.Caption(opts.Caption))
	}
	return asciigraph.Plot(series, options...), nil
}

// WriteCountTable renders per-opcode counts as a table with a share column.
func WriteCountTable(w io.Writer, counts map[string]int) {
	sorted := SortedCounts(counts)
	total := 0
	for _, c := range sorted {
		total += c.Count
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Opcode", "Count", "Share"})
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
	for _, c := range sorted {
		table.Append([]string{
			c.Opcode,
			strconv.Itoa(c.Count),
			fmt.Sprintf("%.1f%%", 100*float64(c.Count)/float64(total)),
		})
	}
	table.SetFooter([]string{"total", strconv.Itoa(total), ""})
	table.Render()
}
