package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/embed"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/loader"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/profile"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// profileCommand runs a program with a tick recorder attached, or loads a
// trace recorded earlier, and reports on the samples.
func (c *cli) profileCommand(args []string) error {
	fs := c.newFlagSet("profile")
	var f execFlags
	f.register(fs)
	limit := fs.Int("limit", 0, "keep at most n samples, 0 for all")
	output := fs.String("o", "", "write the trace to a .csv, .json, .jsonl or .parquet file")
	format := fs.String("format", "csv", "trace format on stdout: csv or json")
	plot := fs.Bool("plot", false, "plot stack depth per tick")
	height := fs.Int("height", 10, "plot height in rows")
	counts := fs.Bool("counts", false, "print an opcode count table")
	tracePath := fs.String("trace", "", "analyse an existing trace file instead of running a program")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "csv" && *format != "json" {
		return fmt.Errorf("unknown format %q: use csv or json", *format)
	}

	var (
		samples []profile.Sample
		dropped int64
		name    string
	)
	switch {
	case *tracePath != "":
		loaded, err := loader.LoadTrace(*tracePath)
		if err != nil {
			return err
		}
		samples = loaded
		name = filepath.Base(*tracePath)
	case fs.NArg() >= 1:
		path := fs.Arg(0)
		program, err := loadProgram(path)
		if err != nil {
			return err
		}
		var rec *profile.Recorder
		setup := embed.WithSetup(func(p *vm.Processor) {
			rec = profile.Attach(p, *limit)
		})
		// Program output goes to stderr so stdout carries only the trace.
		if _, err := c.execute(program, path, &f, c.stderr, setup); err != nil {
			return err
		}
		samples = rec.Samples()
		dropped = rec.Dropped()
		name = filepath.Base(path)
	default:
		return fmt.Errorf("usage: bbvm profile [options] <file> | -trace <trace>")
	}

	if f.verbose {
		fmt.Fprintf(c.stderr, "Recorded %d samples (%d dropped)\n", len(samples), dropped)
	}

	ctx := context.Background()
	df := profile.FrameOf(samples)
	if *output != "" {
		if err := writeTrace(ctx, *output, df); err != nil {
			return err
		}
		fmt.Fprintf(c.stderr, "Trace written to: %s\n", *output)
	}

	if *plot {
		graph, err := profile.PlotStack(samples, profile.PlotOptions{
			Height:  *height,
			Caption: "stack depth per tick: " + name,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, graph)
	}
	if *counts {
		profile.WriteCountTable(c.stdout, profile.CountOpcodes(samples))
	}

	if *plot || *counts || *output != "" {
		return nil
	}
	if *format == "json" {
		return profile.ExportJSON(ctx, c.stdout, df)
	}
	return profile.ExportCSV(ctx, c.stdout, df)
}

// writeTrace writes df in the format named by the extension of path.
func writeTrace(ctx context.Context, path string, df *dataframe.DataFrame) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return profile.ExportParquet(ctx, path, df)
	case ".csv", ".json", ".jsonl":
	default:
		return fmt.Errorf("%w: %s", loader.ErrUnknownFormat, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		err = profile.ExportCSV(ctx, f, df)
	} else {
		err = profile.ExportJSON(ctx, f, df)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
