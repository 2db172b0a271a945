// Package loader reads tick traces written by the profiler back into
// dataframes and samples.
package loader

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/profile"
)

// ErrUnknownFormat is returned for trace files with an unrecognised
// extension.
var ErrUnknownFormat = errors.New("unknown trace format")

// traceTypes dictates the column types of text traces. Without it the JSON
// importer loads numbers as float64 and an all-empty CSV column as strings.
var traceTypes = map[string]interface{}{
	profile.ColumnTick:   int64(0),
	profile.ColumnCP:     int64(0),
	profile.ColumnOpcode: "",
	profile.ColumnSP:     int64(0),
	profile.ColumnBP:     int64(0),
	profile.ColumnDepth:  int64(0),
}

// LoadTraceFrame loads a tick trace from a .csv, .json, .jsonl or .parquet
// file and checks that it has every trace column.
func LoadTraceFrame(path string) (*dataframe.DataFrame, error) {
	var (
		df  *dataframe.DataFrame
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		df, err = LoadCSV(path, traceTypes)
	case ".json", ".jsonl":
		df, err = LoadJSON(path, traceTypes)
	case ".parquet":
		df, err = LoadParquet(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	if err := profile.ValidateFrame(df); err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	return df, nil
}

// LoadTrace loads a tick trace file and converts it to samples sorted by
// tick.
func LoadTrace(path string) ([]profile.Sample, error) {
	df, err := LoadTraceFrame(path)
	if err != nil {
		return nil, err
	}
	samples, err := profile.SamplesFromFrame(df)
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	slices.SortStableFunc(samples, func(a, b profile.Sample) int {
		return cmp.Compare(a.Tick, b.Tick)
	})
	return samples, nil
}
