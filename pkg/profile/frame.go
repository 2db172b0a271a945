package profile

import (
	"cmp"
	"fmt"
	"slices"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/samber/lo"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// FrameOf builds a tick trace dataframe with one row per sample.
func FrameOf(samples []Sample) *dataframe.DataFrame {
	n := len(samples)
	ticks := make([]int64, n)
	cps := make([]int64, n)
	ops := make([]string, n)
	sps := make([]int64, n)
	bps := make([]int64, n)
	depths := make([]int64, n)
	for i, s := range samples {
		ticks[i] = s.Tick
		cps[i] = int64(s.CodePointer)
		ops[i] = s.Opcode.String()
		sps[i] = int64(s.StackPointer)
		bps[i] = int64(s.BasePointer)
		depths[i] = int64(s.StackDepth)
	}
	return dataframe.NewDataFrame(
		newInt64Series(ColumnTick, ticks),
		newInt64Series(ColumnCP, cps),
		newStringSeries(ColumnOpcode, ops),
		newInt64Series(ColumnSP, sps),
		newInt64Series(ColumnBP, bps),
		newInt64Series(ColumnDepth, depths),
	)
}

// OpcodeCount is the number of times one opcode executed.
type OpcodeCount struct {
	Opcode string
	Count  int
}

// SortedCounts orders per-opcode counts by count, highest first, then by
// mnemonic.
func SortedCounts(counts map[string]int) []OpcodeCount {
	out := lo.Map(lo.Entries(counts), func(e lo.Entry[string, int], _ int) OpcodeCount {
		return OpcodeCount{Opcode: e.Key, Count: e.Value}
	})
	slices.SortFunc(out, func(a, b OpcodeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Opcode, b.Opcode)
	})
	return out
}

// OpcodeCounts builds an (opcode, count) dataframe from execution stats.
func OpcodeCounts(stats vm.ExecutionStats) *dataframe.DataFrame {
	sorted := SortedCounts(stats.OpCounts)
	names := make([]string, len(sorted))
	counts := make([]int64, len(sorted))
	for i, c := range sorted {
		names[i] = c.Opcode
		counts[i] = int64(c.Count)
	}
	return dataframe.NewDataFrame(
		newStringSeries(ColumnOpcode, names),
		newInt64Series("count", counts),
	)
}

// SamplesFromFrame converts a tick trace dataframe back into samples.
// Numeric columns may hold int64 or float64 values, which is what the CSV
// and JSON importers produce.
func SamplesFromFrame(df *dataframe.DataFrame) ([]Sample, error) {
	if err := ValidateFrame(df); err != nil {
		return nil, err
	}
	cols := make(map[string]dataframe.Series, len(Columns))
	for _, name := range Columns {
		s, _ := column(df, name)
		cols[name] = s
	}

	n := frameLength(df)
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		var ints [5]int64
		for j, name := range []string{ColumnTick, ColumnCP, ColumnSP, ColumnBP, ColumnDepth} {
			v, ok := int64Value(cols[name], i)
			if !ok {
				return nil, fmt.Errorf("%w: row %d column %s", ErrBadValue, i, name)
			}
			ints[j] = v
		}
		mnemonic, ok := stringValue(cols[ColumnOpcode], i)
		if !ok {
			return nil, fmt.Errorf("%w: row %d column %s", ErrBadValue, i, ColumnOpcode)
		}
		op, ok := vm.OpcodeFromString(mnemonic)
		if !ok {
			return nil, fmt.Errorf("%w: row %d: unknown opcode %q", ErrBadValue, i, mnemonic)
		}
		out[i] = Sample{
			Tick:         ints[0],
			CodePointer:  int(ints[1]),
			Opcode:       op,
			StackPointer: int(ints[2]),
			BasePointer:  int(ints[3]),
			StackDepth:   int(ints[4]),
		}
	}
	return out, nil
}

// ValidateFrame checks that df has every trace column.
func ValidateFrame(df *dataframe.DataFrame) error {
	if df == nil {
		return fmt.Errorf("%w: nil frame", ErrMissingColumn)
	}
	for _, name := range Columns {
		if _, ok := column(df, name); !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return nil
}

// CountOpcodes tallies executions per mnemonic, the same shape as
// vm.ExecutionStats.OpCounts.
func CountOpcodes(samples []Sample) map[string]int {
	return lo.CountValuesBy(samples, func(s Sample) string {
		return s.Opcode.String()
	})
}
