package profile

import (
	"math"

	dataframe "github.com/rocketlaunchr/dataframe-go"
)

func newInt64Series(name string, data []int64) *dataframe.SeriesInt64 {
	vals := make([]interface{}, len(data))
	for i, v := range data {
		vals[i] = v
	}
	return dataframe.NewSeriesInt64(name, nil, vals...)
}

func newStringSeries(name string, data []string) *dataframe.SeriesString {
	vals := make([]interface{}, len(data))
	for i, v := range data {
		vals[i] = v
	}
	return dataframe.NewSeriesString(name, nil, vals...)
}

// column looks a series up by name.
func column(df *dataframe.DataFrame, name string) (dataframe.Series, bool) {
	idx, err := df.NameToColumn(name)
	if err != nil {
		return nil, false
	}
	return df.Series[idx], true
}

func frameLength(df *dataframe.DataFrame) int {
	if df == nil || len(df.Series) == 0 {
		return 0
	}
	return df.Series[0].NRows()
}

// int64Value reads row i as an integer. Whole float64 values in the int64
// range are accepted.
func int64Value(s dataframe.Series, i int) (int64, bool) {
	if s == nil || i < 0 || i >= s.NRows() {
		return 0, false
	}
	switch v := s.Value(i).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func stringValue(s dataframe.Series, i int) (string, bool) {
	if s == nil || i < 0 || i >= s.NRows() {
		return "", false
	}
	str, ok := s.Value(i).(string)
	return str, ok
}
