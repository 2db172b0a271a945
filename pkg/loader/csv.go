package loader

import (
	"context"
	"errors"
	"fmt"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
)

var ErrEmptyFile = errors.New("empty CSV file")

// LoadCSV reads a CSV trace whose first row names the columns. Columns
// listed in types are forced to that Go type; the rest are inferred, so a
// column of integers becomes a SeriesInt64 and anything else a string.
func LoadCSV(path string, types map[string]interface{}) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	df, err := imports.LoadFromCSV(context.Background(), file, imports.CSVLoadOptions{
		InferDataTypes:  true,
		DictateDataType: types,
	})
	if errors.Is(err, dataframe.ErrNoRows) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyFile
	}
	return df, nil
}
