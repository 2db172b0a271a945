package loader

import (
	"bytes"
	"context"
	"errors"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
)

// JSON-specific errors
var (
	ErrEmptyJSON = errors.New("empty JSON file")
)

// LoadJSON reads a JSON lines file, one object per row, and returns a
// DataFrame. Fields named in types are loaded with that Go type (int64(0),
// float64(0), ""). Other fields take the type of their first value: numbers
// load as float64 and strings as strings.
func LoadJSON(path string, types map[string]interface{}) (*dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyJSON
	}

	var opts []imports.JSONLoadOptions
	if len(types) > 0 {
		opts = append(opts, imports.JSONLoadOptions{DictateDataType: types})
	}
	df, err := imports.LoadFromJSON(context.Background(), bytes.NewReader(data), opts...)
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyJSON
	}

	return df, nil
}
