package loader

import (
	"context"
	"errors"
	"fmt"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

var ErrEmptyParquet = errors.New("empty Parquet file")

// LoadParquet reads a trace written by profile.ExportParquet. Column types
// come from the file schema.
func LoadParquet(path string) (df *dataframe.DataFrame, err error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := fr.Close(); err == nil && cerr != nil {
			df, err = nil, cerr
		}
	}()

	df, err = imports.LoadFromParquet(context.Background(), fr)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyParquet
	}
	return df, nil
}
