package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/hupe1980/reviewrag/core"
)

// ReadCSV reads a CSV stream whose first line is a header. Each following
// line becomes a RawRow keyed by header name. Short lines leave their
// trailing columns absent.
func ReadCSV(r io.Reader) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing csv header", core.ErrMalformedInput)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []RawRow
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make(RawRow, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReviewRow is the Parquet layout read by ReadParquet.
type ReviewRow struct {
	Title  string `parquet:"product_title"`
	Review string `parquet:"review"`
}

// ReadParquet reads a Parquet file with product_title and review columns.
// The returned rows are keyed by the given column names so they feed a
// Normalizer configured with any title/review column names.
func ReadParquet(path, titleColumn, reviewColumn string) ([]RawRow, error) {
	return ReadParquetAs(path, func(r ReviewRow) RawRow {
		return RawRow{titleColumn: r.Title, reviewColumn: r.Review}
	})
}

// ReadParquetAs reads a Parquet file into T and converts each row.
func ReadParquetAs[T any](path string, convert func(T) RawRow) ([]RawRow, error) {
	items, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	rows := make([]RawRow, len(items))
	for i, item := range items {
		rows[i] = convert(item)
	}
	return rows, nil
}

// LoadFile reads a .csv or .parquet file and normalizes it.
func LoadFile(path string, n *Normalizer) ([]core.Record, error) {
	var (
		rows []RawRow
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, openErr
		}
		defer f.Close()
		rows, err = ReadCSV(f)
	case ".parquet":
		title, review := n.Columns()
		rows, err = ReadParquet(path, title, review)
	default:
		return nil, fmt.Errorf("unsupported data file %q: want .csv or .parquet", path)
	}
	if err != nil {
		return nil, err
	}
	return n.Normalize(rows)
}
