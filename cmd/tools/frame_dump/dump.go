package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/soltixdb/sframe/internal/storage"
)

// rowsPerRead bounds how many rows are decoded at once.
const rowsPerRead = 8192

type rowRange struct {
	start, end int64 // end < 0 means the last row
}

func (r rowRange) clamp(n int64) (int64, int64, error) {
	end := r.end
	if end < 0 || end > n {
		end = n
	}
	if r.start < 0 || r.start > end {
		return 0, 0, fmt.Errorf("invalid row range [%d, %d) for %d rows", r.start, r.end, n)
	}
	return r.start, end, nil
}

// tableInfo describes a table without its data.
type tableInfo struct {
	Path    string       `json:"path"`
	Rows    int64        `json:"rows"`
	Columns []columnInfo `json:"columns"`
}

type columnInfo struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Format   int               `json:"format_version"`
	Segments []string          `json:"segments"`
	Sizes    []int64           `json:"segment_sizes"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func describe(t *storage.Table) tableInfo {
	info := tableInfo{Path: t.Path(), Rows: t.NumRows()}
	names := t.ColumnNames()
	for i, c := range t.Columns() {
		info.Columns = append(info.Columns, columnInfo{
			Name:     names[i],
			Type:     c.Type().String(),
			Format:   int(c.Version()),
			Segments: c.SegmentFiles(),
			Sizes:    c.SegmentSizes(),
			Metadata: c.Metadata(),
		})
	}
	return info
}

func dump(ctx context.Context, w io.Writer, t *storage.Table, format string, rng rowRange) error {
	switch format {
	case "info":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(describe(t))
	case "csv":
		return dumpCSV(ctx, w, t, rng)
	case "json":
		return dumpJSON(ctx, w, t, rng)
	}
	return fmt.Errorf("unknown format %q (valid: csv, json, info)", format)
}

// eachChunk reads [start, end) in chunks of rowsPerRead rows.
func eachChunk(ctx context.Context, t *storage.Table, rng rowRange, fn func(rows [][]interface{}) error) error {
	start, end, err := rng.clamp(t.NumRows())
	if err != nil {
		return err
	}
	for lo := start; lo < end; lo += rowsPerRead {
		b, err := t.ReadRows(ctx, lo, min(lo+rowsPerRead, end))
		if err != nil {
			return err
		}
		if err := fn(b.ToRows()); err != nil {
			return err
		}
	}
	return nil
}

func dumpCSV(ctx context.Context, w io.Writer, t *storage.Table, rng rowRange) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, t.NumColumns())
	err := eachChunk(ctx, t, rng, func(rows [][]interface{}) error {
		for _, row := range rows {
			for i, v := range row {
				record[i] = ""
				if v != nil {
					record[i] = fmt.Sprintf("%v", v)
				}
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// dumpJSON writes one JSON object per row.
func dumpJSON(ctx context.Context, w io.Writer, t *storage.Table, rng rowRange) error {
	enc := json.NewEncoder(w)
	names := t.ColumnNames()
	return eachChunk(ctx, t, rng, func(rows [][]interface{}) error {
		for _, row := range rows {
			obj := make(map[string]interface{}, len(names))
			for i, v := range row {
				obj[names[i]] = v
			}
			if err := enc.Encode(obj); err != nil {
				return err
			}
		}
		return nil
	})
}
