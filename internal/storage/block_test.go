package storage

import (
	"fmt"
	"testing"

	"github.com/soltixdb/sframe/internal/compression"
)

func TestBlockRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		typ    compression.ColumnType
		values []interface{}
	}{
		{"ints", compression.ColumnTypeInt64, []interface{}{int64(5), nil, int64(-3), int64(1 << 40)}},
		{"floats", compression.ColumnTypeFloat64, []interface{}{1.5, 2.25, nil, -7.0}},
		{"strings", compression.ColumnTypeString, []interface{}{"a", "b", "a", nil}},
		{"bools", compression.ColumnTypeBool, []interface{}{true, nil, false}},
		{"nulls", compression.ColumnTypeNull, []interface{}{nil, nil}},
	}
	algos := []compression.Algorithm{compression.None, compression.Snappy, compression.LZ4, compression.Zstd}
	versions := []compression.FormatVersion{compression.FormatV1, compression.FormatV2}

	for _, tt := range tests {
		for _, algo := range algos {
			for _, version := range versions {
				t.Run(fmt.Sprintf("%s/%s/v%d", tt.name, algo, version), func(t *testing.T) {
					data, err := encodeBlock(tt.values, tt.typ, version, algo)
					if err != nil {
						t.Fatalf("encode: %v", err)
					}
					info := BlockInfo{
						Length:      uint32(len(data)),
						Rows:        uint32(len(tt.values)),
						Type:        tt.typ,
						Version:     version,
						Compression: algo,
					}
					got, err := decodeBlock(data, info)
					if err != nil {
						t.Fatalf("decode: %v", err)
					}
					if len(got) != len(tt.values) {
						t.Fatalf("decoded %d values, want %d", len(got), len(tt.values))
					}
					for i := range got {
						if got[i] != tt.values[i] {
							t.Errorf("value %d = %v, want %v", i, got[i], tt.values[i])
						}
					}
				})
			}
		}
	}
}

func TestDecodeBlockCorrupt(t *testing.T) {
	data, err := encodeBlock([]interface{}{int64(1), int64(2)}, compression.ColumnTypeInt64, compression.CurrentFormat, compression.Snappy)
	if err != nil {
		t.Fatal(err)
	}
	info := BlockInfo{Offset: 64, Rows: 2, Type: compression.ColumnTypeInt64, Version: compression.CurrentFormat, Compression: compression.Snappy}
	if _, err := decodeBlock(data[:len(data)/2], info); err == nil {
		t.Error("expected an error for a truncated block")
	}
}
