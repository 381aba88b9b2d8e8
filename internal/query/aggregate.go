package query

import (
	"math"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
)

// Aggregator folds rows into one value for a reduce node.
type Aggregator interface {
	Add(row batch.Row) error
	Emit() (interface{}, error)
}

// AggregatorFactory returns a fresh aggregator per evaluation.
type AggregatorFactory func() Aggregator

// Stats keeps running statistics of numeric values.
type Stats struct {
	Count      int64
	Sum        float64
	Min        float64
	Max        float64
	SumSquares float64
}

// AddValue adds a single value.
func (s *Stats) AddValue(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.Sum += v
	s.SumSquares += v * v
}

// Merge combines other into s.
func (s *Stats) Merge(other Stats) {
	if other.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = other
		return
	}
	s.Count += other.Count
	s.Sum += other.Sum
	s.SumSquares += other.SumSquares
	s.Min = math.Min(s.Min, other.Min)
	s.Max = math.Max(s.Max, other.Max)
}

func (s *Stats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Variance is the population variance.
func (s *Stats) Variance() float64 {
	if s.Count <= 1 {
		return 0
	}
	mean := s.Mean()
	// Var = E[X²] - (E[X])²
	return s.SumSquares/float64(s.Count) - mean*mean
}

func (s *Stats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// statsAggregator accumulates one column, skipping nil values.
type statsAggregator struct {
	column int
	stats  Stats
	emit   func(*Stats) interface{}
}

func (a *statsAggregator) Add(row batch.Row) error {
	v := row.At(a.column)
	if v == nil {
		return nil
	}
	f, err := compression.CoerceValue(v, compression.ColumnTypeFloat64)
	if err != nil {
		return err
	}
	a.stats.AddValue(f.(float64))
	return nil
}

func (a *statsAggregator) Emit() (interface{}, error) {
	return a.emit(&a.stats), nil
}

func statsOf(column int, emit func(*Stats) interface{}) AggregatorFactory {
	return func() Aggregator {
		return &statsAggregator{column: column, emit: emit}
	}
}

// CountOf counts the non-nil values of a column.
func CountOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} { return s.Count })
}

// SumOf sums a numeric column.
func SumOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} { return s.Sum })
}

// MeanOf averages a numeric column; nil for an empty input.
func MeanOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} {
		if s.Count == 0 {
			return nil
		}
		return s.Mean()
	})
}

// MinOf returns the smallest value of a numeric column; nil for an empty
// input.
func MinOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} {
		if s.Count == 0 {
			return nil
		}
		return s.Min
	})
}

// MaxOf returns the largest value of a numeric column; nil for an empty
// input.
func MaxOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} {
		if s.Count == 0 {
			return nil
		}
		return s.Max
	})
}

// StdDevOf returns the population standard deviation of a numeric column.
func StdDevOf(column int) AggregatorFactory {
	return statsOf(column, func(s *Stats) interface{} { return s.StdDev() })
}

// rowCounter counts rows regardless of their values.
type rowCounter struct{ n int64 }

func (c *rowCounter) Add(batch.Row) error        { c.n++; return nil }
func (c *rowCounter) Emit() (interface{}, error) { return c.n, nil }

// CountRows counts input rows.
func CountRows() AggregatorFactory {
	return func() Aggregator { return &rowCounter{} }
}
