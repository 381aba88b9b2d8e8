package compression

import (
	"fmt"
	"math"
	"strconv"
)

// CoerceValue converts v to the canonical Go representation of t:
// int64, float64, string or bool. nil is valid for every type. An error is
// returned when the conversion would lose information or is undefined.
func CoerceValue(v interface{}, t ColumnType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColumnTypeInt64:
		return toInt64(v)
	case ColumnTypeFloat64:
		return toFloat64(v)
	case ColumnTypeString:
		return toString(v), nil
	case ColumnTypeBool:
		return toBool(v)
	case ColumnTypeNull:
		return nil, fmt.Errorf("cannot store %T in undefined column", v)
	}
	return nil, fmt.Errorf("unsupported column type: %d", t)
}

func toInt64(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case float64:
		return floatToInt(val)
	case float32:
		return floatToInt(float64(val))
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to int", val)
		}
		return i, nil
	}
	return nil, fmt.Errorf("cannot convert %T to int", v)
}

func floatToInt(f float64) (interface{}, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("cannot convert %v to int without loss", f)
	}
	return int64(f), nil
}

func toFloat64(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case bool:
		if val {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", val)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", v)
}

func toBool(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to bool", val)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot convert %T to bool", v)
}
