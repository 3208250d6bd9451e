package dataset

import (
	"strconv"
	"strings"
	"time"

	"github.com/StevenACoffman/anotherr/errors"
)

// date layouts accepted when coercing strings, most specific first.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
}

func stringify(v Value) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// AsFloat coerces a cell to float64. Nulls and unconvertible values return
// an error; the caller decides whether that nulls the cell or fails the run.
func AsFloat(v Value) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Newf("cannot convert %q to number", t)
		}
		return f, nil
	case nil:
		return 0, errors.New("cannot convert null to number")
	default:
		return 0, errors.Newf("cannot convert %T to number", v)
	}
}

// AsInt coerces a cell to int64, truncating floats with no fractional part.
func AsInt(v Value) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, errors.Newf("cannot convert %v to integer", t)
		}
		return int64(t), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.Newf("cannot convert %q to integer", t)
		}
		return i, nil
	case nil:
		return 0, errors.New("cannot convert null to integer")
	default:
		return 0, errors.Newf("cannot convert %T to integer", v)
	}
}

// AsBool coerces a cell to bool, accepting the usual string spellings.
func AsBool(v Value) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(t)))
		if err != nil {
			return false, errors.Newf("cannot convert %q to bool", t)
		}
		return b, nil
	case int64:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case nil:
		return false, errors.New("cannot convert null to bool")
	default:
		return false, errors.Newf("cannot convert %T to bool", v)
	}
}

// AsTime coerces a cell to a time.Time using the accepted date layouts.
func AsTime(v Value) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, errors.Newf("cannot convert %q to date", t)
	case nil:
		return time.Time{}, errors.New("cannot convert null to date")
	default:
		return time.Time{}, errors.Newf("cannot convert %T to date", v)
	}
}
