package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// DateLayout is the wire and storage format of date attributes
const DateLayout = "2006-01-02"

// numeric is satisfied by json.Number and compatible decoder number types
type numeric interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// Coerce converts a decoded JSON value to the Go representation of an attribute type:
// string, int64, float64, bool, time.Time (datetime) or a "YYYY-MM-DD" string (date).
// It is strict: a JSON string is not accepted for an integer.
func Coerce(t schema.AttrType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case schema.String, schema.Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, errors.New("must be a string")

	case schema.Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, errors.New("must be an integer")
			}
			return int64(n), nil
		case numeric:
			i, err := n.Int64()
			if err != nil {
				return nil, errors.New("must be an integer")
			}
			return i, nil
		}
		return nil, errors.New("must be an integer")

	case schema.Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case numeric:
			f, err := n.Float64()
			if err != nil {
				return nil, errors.New("must be a number")
			}
			return f, nil
		}
		return nil, errors.New("must be a number")

	case schema.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errors.New("must be a boolean")

	case schema.DateTime:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, tv)
			if err != nil {
				return nil, errors.New("must be an RFC 3339 timestamp")
			}
			return parsed.UTC(), nil
		}
		return nil, errors.New("must be an RFC 3339 timestamp")

	case schema.Date:
		switch tv := v.(type) {
		case time.Time:
			return tv.Format(DateLayout), nil
		case string:
			if _, err := time.Parse(DateLayout, tv); err != nil {
				return nil, errors.New("must be a date (YYYY-MM-DD)")
			}
			return tv, nil
		}
		return nil, errors.New("must be a date (YYYY-MM-DD)")
	}

	return nil, fmt.Errorf("unsupported attribute type %s", t)
}

// Parse converts a query string value to the Go representation of an attribute type
func Parse(t schema.AttrType, s string) (interface{}, error) {
	switch t {
	case schema.Integer:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, errors.New("must be an integer")
		}
		return i, nil
	case schema.Float:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.New("must be a number")
		}
		return f, nil
	case schema.Boolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.New("must be a boolean")
		}
		return b, nil
	default:
		return Coerce(t, s)
	}
}

// FromStorage converts a value read from a database driver to the Go representation of an
// attribute type. It is lenient about driver specific encodings (SQLite booleans are
// integers, text may arrive as []byte, dates as timestamps).
func FromStorage(t schema.AttrType, v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}

	switch t {
	case schema.Boolean:
		switch n := v.(type) {
		case int64:
			return n != 0, nil
		case string:
			return strconv.ParseBool(n)
		}
	case schema.Integer:
		if s, ok := v.(string); ok {
			return Parse(t, s)
		}
	case schema.Float:
		switch n := v.(type) {
		case string:
			return Parse(t, n)
		case int64:
			return float64(n), nil
		}
	case schema.DateTime:
		if s, ok := v.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, s); err == nil {
					return parsed.UTC(), nil
				}
			}
		}
	case schema.Date:
		if s, ok := v.(string); ok && len(s) >= len(DateLayout) {
			return s[:len(DateLayout)], nil
		}
	}
	return Coerce(t, v)
}
