/*
Package rincewind – value coercion.

Coerce turns an external value into the typed in-memory value for a declared
attribute type; Export is the inverse. Both are pure apart from the
DateCodec, which belongs to the backing resource.
*/
package rincewind

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DateCodec converts between raw backing-resource dates and time.Time.
// SQL resources parse their native date strings, file sources use Unix
// timestamps.
type DateCodec interface {
	ParseDate(raw any, withTime bool) (time.Time, error)
	FormatDate(t time.Time, withTime bool) any
}

// Clock is used for the current-time default of not-null dates.
var Clock = time.Now

// Layouts accepted by the fallback date codec.
const (
	DateLayout         = "2006-01-02"
	DateWithTimeLayout = "2006-01-02 15:04:05"
)

// defaultDates handles the common textual and numeric date forms.
type defaultDates struct{}

func (defaultDates) ParseDate(raw any, withTime bool) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int, int32, int64, float64, float32, uint, uint32, uint64:
		n, _ := toInt64(v)
		return time.Unix(n, 0).UTC(), nil
	case []byte:
		return defaultDates{}.ParseDate(string(v), withTime)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		for _, layout := range []string{time.RFC3339Nano, DateWithTimeLayout, DateLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable date %q", s)
	}
	return time.Time{}, fmt.Errorf("unsupported date value %T", raw)
}

func (defaultDates) FormatDate(t time.Time, withTime bool) any {
	if withTime {
		return t.Format(DateWithTimeLayout)
	}
	return t.Format(DateLayout)
}

// DefaultDates is the DateCodec used when a driver does not provide one.
var DefaultDates DateCodec = defaultDates{}

// ZeroValue returns the not-null default for a type: 0, 0.0, false, "",
// an empty sequence, the current time, or the first enum value.
func ZeroValue(t AttributeType) any {
	switch t.kind {
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	case KindText:
		return ""
	case KindDate, KindDateWithTime:
		return Clock()
	case KindSequence:
		return []any{}
	case KindEnum:
		if len(t.values) > 0 {
			return t.values[0]
		}
		return ""
	}
	return nil
}

// Coerce converts value to the in-memory representation of t.
//
// A nil value yields nil when allowNull is set and the type's zero value
// otherwise. Unparsable input falls back the same way; the fallback is
// returned together with an *Error coded ErrCoercion so callers can warn and
// carry on. A nil value on a not-null attribute also reports ErrCoercion.
func Coerce(value any, t AttributeType, allowNull bool, dates DateCodec) (any, error) {
	if t.kind == KindIgnore || t.kind == KindReference {
		return value, nil
	}
	if value == nil {
		if allowNull {
			return nil, nil
		}
		zero := ZeroValue(t)
		return zero, NewError(fmt.Sprintf("null value for not-null %s attribute", t),
			WithCode(ErrCoercion), withValue(zero))
	}
	if dates == nil {
		dates = DefaultDates
	}

	out, err := coerceValue(value, t, dates)
	if err == nil {
		return out, nil
	}
	var fallback any
	if !allowNull {
		fallback = ZeroValue(t)
	}
	return fallback, NewError(err.Error(), WithCode(ErrCoercion), withValue(fallback),
		WithContext(map[string]any{"value": fmt.Sprintf("%v", value), "type": t.String()}))
}

func coerceValue(value any, t AttributeType, dates DateCodec) (any, error) {
	switch t.kind {
	case KindInt:
		return coerceInt(value)
	case KindFloat:
		return coerceFloat(value)
	case KindBool:
		return coerceBool(value)
	case KindText:
		return coerceText(value)
	case KindDate, KindDateWithTime:
		if tv, ok := value.(time.Time); ok {
			return tv, nil
		}
		return dates.ParseDate(value, t.kind == KindDateWithTime)
	case KindSequence:
		return coerceSequence(value)
	case KindEnum:
		s, err := coerceText(value)
		if err != nil {
			return nil, err
		}
		str := s.(string)
		for _, candidate := range t.values {
			if candidate == str {
				return candidate, nil
			}
		}
		for _, candidate := range t.values {
			if strings.EqualFold(candidate, str) {
				return candidate, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", str, t)
	}
	return value, nil
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case float32:
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("cannot convert %v to int", v)
		}
		return int64(v), nil
	case string:
		return parseIntString(v)
	case []byte:
		return parseIntString(string(v))
	case json.Number:
		return parseIntString(v.String())
	}
	if n, ok := toInt64(value); ok {
		return n, nil
	}
	return nil, fmt.Errorf("cannot convert %T to int", value)
}

func parseIntString(s string) (any, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f), nil
	}
	return nil, fmt.Errorf("cannot parse %q as int", s)
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case bool:
		if v {
			return float64(1), nil
		}
		return float64(0), nil
	case string:
		return parseFloatString(v)
	case []byte:
		return parseFloatString(string(v))
	case json.Number:
		return parseFloatString(v.String())
	}
	if n, ok := toInt64(value); ok {
		return float64(n), nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", value)
}

func parseFloatString(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q as float", s)
	}
	return f, nil
}

func coerceBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return parseBoolString(v)
	case []byte:
		return parseBoolString(string(v))
	case float64:
		return v != 0, nil
	case float32:
		return v != 0, nil
	}
	if n, ok := toInt64(value); ok {
		return n != 0, nil
	}
	return nil, fmt.Errorf("cannot convert %T to bool", value)
}

func parseBoolString(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1":
		return true, nil
	case "false", "f", "0":
		return false, nil
	}
	return nil, fmt.Errorf("cannot parse %q as bool", s)
}

func coerceText(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	if n, ok := toInt64(value); ok {
		return strconv.FormatInt(n, 10), nil
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return nil, fmt.Errorf("cannot convert %T to text", value)
	}
	return fmt.Sprintf("%v", value), nil
}

func coerceSequence(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case string:
		return decodeSequence([]byte(v))
	case []byte:
		return decodeSequence(v)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to sequence", value)
}

// decodeSequence accepts the JSON array form used by SQL columns.
func decodeSequence(b []byte) (any, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return []any{}, nil
	}
	var out []any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("cannot parse %q as sequence", s)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// Export converts a typed value into the canonical external representation:
// int64, float64, bool, string, []any, or whatever the DateCodec emits for
// dates. Values of the wrong Go type are coerced first. A nil value stays nil
// unless notNull is set, in which case the type's zero value is exported.
func Export(value any, t AttributeType, notNull bool, dates DateCodec) (any, error) {
	if t.kind == KindIgnore || t.kind == KindReference {
		return value, nil
	}
	if dates == nil {
		dates = DefaultDates
	}
	typed, err := Coerce(value, t, !notNull, dates)
	if typed == nil {
		return nil, err
	}
	if t.IsDate() {
		return dates.FormatDate(typed.(time.Time), t.kind == KindDateWithTime), err
	}
	return typed, err
}

// toInt64 converts any Go integer kind.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}
