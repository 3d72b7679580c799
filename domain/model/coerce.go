package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoerceValue converts a raw JSON value to the driver value stored for a column of type ct.
// When the value cannot be represented in ct, the raw text form is returned with ok=false;
// the caller stores it anyway and counts the fallback.
func CoerceValue(ct ColumnType, v any) (value any, ok bool) {
	if v == nil {
		return nil, true
	}

	switch ct {
	case ColumnTypeInteger:
		if n, ok := toInt64(v); ok {
			return n, true
		}
	case ColumnTypeReal:
		if f, ok := toFloat64(v); ok {
			return f, true
		}
	case ColumnTypeDatetime:
		if s, isString := v.(string); isString {
			if formatted, ok := FormatDatetime(s); ok {
				return formatted, true
			}
		}
	case ColumnTypeText:
		return RawText(v), true
	}
	return RawText(v), false
}

// RawText returns the textual representation of a raw JSON value.
// Strings are returned unchanged, nested values are JSON encoded.
func RawText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case Object, []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t), true
		}
		return 0, false
	case json.Number:
		return parseIntLiteral(string(t))
	case string:
		return parseIntLiteral(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

func parseIntLiteral(s string) (int64, bool) {
	if !integerLiteral.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case json.Number:
		return parseRealLiteral(string(t))
	case string:
		return parseRealLiteral(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

func parseRealLiteral(s string) (float64, bool) {
	if !realLiteral.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
