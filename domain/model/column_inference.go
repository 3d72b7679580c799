package model

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recognized datetime patterns. Anything outside this set infers as TEXT.
var datetimePatterns = []struct {
	pattern *regexp.Regexp
	formats []string // Multiple formats for the same pattern
}{
	// ISO8601 date and time with timezone
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`),
		[]string{"2006-01-02T15:04:05.999999999Z07:00", "2006-01-02 15:04:05.999999999Z07:00"},
	},
	// ISO8601 date and time without timezone
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?$`),
		[]string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"},
	},
	// ISO8601 date only
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		[]string{time.DateOnly},
	},
}

// Canonical layouts used when storing DATETIME cells
const (
	storedDateLayout     = time.DateOnly
	storedDatetimeLayout = "2006-01-02T15:04:05.999999999"
	storedZonedLayout    = time.RFC3339Nano
)

// integerLiteral accepts an optional sign and digits without leading zeros.
var integerLiteral = regexp.MustCompile(`^-?(0|[1-9]\d*)$`)

// realLiteral accepts decimal and exponent forms without leading zeros.
var realLiteral = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)

// ParseDatetime parses value against the recognized datetime patterns.
// hasTime reports whether a time component was present, hasZone whether an offset was.
func ParseDatetime(value string) (t time.Time, hasTime, hasZone bool, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, false, false
	}

	for i, dp := range datetimePatterns {
		if !dp.pattern.MatchString(value) {
			continue
		}
		for _, format := range dp.formats {
			if parsed, err := time.Parse(format, value); err == nil {
				return parsed, i < 2, i == 0, true
			}
		}
	}
	return time.Time{}, false, false, false
}

// isDatetime checks if a string value represents a datetime
func isDatetime(value string) bool {
	_, _, _, ok := ParseDatetime(value)
	return ok
}

// FormatDatetime renders a datetime value in the canonical stored form.
func FormatDatetime(value string) (string, bool) {
	t, hasTime, hasZone, ok := ParseDatetime(value)
	if !ok {
		return "", false
	}
	switch {
	case !hasTime:
		return t.Format(storedDateLayout), true
	case hasZone:
		return t.Format(storedZonedLayout), true
	default:
		return t.Format(storedDatetimeLayout), true
	}
}

// scalarClass describes how a single raw value may be stored
type scalarClass int

const (
	classNull scalarClass = iota
	classInteger
	classReal
	classDatetime
	classText
)

// classify reports the tightest type a single raw JSON value conforms to.
func classify(v any) scalarClass {
	switch t := v.(type) {
	case nil:
		return classNull
	case bool:
		return classInteger
	case json.Number:
		return classifyNumeric(string(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return classText
		}
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return classInteger
		}
		return classReal
	case int, int32, int64:
		return classInteger
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return classText
		}
		if c := classifyNumeric(s); c != classText {
			return c
		}
		if isDatetime(s) {
			return classDatetime
		}
		return classText
	default:
		// nested arrays and objects
		return classText
	}
}

// classifyNumeric classifies a numeric literal as integer, real or text.
func classifyNumeric(s string) scalarClass {
	if integerLiteral.MatchString(s) {
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return classInteger
		}
		// out of int64 range, still a valid number
		return classReal
	}
	if realLiteral.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
			return classReal
		}
	}
	return classText
}

// InferColumnType infers the SQL column type from all raw values observed for a column.
//
// Rules are evaluated over non-null values in priority order: every value an
// integer literal gives INTEGER, every value numeric gives REAL, every value a
// recognized datetime gives DATETIME, anything else gives TEXT. A column with no
// non-null values is TEXT.
func InferColumnType(values []any) ColumnType {
	hasInteger := false
	hasReal := false
	hasDatetime := false

	for _, v := range values {
		switch classify(v) {
		case classNull:
			continue
		case classInteger:
			hasInteger = true
		case classReal:
			hasReal = true
		case classDatetime:
			hasDatetime = true
		case classText:
			// If any value is text, the whole column is text
			return ColumnTypeText
		}
	}

	switch {
	case hasDatetime && (hasInteger || hasReal):
		return ColumnTypeText
	case hasDatetime:
		return ColumnTypeDatetime
	case hasReal:
		return ColumnTypeReal
	case hasInteger:
		return ColumnTypeInteger
	default:
		return ColumnTypeText
	}
}
