package importer

import (
	"strconv"
	"strings"
	"time"
)

type affinity int

const (
	textAffinity affinity = iota
	intAffinity
	floatAffinity
	boolAffinity
	timeAffinity
)

// affinityOf maps a declared column type to the Go value it should receive,
// following SQLite's substring rules, which cover the other engines' names
// as well.
func affinityOf(declared string) affinity {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return intAffinity
	case strings.Contains(t, "BOOL"), t == "BIT":
		return boolAffinity
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return floatAffinity
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATETIME"), t == "DATE":
		return timeAffinity
	default:
		return textAffinity
	}
}

var dateTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func isNullValue(val string, nullLiterals []string) bool {
	trimmed := strings.TrimSpace(val)
	for _, nl := range nullLiterals {
		if strings.EqualFold(trimmed, strings.TrimSpace(nl)) {
			return true
		}
	}
	return false
}

// convertValue converts one field for a column of the given declared type.
// Text columns keep the raw field, surrounding spaces included.
func convertValue(val, declared string, nullLiterals []string) (any, error) {
	if isNullValue(val, nullLiterals) {
		return nil, nil
	}
	s := strings.TrimSpace(val)
	switch affinityOf(declared) {
	case intAffinity:
		return strconv.ParseInt(s, 10, 64)
	case floatAffinity:
		return strconv.ParseFloat(s, 64)
	case boolAffinity:
		return parseBool(s)
	case timeAffinity:
		return parseDateTime(s)
	default:
		return val, nil
	}
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return strconv.ParseBool(val)
	}
}

func parseDateTime(val string) (time.Time, error) {
	for _, layout := range dateTimeFormats {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &strconv.NumError{Func: "parseDateTime", Num: val, Err: strconv.ErrSyntax}
}
