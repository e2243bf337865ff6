package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Interpolate replaces {{var}} and {{var.nested}} tokens with values from
// vars. Unresolved tokens are left verbatim so a misconfigured flow
// degrades to visible-but-wrong text instead of failing the run.
func Interpolate(s string, vars map[string]interface{}) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]
		if val, ok := LookupPath(vars, path); ok {
			return Stringify(val)
		}
		return token
	})
}

// LookupPath resolves a dotted path ("client.email") through nested maps.
func LookupPath(vars map[string]interface{}, path string) (interface{}, bool) {
	if vars == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = vars
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a variable value for templates and comparisons.
func Stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; drop the trailing .0 for whole
		// values so ids and counts render cleanly.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToFloat coerces a variable value to a number for comparisons.
func ToFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
