package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// getPath resolves a dotted field path against doc. Re-marshaling the
// already-decoded document and delegating to gjson's path resolver gives the
// translator dotted-path-into-nested-maps support without hand-rolling a
// second path walker alongside the one encoding/json already uses to build
// doc.
func getPath(doc map[string]any, path string) (any, bool) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// evalOp applies a single field-level operator. actual/actualOK is the
// resolved (possibly-absent) field value; value is the operator's operand
// as supplied by the caller's query.
func evalOp(op string, actual any, actualOK bool, value any) bool {
	switch op {
	case "$eq":
		return actualOK && looseEqual(actual, value)
	case "$ne":
		return !actualOK || !looseEqual(actual, value)
	case "$in":
		return actualOK && containsAny(value, actual)
	case "$nin":
		return !actualOK || !containsAny(value, actual)
	case "$gt":
		return actualOK && compare(actual, value) > 0
	case "$gte":
		return actualOK && compare(actual, value) >= 0
	case "$lt":
		return actualOK && compare(actual, value) < 0
	case "$lte":
		return actualOK && compare(actual, value) <= 0
	case "$regex":
		s, ok := toString(actual)
		pattern, patOK := toString(value)
		if !actualOK || !ok || !patOK {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "$startsWith":
		s, ok := toString(actual)
		prefix, pOK := toString(value)
		return actualOK && ok && pOK && strings.HasPrefix(s, prefix)
	case "$endsWith":
		s, ok := toString(actual)
		suffix, sOK := toString(value)
		return actualOK && ok && sOK && strings.HasSuffix(s, suffix)
	case "$contains":
		return actualOK && containsAny(actual, value)
	default:
		return false
	}
}

// looseEqual compares two JSON-decoded scalars, treating numeric types
// uniformly (encoding/json always decodes numbers as float64 into any, but
// values built programmatically may be int/int64 — normalize before ==).
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, _ := toString(a)
	bs, _ := toString(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// containsAny reports whether needle appears in haystack, where haystack may
// be a []any (for $in/$nin against a field value) or a scalar/slice field
// value being tested for containment of needle (for $contains).
func containsAny(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case string:
		n, ok := toString(needle)
		return ok && strings.Contains(h, n)
	default:
		return looseEqual(haystack, needle)
	}
}
