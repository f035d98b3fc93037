package expand

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gridcal/internal/model"
)

// intField reads a numeric component the way the timetable frontend does:
// strings use their leading integer ("09" -> 9, "9am" -> 9), numbers are
// truncated toward zero. Anything else is not a number.
func intField(v any) (int, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n), true
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case float64:
		return truncate(val)
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		return leadingInt(val)
	default:
		return 0, false
	}
}

func truncate(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// stringField renders a present field as text; missing or null is "".
func stringField(r model.RawRecord, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// firstString returns the first non-empty field among keys.
func firstString(r model.RawRecord, keys ...string) string {
	for _, k := range keys {
		if s := stringField(r, k); s != "" {
			return s
		}
	}
	return ""
}
