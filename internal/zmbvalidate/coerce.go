package zmbvalidate

import (
	"encoding/json"
	"math"
	"strconv"
)

// Type coercion at the boundary.  The documented request-handling rules are:
// strings encoding integers become integers, fractional numbers are rounded
// half away from zero, and booleans accept any scalar with a fixed falsy set.
// These rules predate this implementation and must be preserved for client
// compatibility.

// toInt coerces val to an integer.
func toInt(val any) (n int64, ok bool) {
	switch val := val.(type) {
	case json.Number:
		n, err := val.Int64()
		if err == nil {
			return n, true
		}

		f, err := val.Float64()
		if err != nil {
			return 0, false
		}

		return roundHalfAway(f), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err == nil {
			return n, true
		}

		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}

		return roundHalfAway(f), true
	default:
		return 0, false
	}
}

// roundHalfAway rounds f half away from zero.
func roundHalfAway(f float64) (n int64) {
	if f >= 0 {
		return int64(math.Floor(f + 0.5))
	}

	return int64(math.Ceil(f - 0.5))
}

// toBool coerces val to a boolean.  The falsy set is exactly {false, null,
// "", "0", 0}; every other value is true.
func toBool(val any) (b bool) {
	switch val := val.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "0"
	case json.Number:
		f, err := val.Float64()

		return err != nil || f != 0
	default:
		return true
	}
}

// toString coerces val to a string.  Numbers are accepted in their literal
// form, since clients have been observed sending numeric-looking values
// unquoted.
func toString(val any) (s string, ok bool) {
	switch val := val.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}
