package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberRe = regexp.MustCompile(`[-+]?(?:\d+(?:[.,]\d*)?|[.,]\d+)(?:[eE][-+]?\d+)?`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// SensorValue normalizes a raw sensor field into a number. Devices send
// values as numbers, numeric strings, or strings with units and noise such
// as "12.5 mg/kg" or " pH:6,8 ". The first number in the text wins. ok is
// false when nothing usable was sent.
func SensorValue(raw any) (value float64, ok bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return SensorValue(v.String())
		}
		return finite(f)
	case bool:
		return 0, false
	case string:
		return parseText(v)
	default:
		return parseText(fmt.Sprint(v))
	}
}

// SensorPtr is SensorValue returning nil for unusable input, the shape stored
// in nullable reading columns.
func SensorPtr(raw any) *float64 {
	v, ok := SensorValue(raw)
	if !ok {
		return nil
	}
	return &v
}

func parseText(s string) (float64, bool) {
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return 0, false
	}
	match := numberRe.FindString(s)
	if match == "" {
		return 0, false
	}
	// Decimal commas only; thousands separators are not sent by devices.
	match = strings.Replace(match, ",", ".", 1)
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
