package machine

import (
	"encoding/json"
	"math"
	"strings"

	"nutribin-backend/internal/model"
)

// Health summarizes the component error flags of a machine.
type Health struct {
	ErrorCount        int      `json:"error_count"`
	Total             int      `json:"total"`
	ErrorRate         float64  `json:"error_rate"`
	ComponentsInError []string `json:"components_in_error"`
}

// ComputeHealth counts the flagged components of m. ErrorRate is a
// percentage rounded to two decimals.
func ComputeHealth(m *model.Machine) Health {
	flags := m.ComponentFlags()
	h := Health{Total: len(flags), ComponentsInError: []string{}}
	for i, inError := range flags {
		if inError {
			h.ErrorCount++
			h.ComponentsInError = append(h.ComponentsInError, model.ComponentNames[i])
		}
	}
	if h.Total > 0 {
		h.ErrorRate = round2(float64(h.ErrorCount) / float64(h.Total) * 100)
	}
	return h
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Truthy coerces a loosely typed device flag. Devices and older database
// drivers send booleans as true, 1, "1", "t" or "true".
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case int:
		return b == 1
	case int8:
		return b == 1
	case int16:
		return b == 1
	case int32:
		return b == 1
	case int64:
		return b == 1
	case uint:
		return b == 1
	case uint8:
		return b == 1
	case uint16:
		return b == 1
	case uint32:
		return b == 1
	case uint64:
		return b == 1
	case float32:
		return b == 1
	case float64:
		return b == 1
	case json.Number:
		f, err := b.Float64()
		return err == nil && f == 1
	case []byte:
		return Truthy(string(b))
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "t", "true":
			return true
		}
		return false
	default:
		return false
	}
}
