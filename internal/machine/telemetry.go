package machine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/parse"
	"nutribin-backend/internal/store"
)

// Payload is a decoded device report. Field values stay loosely typed until
// DecodeTelemetry normalizes them.
type Payload map[string]any

// sensorAliases maps every accepted payload key to its reading column.
var sensorAliases = map[string]string{
	"nitrogen":       "nitrogen",
	"n":              "nitrogen",
	"phosphorus":     "phosphorus",
	"p":              "phosphorus",
	"potassium":      "potassium",
	"k":              "potassium",
	"ph":             "ph",
	"moisture":       "moisture",
	"temperature":    "temperature",
	"temp":           "temperature",
	"humidity":       "humidity",
	"methane":        "methane",
	"ch4":            "methane",
	"ammonia":        "ammonia",
	"nh3":            "ammonia",
	"carbon_dioxide": "carbon_dioxide",
	"co2":            "carbon_dioxide",
	"weight_kg":      "weight_kg",
	"weight":         "weight_kg",
}

// ParsePayload decodes a JSON report, keeping numbers as json.Number.
func ParsePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, apperr.BadRequest("Invalid telemetry payload")
	}
	if p == nil {
		return nil, apperr.BadRequest("Invalid telemetry payload")
	}
	return p, nil
}

// MachineID returns the trimmed machine_id of the report, if any.
func (p Payload) MachineID() string {
	switch v := p["machine_id"].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// DecodeTelemetry converts a report into a storable Telemetry. Unknown keys
// are ignored and unparseable sensor values are stored as NULL.
func DecodeTelemetry(p Payload) (store.Telemetry, error) {
	id := p.MachineID()
	if id == "" {
		return store.Telemetry{}, apperr.BadRequest("machine_id is required")
	}

	t := store.Telemetry{MachineID: id, Flags: map[string]bool{}}
	for _, name := range model.ComponentNames {
		if v, ok := lookup(p, name); ok {
			t.Flags[name] = Truthy(v)
		}
	}

	r := &t.Reading
	columns := map[string]**float64{
		"nitrogen":       &r.Nitrogen,
		"phosphorus":     &r.Phosphorus,
		"potassium":      &r.Potassium,
		"ph":             &r.PH,
		"moisture":       &r.Moisture,
		"temperature":    &r.Temperature,
		"humidity":       &r.Humidity,
		"methane":        &r.Methane,
		"ammonia":        &r.Ammonia,
		"carbon_dioxide": &r.CarbonDioxide,
		"weight_kg":      &r.WeightKg,
	}
	for key, raw := range p {
		column, ok := sensorAliases[strings.ToLower(key)]
		if !ok {
			continue
		}
		// The canonical key wins over an alias when both are present.
		if *columns[column] != nil && strings.ToLower(key) != column {
			continue
		}
		if v := parse.SensorPtr(raw); v != nil {
			*columns[column] = v
		}
	}
	return t, nil
}

func lookup(p Payload, name string) (any, bool) {
	if v, ok := p[name]; ok {
		return v, true
	}
	v, ok := p[strings.ToUpper(name)]
	return v, ok
}
