package parse

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensorValue(t *testing.T) {
	testCases := []struct {
		name     string
		raw      any
		expected float64
		ok       bool
	}{
		{name: "Float", raw: 12.5, expected: 12.5, ok: true},
		{name: "Int", raw: 7, expected: 7, ok: true},
		{name: "JSON number", raw: json.Number("3.25"), expected: 3.25, ok: true},
		{name: "Numeric string", raw: "42", expected: 42, ok: true},
		{name: "Unit suffix", raw: "12.5 mg/kg", expected: 12.5, ok: true},
		{name: "Label prefix", raw: " pH: 6.8 ", expected: 6.8, ok: true},
		{name: "Decimal comma", raw: "6,8", expected: 6.8, ok: true},
		{name: "Percent", raw: "55%", expected: 55, ok: true},
		{name: "Negative temperature", raw: "-3.5C", expected: -3.5, ok: true},
		{name: "Leading dot", raw: ".5", expected: 0.5, ok: true},
		{name: "Exponent", raw: "1.2e3 ppm", expected: 1200, ok: true},
		{name: "Nil", raw: nil, ok: false},
		{name: "Empty string", raw: "   ", ok: false},
		{name: "No digits", raw: "N/A", ok: false},
		{name: "Bool", raw: true, ok: false},
		{name: "NaN", raw: math.NaN(), ok: false},
		{name: "Inf", raw: math.Inf(1), ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SensorValue(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.expected, got, 1e-9)
			}
		})
	}
}

func TestSensorPtr(t *testing.T) {
	assert.Nil(t, SensorPtr("error"))
	if p := SensorPtr("21.4 °C"); assert.NotNil(t, p) {
		assert.InDelta(t, 21.4, *p, 1e-9)
	}
}
