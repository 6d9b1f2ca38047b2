package store

import "nutribin-backend/internal/model"

// Telemetry is one decoded device report ready to be persisted.
type Telemetry struct {
	MachineID string
	// Flags holds only the components the device reported, keyed by column
	// name (c1..m7). Components absent from the report keep their last value.
	Flags   map[string]bool
	Reading model.FertilizerReading
}

// ReadingFilter narrows a readings query.
type ReadingFilter struct {
	MachineID string
	Limit     int
}
