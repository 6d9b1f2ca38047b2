package model

import "time"

// MachineSerial is a serial number registered before the device ships.
type MachineSerial struct {
	SerialNumber string    `gorm:"primaryKey;size:64" json:"serial_number"`
	Model        string    `gorm:"size:64" json:"model"`
	CreatedAt    time.Time `json:"date_created"`
}

// Machine represents a deployed NutriBin unit and its latest component flags.
// A true flag means the component reports an error.
type Machine struct {
	MachineID  string     `gorm:"primaryKey;size:64" json:"machine_id"`
	CustomerID *uint      `gorm:"index" json:"customer_id"`
	Name       string     `gorm:"size:128" json:"name"`
	IsActive   bool       `gorm:"not null;default:false;index" json:"is_active"`
	LastSeenAt *time.Time `gorm:"index" json:"last_seen_at"`

	C1 bool `json:"c1"`
	C2 bool `json:"c2"`
	C3 bool `json:"c3"`
	C4 bool `json:"c4"`
	C5 bool `json:"c5"`
	S1 bool `json:"s1"`
	S2 bool `json:"s2"`
	S3 bool `json:"s3"`
	S4 bool `json:"s4"`
	S5 bool `json:"s5"`
	S6 bool `json:"s6"`
	S7 bool `json:"s7"`
	S8 bool `json:"s8"`
	S9 bool `json:"s9"`
	M1 bool `json:"m1"`
	M2 bool `json:"m2"`
	M3 bool `json:"m3"`
	M4 bool `json:"m4"`
	M5 bool `json:"m5"`
	M6 bool `json:"m6"`
	M7 bool `json:"m7"`

	CreatedAt time.Time `json:"date_created"`
	UpdatedAt time.Time `json:"last_updated"`

	// Associations
	Serial *MachineSerial `gorm:"foreignKey:MachineID;references:SerialNumber;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

// FertilizerReading is one telemetry sample. Sensor values are normalized to
// numbers at ingestion; a nil value means the sensor sent nothing usable.
type FertilizerReading struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	MachineID     string    `gorm:"size:64;not null;index:idx_readings_machine_recorded" json:"machine_id"`
	Nitrogen      *float64  `json:"nitrogen"`
	Phosphorus    *float64  `json:"phosphorus"`
	Potassium     *float64  `json:"potassium"`
	PH            *float64  `gorm:"column:ph" json:"ph"`
	Moisture      *float64  `json:"moisture"`
	Temperature   *float64  `json:"temperature"`
	Humidity      *float64  `json:"humidity"`
	Methane       *float64  `json:"methane"`
	Ammonia       *float64  `json:"ammonia"`
	CarbonDioxide *float64  `json:"carbon_dioxide"`
	WeightKg      *float64  `json:"weight_kg"`
	RecordedAt    time.Time `gorm:"not null;index:idx_readings_machine_recorded" json:"recorded_at"`
}

// FirmwareRelease is a device firmware binary kept in object storage.
type FirmwareRelease struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Version   string    `gorm:"uniqueIndex;size:32;not null" json:"version"`
	ObjectKey string    `gorm:"size:255;not null" json:"object_key"`
	Notes     string    `gorm:"type:text" json:"notes"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"date_created"`
}

// ComponentNames lists the monitored components in reporting order:
// c1..c5 core modules, s1..s9 sensors, m1..m7 motors and actuators.
var ComponentNames = []string{
	"c1", "c2", "c3", "c4", "c5",
	"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9",
	"m1", "m2", "m3", "m4", "m5", "m6", "m7",
}

func (m *Machine) componentPtrs() []*bool {
	return []*bool{
		&m.C1, &m.C2, &m.C3, &m.C4, &m.C5,
		&m.S1, &m.S2, &m.S3, &m.S4, &m.S5, &m.S6, &m.S7, &m.S8, &m.S9,
		&m.M1, &m.M2, &m.M3, &m.M4, &m.M5, &m.M6, &m.M7,
	}
}

// ComponentFlags returns the error flags in ComponentNames order.
func (m *Machine) ComponentFlags() []bool {
	ptrs := m.componentPtrs()
	flags := make([]bool, len(ptrs))
	for i, p := range ptrs {
		flags[i] = *p
	}
	return flags
}

// SetComponent sets the flag for a component column. It reports false for an
// unknown name.
func (m *Machine) SetComponent(name string, inError bool) bool {
	for i, n := range ComponentNames {
		if n == name {
			*m.componentPtrs()[i] = inError
			return true
		}
	}
	return false
}
