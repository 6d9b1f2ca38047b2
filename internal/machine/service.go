package machine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/store"
)

var telemetryIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nutribin_telemetry_reports_total",
		Help: "Telemetry reports received, by transport and outcome.",
	},
	[]string{"transport", "outcome"},
)

// View is a machine with its derived health.
type View struct {
	model.Machine
	Health Health `json:"health"`
}

// Detail is a machine with health and its latest reading.
type Detail struct {
	View
	LatestReading *model.FertilizerReading `json:"latest_reading"`
}

// HealthRow is one entry of the fleet health report.
type HealthRow struct {
	MachineID  string     `json:"machine_id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	Health
}

// Service implements machine registry and telemetry operations.
type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a machine service.
func NewService(s store.Store, log *zap.Logger) *Service {
	return &Service{store: s, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Ingest persists one device report. transport labels the metrics ("http" or "mqtt").
func (s *Service) Ingest(ctx context.Context, transport string, p Payload) (*View, error) {
	t, err := DecodeTelemetry(p)
	if err != nil {
		telemetryIngested.WithLabelValues(transport, "invalid").Inc()
		return nil, err
	}

	ok, err := s.store.SerialExists(ctx, t.MachineID)
	if err != nil {
		telemetryIngested.WithLabelValues(transport, "error").Inc()
		return nil, err
	}
	if !ok {
		telemetryIngested.WithLabelValues(transport, "unregistered").Inc()
		return nil, apperr.NotFound("Machine not registered")
	}

	m, err := s.store.RecordTelemetry(ctx, s.now(), t)
	if err != nil {
		telemetryIngested.WithLabelValues(transport, "error").Inc()
		return nil, err
	}
	telemetryIngested.WithLabelValues(transport, "stored").Inc()
	s.log.Debug("telemetry stored", zap.String("machine_id", t.MachineID), zap.String("transport", transport))
	return &View{Machine: *m, Health: ComputeHealth(m)}, nil
}

// RegisterSerial pre-registers a device serial number.
func (s *Service) RegisterSerial(ctx context.Context, serial, modelName string) (*model.MachineSerial, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, apperr.BadRequest("serial_number is required")
	}
	row := &model.MachineSerial{SerialNumber: serial, Model: strings.TrimSpace(modelName)}
	if err := s.store.RegisterSerial(ctx, row); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("Serial number already registered")
		}
		return nil, err
	}
	return row, nil
}

// List returns machines, optionally only those owned by customerID.
func (s *Service) List(ctx context.Context, customerID *uint) ([]View, error) {
	machines, err := s.store.ListMachines(ctx, customerID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(machines))
	for i := range machines {
		views = append(views, View{Machine: machines[i], Health: ComputeHealth(&machines[i])})
	}
	return views, nil
}

// Get returns one machine with health and latest reading.
func (s *Service) Get(ctx context.Context, machineID string) (*Detail, error) {
	m, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, apperr.FromDB(err, "Machine not found")
	}
	d := &Detail{View: View{Machine: *m, Health: ComputeHealth(m)}}

	latest, err := s.store.LatestReading(ctx, machineID)
	switch {
	case err == nil:
		d.LatestReading = latest
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return d, nil
}

// Update assigns an owner and/or a display name.
func (s *Service) Update(ctx context.Context, machineID string, customerID *uint, name *string) (*View, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		name = &trimmed
	}
	m, err := s.store.UpdateMachine(ctx, machineID, customerID, name)
	if err != nil {
		return nil, apperr.FromDB(err, "Machine not found")
	}
	return &View{Machine: *m, Health: ComputeHealth(m)}, nil
}

// Readings returns the newest readings of a machine.
func (s *Service) Readings(ctx context.Context, machineID string, limit int) ([]model.FertilizerReading, error) {
	if _, err := s.store.GetMachine(ctx, machineID); err != nil {
		return nil, apperr.FromDB(err, "Machine not found")
	}
	return s.store.Readings(ctx, store.ReadingFilter{MachineID: machineID, Limit: limit})
}

// FleetHealth returns the health of every machine.
func (s *Service) FleetHealth(ctx context.Context) ([]HealthRow, error) {
	machines, err := s.store.ListMachines(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows := make([]HealthRow, 0, len(machines))
	for i := range machines {
		m := &machines[i]
		rows = append(rows, HealthRow{
			MachineID:  m.MachineID,
			Name:       m.Name,
			IsActive:   m.IsActive,
			LastSeenAt: m.LastSeenAt,
			Health:     ComputeHealth(m),
		})
	}
	return rows, nil
}
