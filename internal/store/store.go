package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutribin-backend/internal/model"
)

// Store defines the machine and telemetry database operations.
type Store interface {
	SerialExists(ctx context.Context, serial string) (bool, error)
	RegisterSerial(ctx context.Context, serial *model.MachineSerial) error
	RecordTelemetry(ctx context.Context, now time.Time, t Telemetry) (*model.Machine, error)
	MarkStale(ctx context.Context, cutoff time.Time) ([]string, error)
	ListMachines(ctx context.Context, customerID *uint) ([]model.Machine, error)
	GetMachine(ctx context.Context, machineID string) (*model.Machine, error)
	UpdateMachine(ctx context.Context, machineID string, customerID *uint, name *string) (*model.Machine, error)
	LatestReading(ctx context.Context, machineID string) (*model.FertilizerReading, error)
	Readings(ctx context.Context, f ReadingFilter) ([]model.FertilizerReading, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) SerialExists(ctx context.Context, serial string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.MachineSerial{}).
		Where("serial_number = ?", serial).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up serial %q: %w", serial, err)
	}
	return count > 0, nil
}

func (s *gormStore) RegisterSerial(ctx context.Context, serial *model.MachineSerial) error {
	return s.db.WithContext(ctx).Create(serial).Error
}

// RecordTelemetry upserts the machine row and appends the reading in one transaction.
func (s *gormStore) RecordTelemetry(ctx context.Context, now time.Time, t Telemetry) (*model.Machine, error) {
	machine := model.Machine{
		MachineID:  t.MachineID,
		IsActive:   true,
		LastSeenAt: &now,
	}
	updates := []string{"is_active", "last_seen_at", "updated_at"}

	names := make([]string, 0, len(t.Flags))
	for name := range t.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if machine.SetComponent(name, t.Flags[name]) {
			updates = append(updates, name)
		}
	}

	reading := t.Reading
	reading.ID = 0
	reading.MachineID = t.MachineID
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "machine_id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&machine).Error; err != nil {
			return fmt.Errorf("failed to upsert machine %s: %w", t.MachineID, err)
		}
		if err := tx.Create(&reading).Error; err != nil {
			return fmt.Errorf("failed to append reading for machine %s: %w", t.MachineID, err)
		}
		return tx.First(&machine, "machine_id = ?", t.MachineID).Error
	})
	if err != nil {
		return nil, err
	}
	return &machine, nil
}

// MarkStale flips machines not seen since cutoff to inactive and returns the
// IDs that transitioned.
func (s *gormStore) MarkStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var flipped []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []string
		if err := tx.Model(&model.Machine{}).
			Where("is_active = ? AND last_seen_at < ?", true, cutoff).
			Order("machine_id").
			Pluck("machine_id", &candidates).Error; err != nil {
			return fmt.Errorf("failed to find stale machines: %w", err)
		}
		// Each row is re-checked by its own UPDATE, so a machine that reported
		// after the select affects no row and is not reported offline.
		for _, id := range candidates {
			res := tx.Model(&model.Machine{}).
				Where("machine_id = ? AND is_active = ? AND last_seen_at < ?", id, true, cutoff).
				Update("is_active", false)
			if res.Error != nil {
				return fmt.Errorf("failed to mark machine %s offline: %w", id, res.Error)
			}
			if res.RowsAffected == 1 {
				flipped = append(flipped, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flipped, nil
}

func (s *gormStore) ListMachines(ctx context.Context, customerID *uint) ([]model.Machine, error) {
	q := s.db.WithContext(ctx).Order("machine_id")
	if customerID != nil {
		q = q.Where("customer_id = ?", *customerID)
	}
	var machines []model.Machine
	if err := q.Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *gormStore) GetMachine(ctx context.Context, machineID string) (*model.Machine, error) {
	var machine model.Machine
	if err := s.db.WithContext(ctx).First(&machine, "machine_id = ?", machineID).Error; err != nil {
		return nil, err
	}
	return &machine, nil
}

func (s *gormStore) UpdateMachine(ctx context.Context, machineID string, customerID *uint, name *string) (*model.Machine, error) {
	updates := map[string]any{}
	if customerID != nil {
		updates["customer_id"] = *customerID
	}
	if name != nil {
		updates["name"] = *name
	}

	var machine model.Machine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&machine, "machine_id = ?", machineID).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&machine).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&machine, "machine_id = ?", machineID).Error
	})
	if err != nil {
		return nil, err
	}
	return &machine, nil
}

func (s *gormStore) LatestReading(ctx context.Context, machineID string) (*model.FertilizerReading, error) {
	var reading model.FertilizerReading
	if err := s.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("recorded_at DESC, id DESC").
		First(&reading).Error; err != nil {
		return nil, err
	}
	return &reading, nil
}

func (s *gormStore) Readings(ctx context.Context, f ReadingFilter) ([]model.FertilizerReading, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var readings []model.FertilizerReading
	if err := s.db.WithContext(ctx).
		Where("machine_id = ?", f.MachineID).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&readings).Error; err != nil {
		return nil, err
	}
	return readings, nil
}
