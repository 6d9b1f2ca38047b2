package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribin-backend/internal/dbtest"
	"nutribin-backend/internal/model"
)

func f64(v float64) *float64 { return &v }

func seedSerial(t *testing.T, s Store, serial string) {
	t.Helper()
	require.NoError(t, s.RegisterSerial(context.Background(), &model.MachineSerial{SerialNumber: serial, Model: "NB-1"}))
}

func TestGormStore_RecordTelemetry(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(dbtest.New(t))
	seedSerial(t, s, "NB-001")

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	machine, err := s.RecordTelemetry(ctx, now, Telemetry{
		MachineID: "NB-001",
		Flags:     map[string]bool{"c1": true, "s3": true, "bogus": true},
		Reading:   model.FertilizerReading{Nitrogen: f64(12.5), PH: f64(6.8)},
	})
	require.NoError(t, err)
	assert.True(t, machine.IsActive)
	assert.True(t, machine.C1)
	assert.True(t, machine.S3)
	require.NotNil(t, machine.LastSeenAt)
	assert.True(t, now.Equal(*machine.LastSeenAt))

	// A second report clears c1 and leaves s3 untouched.
	later := now.Add(time.Minute)
	machine, err = s.RecordTelemetry(ctx, later, Telemetry{
		MachineID: "NB-001",
		Flags:     map[string]bool{"c1": false},
		Reading:   model.FertilizerReading{Nitrogen: f64(13)},
	})
	require.NoError(t, err)
	assert.False(t, machine.C1)
	assert.True(t, machine.S3)

	latest, err := s.LatestReading(ctx, "NB-001")
	require.NoError(t, err)
	require.NotNil(t, latest.Nitrogen)
	assert.Equal(t, 13.0, *latest.Nitrogen)
	assert.True(t, later.Equal(latest.RecordedAt))

	readings, err := s.Readings(ctx, ReadingFilter{MachineID: "NB-001"})
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestGormStore_SerialExists(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(dbtest.New(t))
	seedSerial(t, s, "NB-001")

	ok, err := s.SerialExists(ctx, "NB-001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SerialExists(ctx, "NB-404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_MarkStale(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(dbtest.New(t))
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for _, id := range []string{"NB-001", "NB-002", "NB-003"} {
		seedSerial(t, s, id)
	}
	_, err := s.RecordTelemetry(ctx, now.Add(-5*time.Minute), Telemetry{MachineID: "NB-001"})
	require.NoError(t, err)
	_, err = s.RecordTelemetry(ctx, now.Add(-2*time.Minute), Telemetry{MachineID: "NB-002"})
	require.NoError(t, err)
	_, err = s.RecordTelemetry(ctx, now.Add(-10*time.Second), Telemetry{MachineID: "NB-003"})
	require.NoError(t, err)

	ids, err := s.MarkStale(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"NB-001", "NB-002"}, ids)

	// Already inactive machines do not transition twice.
	ids, err = s.MarkStale(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	m, err := s.GetMachine(ctx, "NB-003")
	require.NoError(t, err)
	assert.True(t, m.IsActive)
}

func TestGormStore_UpdateMachine(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(dbtest.New(t))
	seedSerial(t, s, "NB-001")
	_, err := s.RecordTelemetry(ctx, time.Now().UTC(), Telemetry{MachineID: "NB-001"})
	require.NoError(t, err)

	owner := uint(7)
	name := "Garden bin"
	m, err := s.UpdateMachine(ctx, "NB-001", &owner, &name)
	require.NoError(t, err)
	require.NotNil(t, m.CustomerID)
	assert.Equal(t, owner, *m.CustomerID)
	assert.Equal(t, name, m.Name)

	list, err := s.ListMachines(ctx, &owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	other := uint(8)
	list, err = s.ListMachines(ctx, &other)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.UpdateMachine(ctx, "NB-404", nil, &name)
	assert.Error(t, err)
}

func TestGormStore_RecordTelemetrySQL(t *testing.T) {
	gormDB, mock := dbtest.NewMock(t)
	s := NewGormStore(gormDB)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "machines"`) + `.*` +
		regexp.QuoteMeta(`ON CONFLICT ("machine_id") DO UPDATE SET "is_active"="excluded"."is_active","last_seen_at"="excluded"."last_seen_at","updated_at"="excluded"."updated_at","m2"="excluded"."m2"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "fertilizer_readings"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "machines" WHERE machine_id = $1`)).
		WithArgs("NB-001", "NB-001", 1).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id", "is_active", "m2"}).AddRow("NB-001", true, true))
	mock.ExpectCommit()

	m, err := s.RecordTelemetry(context.Background(), now, Telemetry{
		MachineID: "NB-001",
		Flags:     map[string]bool{"m2": true},
	})
	require.NoError(t, err)
	assert.True(t, m.M2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_MarkStale_SkipsMachineThatReportedMeanwhile(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	s := NewGormStore(db)
	cutoff := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "machine_id" FROM "machines"`)).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id"}).AddRow("NB-001").AddRow("NB-002"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "machines" SET "is_active"=`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// NB-002 reported between the select and its update.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "machines" SET "is_active"=`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ids, err := s.MarkStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"NB-001"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
