package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nutribin-backend/config"
	"nutribin-backend/internal/api"
	"nutribin-backend/internal/auth"
	"nutribin-backend/internal/dbtest"
	"nutribin-backend/internal/machine"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/notification"
	"nutribin-backend/internal/store"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []notification.Job
}

func (d *recordingDispatcher) Dispatch(job notification.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return true
}

func (d *recordingDispatcher) offline() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, j := range d.jobs {
		if j.Kind == notification.KindMachineOffline {
			ids = append(ids, j.MachineID)
		}
	}
	return ids
}

// TestMachineLivenessLifecycle drives a machine from its first report over
// HTTP, through the liveness sweep marking it offline, and back online.
func TestMachineLivenessLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testDB := dbtest.New(t)
	log := zap.NewNop()

	machineStore := store.NewGormStore(testDB)
	machines := machine.NewService(machineStore, log)
	dispatcher := &recordingDispatcher{}
	sweeper := machine.NewSweeper(machineStore, dispatcher, time.Second, 20*time.Millisecond, log)

	tokens, err := auth.NewTokenIssuer("integration-secret-0123456789", time.Hour)
	require.NoError(t, err)
	router := api.NewRouter(
		api.NewHandler(api.Deps{DB: testDB, Machines: machines, Log: log}),
		tokens,
		config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100, CacheTTLSeconds: 1, RequestTimeoutSeconds: 5},
		log,
	)
	server := httptest.NewServer(router)
	defer server.Close()

	require.NoError(t, testDB.Create(&model.MachineSerial{SerialNumber: "NB-0101", Model: "v2"}).Error)

	report := func(t *testing.T, payload map[string]any) int {
		t.Helper()
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		resp, err := http.Post(server.URL+"/hardware/sensor-data", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("Cycle 1: Machine reports and comes online", func(t *testing.T) {
		status := report(t, map[string]any{"machine_id": "NB-0101", "n": "40 mg/kg", "p": 18, "k": "31.5", "ph": "6,7", "m3": true})
		require.Equal(t, http.StatusOK, status)

		var m model.Machine
		require.NoError(t, testDB.First(&m, "machine_id = ?", "NB-0101").Error)
		assert.True(t, m.IsActive)
		assert.True(t, m.M3)
		require.NotNil(t, m.LastSeenAt)
		assert.WithinDuration(t, time.Now(), *m.LastSeenAt, 5*time.Second)

		var reading model.FertilizerReading
		require.NoError(t, testDB.First(&reading, "machine_id = ?", "NB-0101").Error)
		require.NotNil(t, reading.PH)
		assert.InDelta(t, 6.7, *reading.PH, 1e-9)
		require.NotNil(t, reading.Nitrogen)
		assert.InDelta(t, 40.0, *reading.Nitrogen, 1e-9)
	})

	t.Run("Cycle 2: Machine goes silent and is swept offline", func(t *testing.T) {
		time.Sleep(50 * time.Millisecond)
		ids := sweeper.SweepOnce(context.Background())
		assert.Equal(t, []string{"NB-0101"}, ids)
		assert.Equal(t, []string{"NB-0101"}, dispatcher.offline())

		var m model.Machine
		require.NoError(t, testDB.First(&m, "machine_id = ?", "NB-0101").Error)
		assert.False(t, m.IsActive)

		assert.Empty(t, sweeper.SweepOnce(context.Background()), "offline machines are not reported twice")
	})

	t.Run("Cycle 3: Machine reports again", func(t *testing.T) {
		require.Equal(t, http.StatusOK, report(t, map[string]any{"machine_id": "NB-0101", "m3": false}))

		var m model.Machine
		require.NoError(t, testDB.First(&m, "machine_id = ?", "NB-0101").Error)
		assert.True(t, m.IsActive)
		assert.False(t, m.M3)

		var count int64
		testDB.Model(&model.FertilizerReading{}).Where("machine_id = ?", "NB-0101").Count(&count)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Unregistered devices are rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, report(t, map[string]any{"machine_id": "NB-9999"}))
		assert.Equal(t, http.StatusBadRequest, report(t, map[string]any{"n": 1}))
	})
}
