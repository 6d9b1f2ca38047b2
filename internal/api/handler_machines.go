package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/machine"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/mw"
)

const maxTelemetryBytes = 64 << 10

// SensorData ingests one telemetry report from a device.
func (h *Handler) SensorData(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTelemetryBytes))
	if err != nil {
		h.fail(c, apperr.BadRequest("Invalid telemetry payload"))
		return
	}
	p, err := machine.ParsePayload(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := h.machines.Ingest(c.Request.Context(), "http", p)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machine": v})
}

type registerRequest struct {
	SerialNumber string `json:"serial_number" binding:"required,max=64"`
	Model        string `json:"model" binding:"max=64"`
}

// RegisterSerial pre-registers a device serial.
func (h *Handler) RegisterSerial(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	serial, err := h.machines.RegisterSerial(c.Request.Context(), req.SerialNumber, req.Model)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"serial": serial})
}

// customerScope returns the caller's id when the caller is a customer.
func customerScope(c *gin.Context) *uint {
	claims, found := mw.Claims(c)
	if !found || claims.AccountType != model.AccountCustomer {
		return nil
	}
	id, err := claims.AccountID()
	if err != nil {
		return nil
	}
	return &id
}

// ListMachines lists machines. Customers only see their own.
func (h *Handler) ListMachines(c *gin.Context) {
	views, err := h.machines.List(c.Request.Context(), customerScope(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machines": views})
}

// machineFor loads a machine and enforces customer ownership.
func (h *Handler) machineFor(c *gin.Context) (*machine.Detail, bool) {
	d, err := h.machines.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if scope := customerScope(c); scope != nil && (d.CustomerID == nil || *d.CustomerID != *scope) {
		h.fail(c, apperr.Forbidden("Machine belongs to another customer"))
		return nil, false
	}
	return d, true
}

// GetMachine returns a machine with its health and latest reading.
func (h *Handler) GetMachine(c *gin.Context) {
	d, found := h.machineFor(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, gin.H{"machine": d})
}

type updateMachineRequest struct {
	CustomerID *uint   `json:"customer_id"`
	Name       *string `json:"name" binding:"omitempty,max=120"`
}

// UpdateMachine assigns an owner or renames a machine.
func (h *Handler) UpdateMachine(c *gin.Context) {
	var req updateMachineRequest
	if !h.bind(c, &req) {
		return
	}
	if req.CustomerID == nil && req.Name == nil {
		h.fail(c, apperr.BadRequest("Nothing to update"))
		return
	}
	v, err := h.machines.Update(c.Request.Context(), c.Param("id"), req.CustomerID, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machine": v})
}

// MachineReadings returns the newest readings of a machine.
func (h *Handler) MachineReadings(c *gin.Context) {
	if _, found := h.machineFor(c); !found {
		return
	}
	limit, valid := h.intQuery(c, "limit", 100)
	if !valid {
		return
	}
	readings, err := h.machines.Readings(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"readings": readings})
}

// FleetHealth returns the component health of every machine.
func (h *Handler) FleetHealth(c *gin.Context) {
	rows, err := h.machines.FleetHealth(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machines": rows})
}
