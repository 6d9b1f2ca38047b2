package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
)

func (h *Handler) analyticsQuery(c *gin.Context) (string, int, bool) {
	machineID := c.Query("machine_id")
	if machineID == "" {
		h.fail(c, apperr.BadRequest("machine_id is required"))
		return "", 0, false
	}
	days, valid := h.intQuery(c, "days", 0)
	if !valid {
		return "", 0, false
	}
	return machineID, days, true
}

// NPK returns the average nutrient readings of a machine.
func (h *Handler) NPK(c *gin.Context) {
	machineID, days, valid := h.analyticsQuery(c)
	if !valid {
		return
	}
	avg, err := h.analytics.NPK(c.Request.Context(), machineID, days)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machine_id": machineID, "averages": avg})
}

// Crops ranks crop profiles by closeness to the machine's averages.
func (h *Handler) Crops(c *gin.Context) {
	machineID, days, valid := h.analyticsQuery(c)
	if !valid {
		return
	}
	scores, err := h.analytics.Crops(c.Request.Context(), machineID, days)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"machine_id": machineID, "crops": scores})
}
