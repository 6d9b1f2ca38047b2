package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint           string   `json:"endpoint" binding:"required,url"`
	P256DH             string   `json:"p256dh" binding:"required"`
	Auth               string   `json:"auth" binding:"required"`
	SubscribedMachines []string `json:"subscribed_machines"`
}

// PutSubscription creates or replaces a browser push subscription and the
// set of machines it wants offline alerts for.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if !h.bind(c, &req) {
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}

	var unknown []string
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&subscription).Error; err != nil {
			return err
		}

		var machines []*model.Machine
		if len(req.SubscribedMachines) > 0 {
			if err := tx.Where("machine_id IN ?", req.SubscribedMachines).Find(&machines).Error; err != nil {
				return err
			}
		}
		unknown = missingMachines(req.SubscribedMachines, machines)
		if len(unknown) > 0 {
			return apperr.NotFound("Unknown machines: " + strings.Join(unknown, ", "))
		}

		return tx.Model(&subscription).Association("Machines").Replace(&machines)
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	ok(c, http.StatusCreated, gin.H{"subscribed_machines": req.SubscribedMachines})
}

func missingMachines(want []string, found []*model.Machine) []string {
	have := make(map[string]bool, len(found))
	for _, m := range found {
		have[m.MachineID] = true
	}
	var missing []string
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes a subscription and its machine mappings.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		sub := model.PushSubscription{Endpoint: req.Endpoint}
		if err := tx.Model(&sub).Association("Machines").Clear(); err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam returns a query value without URL decoding; push endpoints
// are URLs themselves and must round-trip byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription returns the machines a subscription is attached to.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, found := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !found || raw == "" {
		h.fail(c, apperr.BadRequest("endpoint is required"))
		return
	}

	var subscription model.PushSubscription
	err := h.db.WithContext(c.Request.Context()).Preload("Machines").First(&subscription, "endpoint = ?", raw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.fail(c, apperr.NotFound("Subscription not found"))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	machineIDs := make([]string, len(subscription.Machines))
	for i, m := range subscription.Machines {
		machineIDs[i] = m.MachineID
	}

	ok(c, http.StatusOK, gin.H{"subscribed_machines": machineIDs})
}
