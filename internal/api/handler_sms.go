package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nutribin-backend/internal/sms"
)

type smsRequest struct {
	Phone   string `json:"phone_number" binding:"required"`
	Message string `json:"message" binding:"required,max=480"`
}

// SendSMS sends a text message directly through the configured provider.
func (h *Handler) SendSMS(c *gin.Context) {
	var req smsRequest
	if !h.bind(c, &req) {
		return
	}
	if _, err := sms.NormalizePhone(req.Phone); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"statusCode": http.StatusBadRequest, "message": "Invalid phone number"})
		return
	}
	if err := h.sms.Send(c.Request.Context(), req.Phone, req.Message); err != nil {
		h.log.Warn("sms provider failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"statusCode": http.StatusBadGateway, "message": "SMS provider failed"})
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "SMS sent"})
}
