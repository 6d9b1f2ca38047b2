package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/account"
	"nutribin-backend/internal/analytics"
	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/backup"
	"nutribin-backend/internal/content"
	"nutribin-backend/internal/firmware"
	"nutribin-backend/internal/machine"
	"nutribin-backend/internal/sms"
	"nutribin-backend/internal/ticket"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db        *gorm.DB
	webpush   *webpush.Options
	accounts  *account.Service
	machines  *machine.Service
	tickets   *ticket.Service
	content   *content.Service
	analytics *analytics.Service
	firmware  *firmware.Service
	backups   *backup.Runner
	dumper    *backup.Generator
	sms       sms.Sender
	log       *zap.Logger
}

// Deps lists what the handlers need. Nil services disable nothing; the
// router always registers every route.
type Deps struct {
	DB        *gorm.DB
	WebPush   *webpush.Options
	Accounts  *account.Service
	Machines  *machine.Service
	Tickets   *ticket.Service
	Content   *content.Service
	Analytics *analytics.Service
	Firmware  *firmware.Service
	Backups   *backup.Runner
	Dumper    *backup.Generator
	SMS       sms.Sender
	Log       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		db:        d.DB,
		webpush:   d.WebPush,
		accounts:  d.Accounts,
		machines:  d.Machines,
		tickets:   d.Tickets,
		content:   d.Content,
		analytics: d.Analytics,
		firmware:  d.Firmware,
		backups:   d.Backups,
		dumper:    d.Dumper,
		sms:       d.SMS,
		log:       log,
	}
}

// ok writes the success envelope.
func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(status, body)
}

// fail writes {statusCode, message}. Unexpected errors are logged in full
// and reported with a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := apperr.Status(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"statusCode": status, "message": msg})
}

// bind decodes the JSON body into req and reports a 400 on failure.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, apperr.BadRequest(bindMessage(err)))
		return false
	}
	return true
}

func bindMessage(err error) string {
	var numErr *strconv.NumError
	switch {
	case errors.Is(err, io.EOF):
		return "Request body is required"
	case errors.As(err, &numErr):
		return "Invalid number: " + numErr.Num
	default:
		return "Invalid request: " + err.Error()
	}
}

// idParam parses a positive numeric path parameter.
func (h *Handler) idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		h.fail(c, apperr.BadRequest("Invalid "+name))
		return 0, false
	}
	return uint(id), true
}

// intQuery parses an optional integer query parameter.
func (h *Handler) intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		h.fail(c, apperr.BadRequest("Invalid "+name))
		return 0, false
	}
	return n, true
}

// boolQuery parses an optional boolean query parameter.
func (h *Handler) boolQuery(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		h.fail(c, apperr.BadRequest("Invalid "+name))
		return nil, false
	}
	return &b, true
}
