package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/content"
)

type announcementRequest struct {
	Title       *string    `json:"title" binding:"omitempty,max=200"`
	Body        *string    `json:"body"`
	Author      *string    `json:"author" binding:"omitempty,max=120"`
	Priority    *string    `json:"priority"`
	IsActive    *bool      `json:"is_active"`
	PublishedAt *time.Time `json:"published_at"`
}

func (r announcementRequest) input() content.AnnouncementInput {
	return content.AnnouncementInput{
		Title:       r.Title,
		Body:        r.Body,
		Author:      r.Author,
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		PublishedAt: r.PublishedAt,
	}
}

// ListAnnouncements lists announcements newest first, optionally ?active=.
func (h *Handler) ListAnnouncements(c *gin.Context) {
	active, valid := h.boolQuery(c, "active")
	if !valid {
		return
	}
	list, err := h.content.ListAnnouncements(c.Request.Context(), active)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"announcements": list})
}

// GetAnnouncement returns one announcement.
func (h *Handler) GetAnnouncement(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	a, err := h.content.GetAnnouncement(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"announcement": a})
}

// CreateAnnouncement publishes an announcement.
func (h *Handler) CreateAnnouncement(c *gin.Context) {
	var req announcementRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.content.CreateAnnouncement(c.Request.Context(), req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"announcement": a})
}

// UpdateAnnouncement edits an announcement.
func (h *Handler) UpdateAnnouncement(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req announcementRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.content.UpdateAnnouncement(c.Request.Context(), id, req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"announcement": a})
}

// DeleteAnnouncement removes an announcement.
func (h *Handler) DeleteAnnouncement(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	if err := h.content.DeleteAnnouncement(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

type saleRequest struct {
	CustomerName string  `json:"customer_name" binding:"required,max=200"`
	Product      string  `json:"product" binding:"required,max=200"`
	Quantity     int     `json:"quantity" binding:"required,min=1"`
	Amount       float64 `json:"amount" binding:"required,gt=0"`
	SaleDate     string  `json:"sale_date"`
}

// CreateSale records a sale. sale_date accepts YYYY-MM-DD or RFC 3339.
func (h *Handler) CreateSale(c *gin.Context) {
	var req saleRequest
	if !h.bind(c, &req) {
		return
	}
	var saleDate time.Time
	if req.SaleDate != "" {
		d, err := parseDate(req.SaleDate)
		if err != nil {
			h.fail(c, apperr.BadRequest("Invalid sale_date"))
			return
		}
		saleDate = d
	}
	s, err := h.content.CreateSale(c.Request.Context(), content.SaleInput{
		CustomerName: req.CustomerName,
		Product:      req.Product,
		Quantity:     req.Quantity,
		Amount:       req.Amount,
		SaleDate:     saleDate,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"sale": s})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ListSales lists sales newest first.
func (h *Handler) ListSales(c *gin.Context) {
	sales, err := h.content.ListSales(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sales": sales})
}

// DeleteSale removes a sale.
func (h *Handler) DeleteSale(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	if err := h.content.DeleteSale(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportSales downloads every sale as an Excel workbook.
func (h *Handler) ExportSales(c *gin.Context) {
	data, err := h.content.ExportSales(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	name := fmt.Sprintf("nutribin_sales_%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// DashboardSummary returns the dashboard counters.
func (h *Handler) DashboardSummary(c *gin.Context) {
	s, err := h.content.DashboardSummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"summary": s})
}
