package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/mw"
	"nutribin-backend/internal/ticket"
)

type repairRequest struct {
	MachineID   string `json:"machine_id" binding:"required"`
	CustomerID  uint   `json:"customer_id"`
	Description string `json:"description" binding:"required"`
}

// CreateRepair opens a repair request for a machine.
func (h *Handler) CreateRepair(c *gin.Context) {
	var req repairRequest
	if !h.bind(c, &req) {
		return
	}
	scope := customerScope(c)
	if scope != nil {
		req.CustomerID = *scope
	}
	r, err := h.tickets.CreateRepair(c.Request.Context(), ticket.RepairInput{
		MachineID:   req.MachineID,
		CustomerID:  req.CustomerID,
		Description: req.Description,
		ByCustomer:  scope != nil,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"repair": r})
}

// ListRepairs lists repairs, optionally filtered by ?status=.
func (h *Handler) ListRepairs(c *gin.Context) {
	repairs, err := h.tickets.ListRepairs(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"repairs": repairs})
}

// GetRepair returns one repair.
func (h *Handler) GetRepair(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	r, err := h.tickets.GetRepair(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"repair": r})
}

type statusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateRepairStatus moves a repair to a new status.
func (h *Handler) UpdateRepairStatus(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req statusUpdateRequest
	if !h.bind(c, &req) {
		return
	}
	r, err := h.tickets.UpdateRepairStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"repair": r})
}

type ticketRequest struct {
	CustomerID  uint   `json:"customer_id"`
	Subject     string `json:"subject" binding:"required,max=200"`
	Description string `json:"description" binding:"required"`
	Priority    string `json:"priority"`
}

// CreateTicket opens a support ticket.
func (h *Handler) CreateTicket(c *gin.Context) {
	var req ticketRequest
	if !h.bind(c, &req) {
		return
	}
	if scope := customerScope(c); scope != nil {
		req.CustomerID = *scope
	}
	if req.CustomerID == 0 {
		h.fail(c, apperr.BadRequest("customer_id is required"))
		return
	}
	t, err := h.tickets.CreateTicket(c.Request.Context(), ticket.TicketInput{
		CustomerID:  req.CustomerID,
		Subject:     req.Subject,
		Description: req.Description,
		Priority:    req.Priority,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"ticket": t})
}

// ListTickets lists support tickets. Customers only see their own.
func (h *Handler) ListTickets(c *gin.Context) {
	tickets, err := h.tickets.ListTickets(c.Request.Context(), c.Query("status"), customerScope(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"tickets": tickets})
}

// GetTicket returns a ticket with its messages.
func (h *Handler) GetTicket(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	t, err := h.tickets.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if scope := customerScope(c); scope != nil && t.CustomerID != *scope {
		h.fail(c, apperr.Forbidden("Ticket belongs to another customer"))
		return
	}
	ok(c, http.StatusOK, gin.H{"ticket": t})
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// AddTicketMessage appends a reply from the authenticated account.
func (h *Handler) AddTicketMessage(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req messageRequest
	if !h.bind(c, &req) {
		return
	}
	claims, found := mw.Claims(c)
	if !found {
		h.fail(c, apperr.Unauthorized("Missing bearer token"))
		return
	}
	senderID, err := claims.AccountID()
	if err != nil {
		h.fail(c, apperr.Unauthorized("Invalid or expired token"))
		return
	}
	msg, err := h.tickets.AddMessage(c.Request.Context(), id, ticket.MessageInput{
		SenderType: claims.AccountType,
		SenderID:   senderID,
		Message:    req.Message,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"message": msg})
}

// UpdateTicketStatus moves a ticket to a new status.
func (h *Handler) UpdateTicketStatus(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req statusUpdateRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.tickets.UpdateTicketStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"ticket": t})
}
