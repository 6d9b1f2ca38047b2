// Package ticket manages machine repair requests and support conversations.
package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/mail"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/notification"
)

var (
	repairStatuses = []string{model.RepairActive, model.RepairAccepted, model.RepairCancelled, model.RepairPostponed}
	ticketStatuses = []string{model.TicketOpen, model.TicketInProgress, model.TicketResolved, model.TicketClosed}
	priorities     = []string{"low", "medium", "high"}
	senderTypes    = []string{model.AccountCustomer, model.AccountStaff, model.AccountAdmin}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// RepairInput is the payload of a new repair request.
type RepairInput struct {
	MachineID   string
	CustomerID  uint
	Description string
	// ByCustomer is set when the customer files the repair themselves.
	ByCustomer bool
}

// TicketInput is the payload of a new support ticket.
type TicketInput struct {
	CustomerID  uint
	Subject     string
	Description string
	Priority    string
}

// MessageInput is one reply on a support ticket.
type MessageInput struct {
	SenderType string
	SenderID   uint
	Message    string
}

// Service implements repair and support ticket operations.
type Service struct {
	db         *gorm.DB
	dispatcher notification.Dispatcher
	log        *zap.Logger
	now        func() time.Time
}

// NewService creates a ticket service. dispatcher may be nil.
func NewService(db *gorm.DB, dispatcher notification.Dispatcher, log *zap.Logger) *Service {
	return &Service{db: db, dispatcher: dispatcher, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRepair files a repair for an existing machine. Without an explicit
// customer the machine's owner is used. Customers may only file repairs for
// machines they own.
func (s *Service) CreateRepair(ctx context.Context, in RepairInput) (*model.Repair, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, apperr.BadRequest("description is required")
	}
	repair := model.Repair{MachineID: strings.TrimSpace(in.MachineID), CustomerID: in.CustomerID, Description: desc, Status: model.RepairActive}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Machine
		if err := tx.Select("machine_id", "customer_id").First(&m, "machine_id = ?", repair.MachineID).Error; err != nil {
			return apperr.FromDB(err, "Machine not found")
		}
		if in.ByCustomer && (m.CustomerID == nil || *m.CustomerID != repair.CustomerID) {
			return apperr.Forbidden("Machine does not belong to this customer")
		}
		if repair.CustomerID != 0 && m.CustomerID != nil && *m.CustomerID != repair.CustomerID {
			return apperr.BadRequest("customer_id does not own this machine")
		}
		if repair.CustomerID == 0 {
			if m.CustomerID == nil {
				return apperr.BadRequest("customer_id is required for an unassigned machine")
			}
			repair.CustomerID = *m.CustomerID
		}
		return tx.Create(&repair).Error
	})
	if err != nil {
		return nil, err
	}
	return &repair, nil
}

// ListRepairs returns repairs newest first, optionally filtered by status.
func (s *Service) ListRepairs(ctx context.Context, status string) ([]model.Repair, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if status != "" {
		if !oneOf(status, repairStatuses) {
			return nil, apperr.BadRequest("Invalid repair status")
		}
		q = q.Where("status = ?", status)
	}
	var repairs []model.Repair
	if err := q.Find(&repairs).Error; err != nil {
		return nil, err
	}
	return repairs, nil
}

// GetRepair returns one repair.
func (s *Service) GetRepair(ctx context.Context, id uint) (*model.Repair, error) {
	var r model.Repair
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, apperr.FromDB(err, "Repair not found")
	}
	return &r, nil
}

// UpdateRepairStatus moves a repair to status and emails the customer when it changed.
func (s *Service) UpdateRepairStatus(ctx context.Context, id uint, status string) (*model.Repair, error) {
	if !oneOf(status, repairStatuses) {
		return nil, apperr.BadRequest("Invalid repair status")
	}
	var r model.Repair
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&r, id).Error; err != nil {
			return apperr.FromDB(err, "Repair not found")
		}
		if r.Status == status {
			return nil
		}
		changed = true
		return tx.Model(&r).Updates(map[string]any{"status": status, "updated_at": s.now()}).Error
	})
	if err != nil {
		return nil, err
	}
	r.Status = status
	if changed {
		s.notifyCustomer(ctx, r.CustomerID, "repair_status", "Your NutriBin repair request was updated", map[string]any{
			"ID": r.ID, "MachineID": r.MachineID, "Status": status,
		})
	}
	return &r, nil
}

// CreateTicket opens a support ticket for an existing customer.
func (s *Service) CreateTicket(ctx context.Context, in TicketInput) (*model.SupportTicket, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, apperr.BadRequest("subject is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = "medium"
	}
	if !oneOf(priority, priorities) {
		return nil, apperr.BadRequest("priority must be one of low, medium, high")
	}

	t := model.SupportTicket{
		CustomerID:  in.CustomerID,
		Subject:     subject,
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      model.TicketOpen,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Customer
		if err := tx.Select("id").First(&c, in.CustomerID).Error; err != nil {
			return apperr.FromDB(err, "Customer not found")
		}
		return tx.Create(&t).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns tickets newest first. Empty filters match everything.
func (s *Service) ListTickets(ctx context.Context, status string, customerID *uint) ([]model.SupportTicket, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if status != "" {
		if !oneOf(status, ticketStatuses) {
			return nil, apperr.BadRequest("Invalid ticket status")
		}
		q = q.Where("status = ?", status)
	}
	if customerID != nil {
		q = q.Where("customer_id = ?", *customerID)
	}
	var tickets []model.SupportTicket
	if err := q.Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket returns a ticket with its thread in chronological order.
func (s *Service) GetTicket(ctx context.Context, id uint) (*model.SupportTicket, error) {
	var t model.SupportTicket
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&t, id).Error
	if err != nil {
		return nil, apperr.FromDB(err, "Ticket not found")
	}
	if t.Messages == nil {
		t.Messages = []model.SupportMessage{}
	}
	return &t, nil
}

// AddMessage appends a reply. Closed tickets accept no more messages.
func (s *Service) AddMessage(ctx context.Context, ticketID uint, in MessageInput) (*model.SupportMessage, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return nil, apperr.BadRequest("message is required")
	}
	if !oneOf(in.SenderType, senderTypes) {
		return nil, apperr.BadRequest("sender_type must be one of customer, staff, admin")
	}
	msg := model.SupportMessage{TicketID: ticketID, SenderType: in.SenderType, SenderID: in.SenderID, Message: text, CreatedAt: s.now()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.SupportTicket
		if err := tx.Select("id", "status").First(&t, ticketID).Error; err != nil {
			return apperr.FromDB(err, "Ticket not found")
		}
		if t.Status == model.TicketClosed {
			return apperr.BadRequest("Ticket is closed")
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.SupportTicket{}).Where("id = ?", ticketID).Update("updated_at", s.now()).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateTicketStatus moves a ticket to status and emails the customer when it changed.
func (s *Service) UpdateTicketStatus(ctx context.Context, id uint, status string) (*model.SupportTicket, error) {
	if !oneOf(status, ticketStatuses) {
		return nil, apperr.BadRequest("Invalid ticket status")
	}
	var t model.SupportTicket
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, id).Error; err != nil {
			return apperr.FromDB(err, "Ticket not found")
		}
		if t.Status == status {
			return nil
		}
		changed = true
		return tx.Model(&t).Updates(map[string]any{"status": status, "updated_at": s.now()}).Error
	})
	if err != nil {
		return nil, err
	}
	t.Status = status
	if changed {
		s.notifyCustomer(ctx, t.CustomerID, "support_status", "Your NutriBin support ticket was updated", map[string]any{
			"ID": t.ID, "Subject": t.Subject, "Status": status,
		})
	}
	return &t, nil
}

// notifyCustomer queues a status email. Failures never fail the update.
func (s *Service) notifyCustomer(ctx context.Context, customerID uint, tmpl, subject string, data map[string]any) {
	if s.dispatcher == nil {
		return
	}
	var c model.Customer
	err := s.db.WithContext(ctx).Select("id", "first_name", "email").First(&c, customerID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("failed to load customer for notification", zap.Uint("customer_id", customerID), zap.Error(err))
		}
		return
	}
	data["Name"] = c.FirstName
	html, err := mail.Render(tmpl, data)
	if err != nil {
		s.log.Error("failed to render status email", zap.String("template", tmpl), zap.Error(err))
		return
	}
	s.dispatcher.Dispatch(notification.EmailJob(mail.Message{To: c.Email, Subject: subject, HTML: html}))
}
