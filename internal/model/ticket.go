package model

import "time"

// Repair statuses.
const (
	RepairActive    = "active"
	RepairAccepted  = "accepted"
	RepairCancelled = "cancelled"
	RepairPostponed = "postponed"
)

// Support ticket statuses.
const (
	TicketOpen       = "open"
	TicketInProgress = "in-progress"
	TicketResolved   = "resolved"
	TicketClosed     = "closed"
)

// Repair is a service request against a machine.
type Repair struct {
	ID          uint      `gorm:"primaryKey" json:"repair_id"`
	MachineID   string    `gorm:"size:64;not null;index" json:"machine_id"`
	CustomerID  uint      `gorm:"not null;index" json:"customer_id"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Status      string    `gorm:"size:16;not null;default:active;index" json:"repair_status"`
	CreatedAt   time.Time `json:"date_created"`
	UpdatedAt   time.Time `json:"last_updated"`
}

// SupportTicket is a customer conversation with staff.
type SupportTicket struct {
	ID          uint             `gorm:"primaryKey" json:"ticket_id"`
	CustomerID  uint             `gorm:"not null;index" json:"customer_id"`
	Subject     string           `gorm:"size:255;not null" json:"subject"`
	Description string           `gorm:"type:text" json:"description"`
	Priority    string           `gorm:"size:16;not null;default:medium" json:"priority"`
	Status      string           `gorm:"size:16;not null;default:open;index" json:"status"`
	CreatedAt   time.Time        `json:"date_created"`
	UpdatedAt   time.Time        `json:"last_updated"`
	Messages    []SupportMessage `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// SupportMessage is one entry of a support ticket thread.
type SupportMessage struct {
	ID         uint      `gorm:"primaryKey" json:"message_id"`
	TicketID   uint      `gorm:"not null;index" json:"ticket_id"`
	SenderType string    `gorm:"size:16;not null" json:"sender_type"`
	SenderID   uint      `gorm:"not null" json:"sender_id"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time `json:"date_created"`
}
