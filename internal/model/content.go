package model

import "time"

// Announcement is a notice shown on the dashboard and in the customer app.
type Announcement struct {
	ID          uint      `gorm:"primaryKey" json:"announcement_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Body        string    `gorm:"type:text;not null" json:"body"`
	Author      string    `gorm:"size:128" json:"author"`
	Priority    string    `gorm:"size:16;not null;default:normal" json:"priority"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	PublishedAt time.Time `gorm:"not null;index" json:"date_published"`
	UpdatedAt   time.Time `json:"last_updated"`
}

// Sale records a fertilizer or device sale.
type Sale struct {
	ID           uint      `gorm:"primaryKey" json:"sale_id"`
	CustomerName string    `gorm:"size:200;not null" json:"customer_name"`
	Product      string    `gorm:"size:200;not null" json:"product"`
	Quantity     int       `gorm:"not null" json:"quantity"`
	Amount       float64   `gorm:"type:numeric(12,2);not null" json:"amount"`
	SaleDate     time.Time `gorm:"not null;index" json:"sale_date"`
	DateCreated  time.Time `gorm:"autoCreateTime;not null" json:"date_created"`
}
