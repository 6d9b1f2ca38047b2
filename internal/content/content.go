// Package content serves announcements, sales records and the dashboard summary.
package content

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/export"
	"nutribin-backend/internal/model"
)

var announcementPriorities = []string{"low", "normal", "high"}

// AnnouncementInput carries the fields of an announcement create or update.
// Nil fields are left unchanged on update.
type AnnouncementInput struct {
	Title       *string
	Body        *string
	Author      *string
	Priority    *string
	IsActive    *bool
	PublishedAt *time.Time
}

// SaleInput is the payload of a new sale.
type SaleInput struct {
	CustomerName string
	Product      string
	Quantity     int
	Amount       float64
	SaleDate     time.Time
}

// Summary is the dashboard overview.
type Summary struct {
	Customers           int64   `json:"customers"`
	Staff               int64   `json:"staff"`
	Machines            int64   `json:"machines"`
	ActiveMachines      int64   `json:"active_machines"`
	OpenRepairs         int64   `json:"open_repairs"`
	OpenSupportTickets  int64   `json:"open_support_tickets"`
	TotalSales          float64 `json:"total_sales"`
	ActiveAnnouncements int64   `json:"active_announcements"`
}

// Service implements content operations.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// NewService creates a content service.
func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateAnnouncement publishes an announcement. Title and body are required.
func (s *Service) CreateAnnouncement(ctx context.Context, in AnnouncementInput) (*model.Announcement, error) {
	a := model.Announcement{Priority: "normal", IsActive: true, PublishedAt: s.now()}
	if err := applyAnnouncement(&a, in); err != nil {
		return nil, err
	}
	if a.Title == "" || a.Body == "" {
		return nil, apperr.BadRequest("title and body are required")
	}
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func applyAnnouncement(a *model.Announcement, in AnnouncementInput) error {
	if in.Title != nil {
		a.Title = strings.TrimSpace(*in.Title)
	}
	if in.Body != nil {
		a.Body = strings.TrimSpace(*in.Body)
	}
	if in.Author != nil {
		a.Author = strings.TrimSpace(*in.Author)
	}
	if in.Priority != nil {
		p := strings.ToLower(strings.TrimSpace(*in.Priority))
		valid := false
		for _, allowed := range announcementPriorities {
			valid = valid || p == allowed
		}
		if !valid {
			return apperr.BadRequest("priority must be one of low, normal, high")
		}
		a.Priority = p
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	if in.PublishedAt != nil {
		a.PublishedAt = in.PublishedAt.UTC()
	}
	return nil
}

// ListAnnouncements returns announcements newest first. A non-nil active
// filters on is_active.
func (s *Service) ListAnnouncements(ctx context.Context, active *bool) ([]model.Announcement, error) {
	q := s.db.WithContext(ctx).Order("published_at DESC, id DESC")
	if active != nil {
		q = q.Where("is_active = ?", *active)
	}
	var out []model.Announcement
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetAnnouncement returns one announcement.
func (s *Service) GetAnnouncement(ctx context.Context, id uint) (*model.Announcement, error) {
	var a model.Announcement
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, apperr.FromDB(err, "Announcement not found")
	}
	return &a, nil
}

// UpdateAnnouncement applies the non-nil fields of in.
func (s *Service) UpdateAnnouncement(ctx context.Context, id uint, in AnnouncementInput) (*model.Announcement, error) {
	var a model.Announcement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&a, id).Error; err != nil {
			return apperr.FromDB(err, "Announcement not found")
		}
		if err := applyAnnouncement(&a, in); err != nil {
			return err
		}
		if a.Title == "" || a.Body == "" {
			return apperr.BadRequest("title and body are required")
		}
		return tx.Save(&a).Error
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAnnouncement removes an announcement.
func (s *Service) DeleteAnnouncement(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Announcement{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Announcement not found")
	}
	return nil
}

// CreateSale records a sale. Amount is stored rounded to cents.
func (s *Service) CreateSale(ctx context.Context, in SaleInput) (*model.Sale, error) {
	switch {
	case strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.Product) == "":
		return nil, apperr.BadRequest("customer_name and product are required")
	case in.Quantity < 1:
		return nil, apperr.BadRequest("quantity must be at least 1")
	case !(in.Amount > 0) || math.IsInf(in.Amount, 0):
		return nil, apperr.BadRequest("amount must be greater than 0")
	}
	saleDate := in.SaleDate
	if saleDate.IsZero() {
		saleDate = s.now()
	}
	sale := model.Sale{
		CustomerName: strings.TrimSpace(in.CustomerName),
		Product:      strings.TrimSpace(in.Product),
		Quantity:     in.Quantity,
		Amount:       math.Round(in.Amount*100) / 100,
		SaleDate:     saleDate.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales returns sales by sale date, newest first, ties broken by creation time.
func (s *Service) ListSales(ctx context.Context) ([]model.Sale, error) {
	var sales []model.Sale
	if err := s.db.WithContext(ctx).
		Order("sale_date DESC, date_created DESC, id DESC").
		Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// DeleteSale removes a sale.
func (s *Service) DeleteSale(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Sale{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Sale not found")
	}
	return nil
}

// ExportSales renders every sale, in list order, as an xlsx workbook.
func (s *Service) ExportSales(ctx context.Context) ([]byte, error) {
	sales, err := s.ListSales(ctx)
	if err != nil {
		return nil, err
	}
	return export.SalesWorkbook(sales)
}

// DashboardSummary gathers the overview counters.
func (s *Service) DashboardSummary(ctx context.Context) (*Summary, error) {
	db := s.db.WithContext(ctx)
	var sum Summary
	counts := []struct {
		dst   *int64
		model any
		where string
		args  []any
	}{
		{&sum.Customers, &model.Customer{}, "", nil},
		{&sum.Staff, &model.Staff{}, "", nil},
		{&sum.Machines, &model.Machine{}, "", nil},
		{&sum.ActiveMachines, &model.Machine{}, "is_active = ?", []any{true}},
		{&sum.OpenRepairs, &model.Repair{}, "status <> ?", []any{model.RepairCancelled}},
		{&sum.OpenSupportTickets, &model.SupportTicket{}, "status IN ?", []any{[]string{model.TicketOpen, model.TicketInProgress}}},
		{&sum.ActiveAnnouncements, &model.Announcement{}, "is_active = ?", []any{true}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	var total struct{ Total float64 }
	if err := db.Model(&model.Sale{}).Select("COALESCE(SUM(amount), 0) AS total").Scan(&total).Error; err != nil {
		return nil, err
	}
	sum.TotalSales = math.Round(total.Total*100) / 100
	return &sum, nil
}
