package sms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"nutribin-backend/config"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone converts local mobile numbers (09XXXXXXXXX) to the
// international form without the plus sign (639XXXXXXXXX).
func NormalizePhone(phone string) (string, error) {
	digits := nonDigits.ReplaceAllString(phone, "")
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "09"):
		return "63" + digits[1:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, "639"):
		return digits, nil
	case len(digits) == 10 && strings.HasPrefix(digits, "9"):
		return "63" + digits, nil
	default:
		return "", fmt.Errorf("invalid mobile number %q", phone)
	}
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// IProgSender talks to the carrier-style iProg SMS API.
type IProgSender struct {
	client *resty.Client
	token  string
}

// NewIProgSender creates the iProg provider client.
func NewIProgSender(baseURL, token string, timeout time.Duration) *IProgSender {
	return &IProgSender{client: newClient(baseURL, timeout), token: token}
}

type iprogResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Send posts one message.
func (s *IProgSender) Send(ctx context.Context, phone, message string) error {
	if s.token == "" {
		return errors.New("iprog api token is not configured")
	}
	number, err := NormalizePhone(phone)
	if err != nil {
		return err
	}

	var out iprogResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"api_token":    s.token,
			"phone_number": number,
			"message":      message,
		}).
		SetResult(&out).
		Post("/api/v1/sms_messages")
	if err != nil {
		return fmt.Errorf("iprog request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("iprog returned HTTP %d", resp.StatusCode())
	}
	if out.Status != 0 && out.Status != 200 {
		return fmt.Errorf("iprog rejected message: %s", out.Message)
	}
	return nil
}

// BulkSender talks to a telephony-style bulk messaging API.
type BulkSender struct {
	client   *resty.Client
	senderID string
}

// NewBulkSender creates the bulk provider client.
func NewBulkSender(baseURL, apiKey, senderID string, timeout time.Duration) *BulkSender {
	client := newClient(baseURL, timeout).SetAuthToken(apiKey)
	return &BulkSender{client: client, senderID: senderID}
}

// Send posts one message to a single recipient.
func (s *BulkSender) Send(ctx context.Context, phone, message string) error {
	number, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"recipients": []string{"+" + number},
			"sender_id":  s.senderID,
			"message":    message,
		}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("bulk sms request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bulk sms returned HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ErrCircuitOpen is returned while the provider is considered down.
var ErrCircuitOpen = errors.New("sms provider unavailable")

// BreakerSender stops calling a failing provider for a cool-down period.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerSender wraps next. The circuit opens after 5 consecutive failures
// and probes again after 30 seconds.
func NewBreakerSender(name string, next Sender, log *zap.Logger) *BreakerSender {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("sms circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerSender{next: next, cb: cb}
}

// Send forwards to the wrapped provider unless the circuit is open.
func (b *BreakerSender) Send(ctx context.Context, phone, message string) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, phone, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// New builds the configured provider wrapped in a circuit breaker.
func New(cfg config.SMSConfig, log *zap.Logger) (Sender, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var provider Sender
	switch cfg.Provider {
	case "iprog":
		provider = NewIProgSender(cfg.IProgBaseURL, cfg.IProgAPIToken, timeout)
	case "bulk":
		if cfg.BulkBaseURL == "" {
			return nil, errors.New("sms.bulk_base_url is required for the bulk provider")
		}
		provider = NewBulkSender(cfg.BulkBaseURL, cfg.BulkAPIKey, cfg.BulkSenderID, timeout)
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
	return NewBreakerSender("sms-"+cfg.Provider, provider, log), nil
}
