package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/mail"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/sms"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real PushSender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Kind selects the delivery channel of a Job.
type Kind int

const (
	KindEmail Kind = iota + 1
	KindSMS
	KindMachineOffline
)

func (k Kind) String() string {
	switch k {
	case KindEmail:
		return "email"
	case KindSMS:
		return "sms"
	case KindMachineOffline:
		return "machine_offline"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Job is one unit of fire-and-forget delivery.
type Job struct {
	Kind      Kind
	Email     mail.Message
	Phone     string
	Text      string
	MachineID string
}

// EmailJob builds a job that delivers msg.
func EmailJob(msg mail.Message) Job { return Job{Kind: KindEmail, Email: msg} }

// SMSJob builds a job that texts phone.
func SMSJob(phone, text string) Job { return Job{Kind: KindSMS, Phone: phone, Text: text} }

// MachineOfflineJob builds a job that pushes an offline alert for machineID.
func MachineOfflineJob(machineID string) Job {
	return Job{Kind: KindMachineOffline, MachineID: machineID}
}

// Dispatcher accepts jobs for asynchronous delivery.
type Dispatcher interface {
	Dispatch(job Job) bool
}

// WorkerPool manages a pool of workers for delivering notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	push    PushSender
	mailer  mail.Sender
	sms     sms.Sender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool. mailer, smsSender and
// webpushOptions may be nil; jobs for a missing channel are dropped.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, mailer mail.Sender, smsSender sms.Sender, log *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*32),
		db:      db,
		webpush: webpushOptions,
		push:    &WebPushSender{},
		mailer:  mailer,
		sms:     smsSender,
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-wp.jobs:
			wp.handle(ctx, job)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a job. It never blocks: when the queue is full the job is
// dropped and false is returned.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		wp.log.Warn("notification queue full; dropping job", zap.Stringer("kind", job.Kind))
		return false
	}
}

func (wp *WorkerPool) handle(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case KindEmail:
		if wp.mailer == nil {
			err = fmt.Errorf("mailer not configured")
			break
		}
		err = wp.mailer.Send(ctx, job.Email)
	case KindSMS:
		if wp.sms == nil {
			err = fmt.Errorf("sms sender not configured")
			break
		}
		err = wp.sms.Send(ctx, job.Phone, job.Text)
	case KindMachineOffline:
		wp.sendNotificationsForMachine(ctx, job.MachineID)
	default:
		err = fmt.Errorf("unknown job kind %d", job.Kind)
	}
	if err != nil {
		wp.log.Warn("notification delivery failed", zap.Stringer("kind", job.Kind), zap.Error(err))
	}
}

// sendNotificationsForMachine pushes an offline alert to every subscription of a machine.
func (wp *WorkerPool) sendNotificationsForMachine(ctx context.Context, machineID string) {
	if wp.webpush == nil || wp.webpush.VAPIDPrivateKey == "" {
		return
	}

	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_machine_mapping smm ON smm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("smm.machine_machine_id = ?", machineID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error("error fetching subscriptions", zap.String("machine_id", machineID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	machineLabel := machineID
	var machine model.Machine
	if err := wp.db.WithContext(ctx).
		Select("name").
		First(&machine, "machine_id = ?", machineID).Error; err != nil {
		wp.log.Warn("error fetching machine", zap.String("machine_id", machineID), zap.Error(err))
	} else if machine.Name != "" {
		machineLabel = machine.Name
	}

	message := fmt.Sprintf("NutriBin %s is offline. No telemetry has been received recently.", machineLabel)
	wp.log.Info("sending offline notifications", zap.String("machine_id", machineID), zap.Int("subscriptions", len(subscriptions)))
	for _, sub := range subscriptions {
		wp.sendPush(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendPush(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.push.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("error sending push notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("push subscription expired; deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Warn("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
