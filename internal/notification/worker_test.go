package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"nutribin-backend/internal/dbtest"
	"nutribin-backend/internal/mail"
)

type mockPush struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockPush) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

type mockMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	done chan struct{}
}

func (m *mockMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

type mockSMS struct {
	err  error
	done chan string
}

func (m *mockSMS) Send(_ context.Context, phone, message string) error {
	m.done <- phone + "|" + message
	return m.err
}

func emptyBody() io.ReadCloser { return io.NopCloser(bytes.NewBufferString("")) }

var pushOptions = &webpush.Options{VAPIDPrivateKey: "private", VAPIDPublicKey: "public"}

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := dbtest.NewMock(t)
	wp := NewWorkerPool(1, db, pushOptions, nil, nil, zap.NewNop())

	assert.True(t, wp.Dispatch(MachineOfflineJob("NB-001")))

	select {
	case job := <-wp.jobs:
		assert.Equal(t, KindMachineOffline, job.Kind)
		assert.Equal(t, "NB-001", job.MachineID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	db, _ := dbtest.NewMock(t)
	wp := NewWorkerPool(1, db, pushOptions, nil, nil, zap.NewNop())

	for i := 0; i < cap(wp.jobs); i++ {
		assert.True(t, wp.Dispatch(SMSJob("09171234567", "hi")))
	}
	assert.False(t, wp.Dispatch(SMSJob("09171234567", "overflow")))
}

func TestWorkerPool_EmailAndSMS(t *testing.T) {
	db, _ := dbtest.NewMock(t)
	mailer := &mockMailer{done: make(chan struct{}, 1)}
	texter := &mockSMS{err: errors.New("provider down"), done: make(chan string, 1)}
	wp := NewWorkerPool(1, db, pushOptions, mailer, texter, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(EmailJob(mail.Message{To: "a@example.com", Subject: "Hello", HTML: "<p>x</p>"}))
	select {
	case <-mailer.done:
	case <-time.After(time.Second):
		t.Fatal("email job was not delivered")
	}
	mailer.mu.Lock()
	assert.Equal(t, "a@example.com", mailer.sent[0].To)
	mailer.mu.Unlock()

	// A failing SMS provider must not stop the worker.
	wp.Dispatch(SMSJob("09171234567", "code 123456"))
	select {
	case got := <-texter.done:
		assert.Equal(t, "09171234567|code 123456", got)
	case <-time.After(time.Second):
		t.Fatal("sms job was not delivered")
	}

	wp.Dispatch(EmailJob(mail.Message{To: "b@example.com"}))
	select {
	case <-mailer.done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a failed job")
	}
}

func TestWorkerPool_MachineOffline(t *testing.T) {
	gormDB, mock := dbtest.NewMock(t)
	wp := NewWorkerPool(1, gormDB, pushOptions, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	subQuery := `SELECT .* FROM "push_subscriptions".*JOIN subscription_machine_mapping.*WHERE smm\.machine_machine_id = \$1`
	nameQuery := `SELECT "name" FROM "machines" WHERE machine_id = \$1 ORDER BY "machines"."machine_id" LIMIT \$2`

	t.Run("sends notification with machine name", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.push = &mockPush{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "NutriBin Backyard Bin is offline. No telemetry has been received recently.", string(payload))
				wg.Done()
				return &http.Response{StatusCode: http.StatusCreated, Body: emptyBody()}, nil
			},
		}

		mock.ExpectQuery(subQuery).
			WithArgs("NB-101").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/push", "p256dh", "auth", time.Now()))
		mock.ExpectQuery(nameQuery).
			WithArgs("NB-101", 1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Backyard Bin"))

		wp.Dispatch(MachineOfflineJob("NB-101"))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.push = &mockPush{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{StatusCode: http.StatusGone, Body: emptyBody()}, nil
			},
		}

		mock.ExpectQuery(subQuery).
			WithArgs("NB-102").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/expired", "p256dh", "auth", time.Now()))
		mock.ExpectQuery(nameQuery).
			WithArgs("NB-102", 1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Bin 102"))
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Dispatch(MachineOfflineJob("NB-102"))

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("falls back to machine ID when lookup fails", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.push = &mockPush{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "NutriBin NB-103 is offline. No telemetry has been received recently.", string(payload))
				wg.Done()
				return &http.Response{StatusCode: http.StatusCreated, Body: emptyBody()}, nil
			},
		}

		mock.ExpectQuery(subQuery).
			WithArgs("NB-103").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/fallback", "p256dh", "auth", time.Now()))
		mock.ExpectQuery(nameQuery).
			WithArgs("NB-103", 1).
			WillReturnError(fmt.Errorf("machine not found"))

		wp.Dispatch(MachineOfflineJob("NB-103"))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "email", KindEmail.String())
	assert.Equal(t, "sms", KindSMS.String())
	assert.Equal(t, "machine_offline", KindMachineOffline.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
