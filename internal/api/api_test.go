package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutribin-backend/config"
	"nutribin-backend/internal/account"
	"nutribin-backend/internal/analytics"
	"nutribin-backend/internal/auth"
	"nutribin-backend/internal/backup"
	"nutribin-backend/internal/content"
	"nutribin-backend/internal/dbtest"
	"nutribin-backend/internal/firmware"
	"nutribin-backend/internal/loginmon"
	"nutribin-backend/internal/machine"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/notification"
	"nutribin-backend/internal/store"
	"nutribin-backend/internal/ticket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopDispatcher struct {
	mu   sync.Mutex
	jobs []notification.Job
}

func (d *nopDispatcher) Dispatch(job notification.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return true
}

type testServer struct {
	router     *gin.Engine
	db         *gorm.DB
	tokens     *auth.TokenIssuer
	backupDir  string
	dispatcher *nopDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.New(t)
	log := zap.NewNop()
	disp := &nopDispatcher{}

	tokens, err := auth.NewTokenIssuer("test-secret-test-secret", time.Hour)
	require.NoError(t, err)
	codes := account.NewCodes(db, disp, 10*time.Minute, 15*time.Minute, log)
	monitor := loginmon.New(db, time.Minute, 3, log)
	dir := t.TempDir()
	gen := backup.NewGenerator(db, log)

	h := NewHandler(Deps{
		DB:        db,
		WebPush:   &webpush.Options{VAPIDPublicKey: "BPublicKey"},
		Accounts:  account.NewService(db, codes, tokens, nil, monitor, disp, log),
		Machines:  machine.NewService(store.NewGormStore(db), log),
		Tickets:   ticket.NewService(db, disp, log),
		Content:   content.NewService(db, log),
		Analytics: analytics.NewService(db),
		Firmware:  firmware.NewService(db, nil, "firmware", time.Hour, log),
		Backups:   backup.NewRunner(gen, dir, 10, nil, "", log),
		Dumper:    gen,
		Log:       log,
	})
	cfg := config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 30, RequestTimeoutSeconds: 5}
	return &testServer{
		router:     NewRouter(h, tokens, cfg, log),
		db:         db,
		tokens:     tokens,
		backupDir:  dir,
		dispatcher: disp,
	}
}

// token issues a session for the account, creating the account row if needed.
func (s *testServer) token(t *testing.T, accountType string, id uint) string {
	t.Helper()
	acc := model.Account{
		ID:        id,
		FirstName: "Test",
		LastName:  accountType,
		Email:     fmt.Sprintf("%s%d@example.com", accountType, id),
		Status:    model.StatusActive,
	}
	var row any
	switch accountType {
	case model.AccountCustomer:
		row = &model.Customer{Account: acc}
	case model.AccountStaff:
		row = &model.Staff{Account: acc, Role: "staff"}
	default:
		row = &model.Admin{Account: acc}
	}
	require.NoError(t, s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error)

	tok, err := s.tokens.Issue(id, accountType, accountType)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
}

func TestStaffSignupAndSignIn(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/auth/staff/signup", "", gin.H{
		"first_name": "Lea", "last_name": "Cruz", "email": "lea@example.com", "password": "compost123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, body["ok"])

	w, body = s.do(t, http.MethodPost, "/auth/staff/signup", "", gin.H{
		"first_name": "Lea", "last_name": "Cruz", "email": "LEA@example.com", "password": "compost123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, float64(http.StatusConflict), body["statusCode"])

	w, body = s.do(t, http.MethodPost, "/auth/signin", "", gin.H{
		"account_type": "staff", "email": "lea@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Invalid email or password", body["error"])

	w, body = s.do(t, http.MethodPost, "/auth/signin", "", gin.H{
		"account_type": "staff", "email": "lea@example.com", "password": "compost123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	w, _ = s.do(t, http.MethodGet, "/dashboard/summary", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignIn_ValidationError(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodPost, "/auth/signin", "", gin.H{"account_type": "robot", "email": "a@b.c", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(http.StatusBadRequest), body["statusCode"])
	assert.NotEmpty(t, body["message"])
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/machines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, float64(http.StatusUnauthorized), body["statusCode"])

	w, _ = s.do(t, http.MethodGet, "/sales", s.token(t, model.AccountCustomer, 1), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/hardware/register", s.token(t, model.AccountStaff, 1), gin.H{"serial_number": "NB-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTelemetryFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, model.AccountAdmin, 1)

	w, _ := s.do(t, http.MethodPost, "/hardware/sensor-data", "", gin.H{"machine_id": "NB-0001", "nitrogen": "12 mg/kg"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/hardware/register", admin, gin.H{"serial_number": "NB-0001", "model": "v2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, "/hardware/register", admin, gin.H{"serial_number": "NB-0001"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body := s.do(t, http.MethodPost, "/hardware/sensor-data", "", gin.H{
		"machine_id": "NB-0001", "nitrogen": "12 mg/kg", "ph": 6.8, "c1": true, "s2": "1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := body["machine"].(map[string]any)
	assert.Equal(t, true, m["is_active"])
	health := m["health"].(map[string]any)
	assert.Equal(t, float64(2), health["error_count"])

	w, body = s.do(t, http.MethodGet, "/machines/NB-0001", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := body["machine"].(map[string]any)["latest_reading"].(map[string]any)
	assert.Equal(t, 12.0, latest["nitrogen"])

	w, body = s.do(t, http.MethodGet, "/machines/NB-0001/readings", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["readings"], 1)

	customer := s.token(t, model.AccountCustomer, 7)
	w, _ = s.do(t, http.MethodGet, "/machines/NB-0001", customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodGet, "/machines", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["machines"])

	w, body = s.do(t, http.MethodGet, "/machines/health", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["machines"], 1)
}

func TestSales(t *testing.T) {
	s := newTestServer(t)
	staff := s.token(t, model.AccountStaff, 1)

	w, body := s.do(t, http.MethodPost, "/sales", staff, gin.H{"customer_name": "Farm A", "product": "Compost", "quantity": 0, "amount": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(http.StatusBadRequest), body["statusCode"])

	for _, sale := range []gin.H{
		{"customer_name": "Farm A", "product": "Old", "quantity": 1, "amount": 100, "sale_date": "2026-01-01"},
		{"customer_name": "Farm B", "product": "New", "quantity": 2, "amount": 250.5, "sale_date": "2026-02-01"},
	} {
		w, _ = s.do(t, http.MethodPost, "/sales", staff, sale)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodGet, "/sales", staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sales := body["sales"].([]any)
	require.Len(t, sales, 2)
	assert.Equal(t, "New", sales[0].(map[string]any)["product"])

	w, _ = s.do(t, http.MethodGet, "/sales/export", staff, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "PK", w.Body.String()[:2])
}

func TestAnnouncementsCacheInvalidation(t *testing.T) {
	s := newTestServer(t)
	staff := s.token(t, model.AccountStaff, 1)

	w, body := s.do(t, http.MethodGet, "/announcements", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["announcements"])

	w, _ = s.do(t, http.MethodPost, "/announcements", staff, gin.H{"title": "Maintenance", "body": "Saturday", "is_active": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body = s.do(t, http.MethodGet, "/announcements?active=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["announcements"], 1)

	w, body = s.do(t, http.MethodGet, "/announcements", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["announcements"], 1)

	w, _ = s.do(t, http.MethodGet, "/announcements?active=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackupFiles(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, model.AccountAdmin, 1)

	name := backup.FileName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, os.WriteFile(filepath.Join(s.backupDir, name), []byte("-- dump\n"), 0o600))

	w, body := s.do(t, http.MethodGet, "/backup/files", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["files"], 1)

	w, _ = s.do(t, http.MethodGet, "/backup/files/"+name, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "-- dump\n", w.Body.String())

	w, _ = s.do(t, http.MethodGet, "/backup/files/passwd.sql", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/backup/files/nutribin_backup_20990101_000000.sql", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/backup/clean?keep=0", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushSubscriptions(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Create(&model.MachineSerial{SerialNumber: "NB-7"}).Error)
	require.NoError(t, s.db.Create(&model.Machine{MachineID: "NB-7"}).Error)

	w, body := s.do(t, http.MethodGet, "/push/vapid_public_key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BPublicKey", body["public_key"])

	w, _ = s.do(t, http.MethodPut, "/push/subscriptions", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sub := gin.H{"endpoint": "https://push.example.com/abc", "p256dh": "key", "auth": "secret", "subscribed_machines": []string{"NB-404"}}
	w, _ = s.do(t, http.MethodPut, "/push/subscriptions", "", sub)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sub["subscribed_machines"] = []string{"NB-7"}
	w, _ = s.do(t, http.MethodPut, "/push/subscriptions", "", sub)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body = s.do(t, http.MethodGet, "/push/subscriptions?endpoint=https://push.example.com/abc", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"NB-7"}, body["subscribed_machines"])

	w, _ = s.do(t, http.MethodDelete, "/push/subscriptions", "", gin.H{"endpoint": "https://push.example.com/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodGet, "/push/subscriptions?endpoint=https://push.example.com/abc", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFirmwareWithoutStorage(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/firmware/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagement_StaffCannotChangeAdmins(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, model.AccountAdmin, 1)
	staff := s.token(t, model.AccountStaff, 2)
	s.token(t, model.AccountStaff, 3)
	s.token(t, model.AccountCustomer, 4)

	w, body := s.do(t, http.MethodPut, "/management/users/1?type=admin", staff, gin.H{"password": "hijacked-pass"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(http.StatusForbidden), body["statusCode"])

	w, _ = s.do(t, http.MethodPut, "/management/users/3?type=staff", staff, gin.H{"first_name": "Mallory"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, http.MethodPost, "/management/users/1/mfa?type=admin", staff, gin.H{"enabled": false})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, http.MethodPost, "/management/users/1/email-code?type=admin", staff, gin.H{"email": "evil@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodPut, "/management/users/4", staff, gin.H{"first_name": "Rosa"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Rosa", body["user"].(map[string]any)["first_name"])

	w, _ = s.do(t, http.MethodPut, "/management/users/3?type=staff", admin, gin.H{"first_name": "Ben"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_EndWhenAccountIsBanned(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, model.AccountAdmin, 1)

	w, _ := s.do(t, http.MethodPost, "/auth/staff/signup", "", gin.H{
		"first_name": "Lea", "last_name": "Cruz", "email": "lea@example.com", "password": "compost123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	signIn := func() map[string]any {
		_, body := s.do(t, http.MethodPost, "/auth/signin", "", gin.H{
			"account_type": "staff", "email": "lea@example.com", "password": "compost123",
		})
		return body
	}
	first := signIn()
	require.Equal(t, true, first["ok"])
	token := first["token"].(string)
	require.Equal(t, true, signIn()["ok"])
	assert.Equal(t, false, signIn()["ok"], "the third rapid sign-in bans the account")

	w, body := s.do(t, http.MethodGet, "/dashboard/summary", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, float64(http.StatusUnauthorized), body["statusCode"])

	var staff model.Staff
	require.NoError(t, s.db.Where("email = ?", "lea@example.com").Take(&staff).Error)
	w, _ = s.do(t, http.MethodPost, fmt.Sprintf("/management/users/%d/status?type=staff", staff.ID), admin, gin.H{"action": "enable"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodGet, "/dashboard/summary", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/dashboard/summary", s.tokenWithoutAccount(t, model.AccountStaff, 99), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func (s *testServer) tokenWithoutAccount(t *testing.T, accountType string, id uint) string {
	t.Helper()
	tok, err := s.tokens.Issue(id, accountType, accountType)
	require.NoError(t, err)
	return tok
}

func TestRunBackup_SameSecondIsConflict(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, model.AccountAdmin, 1)

	now := time.Now()
	for _, ts := range []time.Time{now, now.Add(time.Second)} {
		require.NoError(t, os.WriteFile(filepath.Join(s.backupDir, backup.FileName(ts)), []byte("-- dump\n"), 0o600))
	}

	w, body := s.do(t, http.MethodPost, "/backup/run", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, float64(http.StatusConflict), body["statusCode"])
}
