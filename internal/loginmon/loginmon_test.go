package loginmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/dbtest"
	"nutribin-backend/internal/model"
)

func seedCustomer(t *testing.T, db *gorm.DB, email string) *model.Customer {
	t.Helper()
	c := &model.Customer{Account: model.Account{FirstName: "Ana", LastName: "Cruz", Email: email, Password: "x"}}
	require.NoError(t, db.Create(c).Error)
	require.NoError(t, db.Create(&model.Authentication{
		AccountType: model.AccountCustomer, AccountID: c.ID, Enabled: true, MFAType: model.MFANone,
	}).Error)
	return c
}

func TestMonitor_BansOnThirdSuccessWithinWindow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	c := seedCustomer(t, db, "ana@example.com")

	mon := New(db, time.Minute, 3, zap.NewNop())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mon.now = func() time.Time { return now }

	success := Attempt{AccountType: model.AccountCustomer, AccountID: &c.ID, Identifier: " Ana@Example.com ", Success: true}

	banned, err := mon.Record(ctx, success)
	require.NoError(t, err)
	assert.False(t, banned)

	// Failures are recorded but never counted.
	for i := 0; i < 5; i++ {
		banned, err = mon.Record(ctx, Attempt{Identifier: "ana@example.com", Success: false})
		require.NoError(t, err)
		assert.False(t, banned)
	}

	now = now.Add(20 * time.Second)
	banned, err = mon.Record(ctx, success)
	require.NoError(t, err)
	assert.False(t, banned)

	now = now.Add(20 * time.Second)
	banned, err = mon.Record(ctx, success)
	require.NoError(t, err)
	assert.True(t, banned)

	var got model.Customer
	require.NoError(t, db.First(&got, c.ID).Error)
	assert.Equal(t, model.StatusBanned, got.Status)

	var auth model.Authentication
	require.NoError(t, db.Where("account_type = ? AND account_id = ?", model.AccountCustomer, c.ID).First(&auth).Error)
	assert.False(t, auth.Enabled)

	var attempts int64
	require.NoError(t, db.Model(&model.LoginAttempt{}).Count(&attempts).Error)
	assert.Equal(t, int64(8), attempts)
}

func TestMonitor_OldSuccessesFallOutOfWindow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	c := seedCustomer(t, db, "ben@example.com")

	mon := New(db, time.Minute, 3, zap.NewNop())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mon.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		banned, err := mon.Record(ctx, Attempt{Identifier: "ben@example.com", Success: true})
		require.NoError(t, err)
		assert.False(t, banned, "attempt %d", i)
		now = now.Add(31 * time.Second)
	}

	var got model.Customer
	require.NoError(t, db.First(&got, c.ID).Error)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestBan_AllTablesWithEmail(t *testing.T) {
	db := dbtest.New(t)
	c := seedCustomer(t, db, "dup@example.com")
	s := &model.Staff{Account: model.Account{FirstName: "S", LastName: "T", Email: "DUP@example.com", Password: "x"}, Role: "staff"}
	require.NoError(t, db.Create(s).Error)
	other := seedCustomer(t, db, "other@example.com")

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error { return Ban(tx, "dup@example.com") }))

	var gotC, gotOther model.Customer
	var gotS model.Staff
	require.NoError(t, db.First(&gotC, c.ID).Error)
	require.NoError(t, db.First(&gotS, s.ID).Error)
	require.NoError(t, db.First(&gotOther, other.ID).Error)
	assert.Equal(t, model.StatusBanned, gotC.Status)
	assert.Equal(t, model.StatusBanned, gotS.Status)
	assert.Equal(t, model.StatusActive, gotOther.Status)

	// Idempotent.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error { return Ban(tx, "dup@example.com") }))
}
