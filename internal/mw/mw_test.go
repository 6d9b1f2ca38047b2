package mw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Returns429(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(NewIPRateLimiter(rate.Limit(1), 2, time.Minute)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	w := do(r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"statusCode":429,"message":"Too many requests"}`, w.Body.String())
}

func TestRateLimiter_PerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Minute)
	assert.True(t, l.Limiter("10.0.0.1").Allow())
	assert.False(t, l.Limiter("10.0.0.1").Allow())
	assert.True(t, l.Limiter("10.0.0.2").Allow())
}

func TestResponseCache(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	calls := 0
	r := gin.New()
	r.Use(rc.Invalidate())
	r.GET("/items", rc.Handler(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.POST("/items", func(c *gin.Context) { c.Status(http.StatusCreated) })

	first := do(r, http.MethodGet, "/items", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := do(r, http.MethodGet, "/items", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	do(r, http.MethodGet, "/items", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, 2, calls)

	do(r, http.MethodPost, "/items", nil)
	do(r, http.MethodGet, "/items", nil)
	assert.Equal(t, 3, calls)
}

type fakeTokens map[string]*auth.Claims

func (f fakeTokens) Parse(token string) (*auth.Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestRequireAuthAndAccountType(t *testing.T) {
	tokens := fakeTokens{
		"admin-token":    {AccountType: "admin", Role: "admin"},
		"customer-token": {AccountType: "customer", Role: "customer"},
	}
	r := gin.New()
	r.GET("/admin", RequireAuth(tokens, nil), RequireAccountType("admin", "staff"), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.AccountType)
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/admin", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "admin-token"}).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer customer-token"}).Code)

	w := do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", w.Body.String())
}

type fakeAccounts map[string]error

func (f fakeAccounts) CheckActive(_ context.Context, accountType string, id uint) error {
	return f[fmt.Sprintf("%s/%d", accountType, id)]
}

func TestRequireAuth_AccountStatus(t *testing.T) {
	tokens := fakeTokens{
		"active-token": {AccountType: "staff", RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}},
		"banned-token": {AccountType: "staff", RegisteredClaims: jwt.RegisteredClaims{Subject: "2"}},
		"bad-subject":  {AccountType: "staff", RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}},
	}
	accounts := fakeAccounts{"staff/2": apperr.Unauthorized("Account banned. Please contact support.")}
	r := gin.New()
	r.GET("/me", RequireAuth(tokens, accounts), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer active-token"}).Code)

	w := do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer banned-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Account banned")

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer bad-subject"}).Code)
}

func TestRequestIDAndTimeout(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.NewNop()), Timeout(50*time.Millisecond), Metrics())
	r.GET("/slow", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.String(http.StatusOK, "%t", ok)
	})

	w := do(r, http.MethodGet, "/slow", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "true", w.Body.String())

	w = do(r, http.MethodGet, "/slow", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	assert.True(t, strings.Contains(w.Header().Get("X-Request-ID"), "-"))
}
