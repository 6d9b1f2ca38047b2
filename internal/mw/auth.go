package mw

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/auth"
)

const claimsKey = "nutribin.claims"

// TokenParser validates a bearer token.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AccountChecker decides whether the account behind a valid token may still
// act. Bans and disables take effect on the next request.
type AccountChecker interface {
	CheckActive(ctx context.Context, accountType string, id uint) error
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims on the context. A nil accounts skips the account status check.
func RequireAuth(tokens TokenParser, accounts AccountChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		if accounts != nil {
			id, err := claims.AccountID()
			if err != nil {
				abort(c, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if err := accounts.CheckActive(c.Request.Context(), claims.AccountType, id); err != nil {
				status, msg := apperr.Status(err)
				abort(c, status, msg)
				return
			}
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAccountType allows only the listed account types. It must run after
// RequireAuth.
func RequireAccountType(types ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		if !slices.Contains(types, claims.AccountType) {
			abort(c, http.StatusForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

// Claims returns the authenticated claims, if any.
func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"statusCode": status, "message": message})
}
