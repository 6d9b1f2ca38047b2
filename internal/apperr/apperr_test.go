package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestStatus(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"bad request", BadRequest("email is required"), http.StatusBadRequest, "email is required"},
		{"wrapped not found", fmt.Errorf("load machine: %w", NotFound("Machine not found")), http.StatusNotFound, "Machine not found"},
		{"bare sentinel", ErrConflict, http.StatusConflict, "Conflict"},
		{"unauthorized", Unauthorized("Invalid token"), http.StatusUnauthorized, "Invalid token"},
		{"forbidden", Forbidden("Admins only"), http.StatusForbidden, "Admins only"},
		{"unknown error hides details", errors.New("pq: connection refused"), http.StatusInternalServerError, InternalMessage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := Status(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantMsg, msg)
		})
	}
}

func TestFromDB(t *testing.T) {
	assert.NoError(t, FromDB(nil, "x"))
	assert.ErrorIs(t, FromDB(gorm.ErrRecordNotFound, "Customer not found"), ErrNotFound)
	assert.ErrorIs(t, FromDB(gorm.ErrDuplicatedKey, ""), ErrConflict)

	other := errors.New("boom")
	assert.Equal(t, other, FromDB(other, ""))
}
