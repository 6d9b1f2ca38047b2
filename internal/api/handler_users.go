package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/account"
	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/mw"
)

// accountType reads the ?type= selector of the management routes.
func (h *Handler) accountType(c *gin.Context) (string, bool) {
	t := c.DefaultQuery("type", model.AccountCustomer)
	switch t {
	case model.AccountCustomer, model.AccountStaff, model.AccountAdmin:
		return t, true
	}
	h.fail(c, apperr.BadRequest("Invalid account type"))
	return "", false
}

// managedType is accountType for routes that change an account. Only admins
// may change staff and admin accounts.
func (h *Handler) managedType(c *gin.Context) (string, bool) {
	t, valid := h.accountType(c)
	if !valid {
		return "", false
	}
	if t == model.AccountCustomer {
		return t, true
	}
	if claims, ok := mw.Claims(c); ok && claims.AccountType == model.AccountAdmin {
		return t, true
	}
	h.fail(c, apperr.Forbidden("Only admins can change staff and admin accounts"))
	return "", false
}

// ListUsers lists the accounts of one type.
func (h *Handler) ListUsers(c *gin.Context) {
	t, valid := h.accountType(c)
	if !valid {
		return
	}
	users, err := h.accounts.ListUsers(c.Request.Context(), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"users": users})
}

// GetUser returns one account.
func (h *Handler) GetUser(c *gin.Context) {
	t, valid := h.accountType(c)
	if !valid {
		return
	}
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	u, err := h.accounts.GetUser(c.Request.Context(), t, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": u})
}

type createUserRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Contact     string `json:"contact"`
	Address     string `json:"address"`
	Password    string `json:"password" binding:"required,min=8"`
	Role        string `json:"role"`
}

// CreateUser creates an account of any type.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.accounts.CreateUser(c.Request.Context(), account.CreateUserInput{
		AccountType: req.AccountType,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Contact:     req.Contact,
		Address:     req.Address,
		Password:    req.Password,
		Role:        req.Role,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": u})
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Contact   *string `json:"contact"`
	Address   *string `json:"address"`
	Password  *string `json:"password" binding:"omitempty,min=8"`
	Email     *string `json:"email" binding:"omitempty,email"`
	Code      string  `json:"code"`
}

// UpdateUser applies a partial profile update. An email change needs the
// code sent to the new address.
func (h *Handler) UpdateUser(c *gin.Context) {
	t, valid := h.managedType(c)
	if !valid {
		return
	}
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req updateUserRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.accounts.UpdateUser(c.Request.Context(), t, id, account.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Contact:   req.Contact,
		Address:   req.Address,
		Password:  req.Password,
		Email:     req.Email,
		Code:      req.Code,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": u})
}

type statusRequest struct {
	Action string `json:"action" binding:"required"`
}

// SetUserStatus bans, disables or enables an account.
func (h *Handler) SetUserStatus(c *gin.Context) {
	t, valid := h.managedType(c)
	if !valid {
		return
	}
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req statusRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.accounts.SetStatus(c.Request.Context(), t, id, req.Action)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": u})
}

type mfaRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetUserMFA turns email MFA on or off.
func (h *Handler) SetUserMFA(c *gin.Context) {
	t, valid := h.managedType(c)
	if !valid {
		return
	}
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req mfaRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.accounts.SetMFA(c.Request.Context(), t, id, *req.Enabled); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"mfa_enabled": *req.Enabled})
}

// ArchiveUser moves a customer to the archive.
func (h *Handler) ArchiveUser(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	archived, err := h.accounts.ArchiveCustomer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"archived": archived})
}

type emailCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestEmailCode sends a code to the prospective new email address.
func (h *Handler) RequestEmailCode(c *gin.Context) {
	t, valid := h.managedType(c)
	if !valid {
		return
	}
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req emailCodeRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.accounts.RequestEmailChange(c.Request.Context(), t, id, req.Email); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "Verification code sent"})
}

// RequestPhoneCode texts a verification code to the customer's contact.
func (h *Handler) RequestPhoneCode(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	if err := h.accounts.RequestPhoneCode(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "Verification code sent"})
}

type codeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyPhone consumes the phone code and marks the number verified.
func (h *Handler) VerifyPhone(c *gin.Context) {
	id, valid := h.idParam(c, "id")
	if !valid {
		return
	}
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.accounts.VerifyPhone(c.Request.Context(), id, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": u})
}
