package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/account"
)

type staffSignupRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Contact   string `json:"contact"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"omitempty,oneof=staff"`
}

// StaffSignup registers a staff account.
func (h *Handler) StaffSignup(c *gin.Context) {
	var req staffSignupRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.accounts.SignupStaff(c.Request.Context(), account.StaffSignupInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Contact:   req.Contact,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": u})
}

type signInRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

// SignIn authenticates with email and password. Rejections are reported
// as {ok:false, error} with status 200.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.accounts.SignIn(c.Request.Context(), account.SignInInput{
		AccountType: req.AccountType,
		Email:       req.Email,
		Password:    req.Password,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type mfaVerifyRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyMFA completes a sign-in that required a second factor.
func (h *Handler) VerifyMFA(c *gin.Context) {
	var req mfaVerifyRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.accounts.VerifyMFA(c.Request.Context(), req.AccountType, req.Email, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type googleRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// GoogleSignIn signs a customer in (or up) with a Google ID token.
func (h *Handler) GoogleSignIn(c *gin.Context) {
	var req googleRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.accounts.SignInGoogle(c.Request.Context(), req.IDToken, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type forgotPasswordRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	Email       string `json:"email" binding:"required,email"`
}

// ForgotPassword sends a reset code. The response does not reveal whether
// the account exists.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.accounts.ForgotPassword(c.Request.Context(), req.AccountType, req.Email); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "If the account exists, a reset code has been sent"})
}

type verifyResetRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyResetCode checks a reset code without consuming it.
func (h *Handler) VerifyResetCode(c *gin.Context) {
	var req verifyResetRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.accounts.VerifyResetCode(c.Request.Context(), req.AccountType, req.Email, req.Code); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

type resetPasswordRequest struct {
	AccountType string `json:"account_type" binding:"required,oneof=customer staff admin"`
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ResetPassword consumes a reset code and sets a new password.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.accounts.ResetPassword(c.Request.Context(), req.AccountType, req.Email, req.Code, req.NewPassword)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}
