package handlers

import (
	"strings"

	"github.com/finquiz/backend/internal/middleware"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Signup *services.SignupService
	Login  *services.LoginService
}

func NewAuthHandler(signup *services.SignupService, login *services.LoginService) *AuthHandler {
	return &AuthHandler{Signup: signup, Login: login}
}

type signupStartRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (h *AuthHandler) SignupStart(c *fiber.Ctx) error {
	var req signupStartRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	resume, err := h.Signup.StartSignup(c.Context(), req.Email, req.DisplayName, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "failed starting signup")
	}

	return utils.Success(c, fiber.StatusOK, resume)
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) SignupVerifyEmail(c *fiber.Ctx) error {
	var req verifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and code are required")
	}

	user, err := h.Signup.VerifyEmail(c.Context(), req.Email, req.Code, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "failed verifying email")
	}

	return utils.Success(c, fiber.StatusCreated, user)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

func (h *AuthHandler) SignupCredentials(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Mobile == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email, mobile and password are required")
	}

	user, err := h.Signup.SubmitCredentials(c.Context(), req.Email, req.Mobile, req.Password, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "failed submitting credentials")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AuthHandler) SignupVerifyMobile(c *fiber.Ctx) error {
	var req verifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and code are required")
	}

	user, err := h.Signup.VerifyMobile(c.Context(), req.Email, req.Code, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "failed verifying mobile")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type resendRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

func (h *AuthHandler) SignupResend(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	purpose := services.OTPPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if err := h.Signup.ResendCode(c.Context(), req.Email, purpose, reqinfo.FromFiber(c)); err != nil {
		return serviceError(c, err, "failed resending code")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"sent": true})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

func (h *AuthHandler) LoginStart(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	result, err := h.Login.Start(c.Context(), req.Email, req.Password, req.TOTPCode, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "login failed")
	}

	return utils.Success(c, fiber.StatusOK, result)
}

func (h *AuthHandler) LoginVerify(c *fiber.Ctx) error {
	var req verifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and code are required")
	}

	result, err := h.Login.Complete(c.Context(), req.Email, req.Code, reqinfo.FromFiber(c))
	if err != nil {
		return serviceError(c, err, "login failed")
	}

	return utils.Success(c, fiber.StatusOK, result)
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	token, expiresAt, err := h.Login.Sessions.Refresh(c.Context(), req.Token)
	if err != nil {
		return serviceError(c, err, "refresh failed")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token":     token,
		"expiresAt": expiresAt,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Login.Logout(c.Context(), user, reqinfo.FromFiber(c)); err != nil {
		return serviceError(c, err, "logout failed")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"loggedOut": true})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}
