package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
	NewPassword  string `json:"newPassword"`
}

type userResponse struct {
	ID                  string  `json:"id"`
	Email               string  `json:"email"`
	DisplayName         string  `json:"displayName"`
	Phone               string  `json:"phone"`
	Plan                string  `json:"plan"`
	SeatLimit           int     `json:"seatLimit"`
	PasswordInitialized bool    `json:"passwordInitialized"`
	Status              string  `json:"status"`
	LastLoginAt         *string `json:"lastLoginAt"`
	CreatedAt           string  `json:"createdAt"`
}

func toUserResponse(u *identity.User) userResponse {
	return userResponse{
		ID:                  u.ID.String(),
		Email:               u.Email,
		DisplayName:         u.DisplayName,
		Phone:               u.Phone,
		Plan:                u.Plan,
		SeatLimit:           u.SeatLimit,
		PasswordInitialized: u.PasswordInitialized,
		Status:              u.Status,
		LastLoginAt:         formatTimePtr(u.LastLoginAt),
		CreatedAt:           formatTime(u.CreatedAt),
	}
}

type loginResponse struct {
	SessionToken string       `json:"sessionToken"`
	User         userResponse `json:"user"`
}

type changePasswordResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"sessionToken"`
}

// AuthHandler handles login and password changes.
type AuthHandler struct {
	users *identity.Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users *identity.Service) *AuthHandler {
	return &AuthHandler{users: users}
}

// Login handles POST /auth/login. A successful login replaces any session the
// user already held.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req loginRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateLoginRequest(validation.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	}), requestID) {
		return
	}

	session, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			response.Err(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", requestID)
			return
		}
		slog.Error("failed to authenticate", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in", requestID)
		return
	}

	response.Success(w, http.StatusOK, loginResponse{
		SessionToken: session.Token,
		User:         toUserResponse(session.User),
	}, requestID)
}

// ChangePassword handles POST /auth/change-password. The session is rotated;
// the client must keep the returned token.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req changePasswordRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateChangePasswordRequest(validation.ChangePasswordRequest{
		SessionRequest: validation.SessionRequest{UserID: req.UserID, SessionToken: req.SessionToken},
		NewPassword:    req.NewPassword,
	}), requestID) {
		return
	}

	u := requireSession(w, r, h.users, req.UserID, req.SessionToken, requestID)
	if u == nil {
		return
	}

	session, err := h.users.ChangePassword(r.Context(), u.ID, req.NewPassword)
	if err != nil {
		if errors.Is(err, identity.ErrUpstreamAuth) {
			slog.Error("identity provider rejected password change", "error", err, "userId", u.ID, "requestId", requestID)
			response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to update password", requestID)
			return
		}
		slog.Error("failed to change password", "error", err, "userId", u.ID, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password", requestID)
		return
	}

	slog.Info("password changed", "userId", u.ID)
	response.Success(w, http.StatusOK, changePasswordResponse{OK: true, SessionToken: session.Token}, requestID)
}
