package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/identity"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, requestID string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, errs []validation.FieldError, requestID string) bool {
	if len(errs) == 0 {
		return false
	}
	response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", errs, requestID)
	return true
}

// sessionUser returns the user behind a userId/sessionToken pair, or nil when
// the session is not the user's current one.
func sessionUser(ctx context.Context, users *identity.Service, rawID, token string) (*identity.User, error) {
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil
	}

	ok, err := users.ValidateSession(ctx, userID, token)
	if err != nil || !ok {
		return nil, err
	}

	u, err := users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// requireSession writes 401 SESSION_INVALID (or 500) and returns nil when the
// caller's session is not current.
func requireSession(w http.ResponseWriter, r *http.Request, users *identity.Service, rawID, token, requestID string) *identity.User {
	u, err := sessionUser(r.Context(), users, rawID, token)
	if err != nil {
		slog.Error("failed to validate session", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate session", requestID)
		return nil
	}
	if u == nil {
		response.Err(w, http.StatusUnauthorized, "SESSION_INVALID", "Session is no longer valid", requestID)
		return nil
	}
	return u
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 200)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
