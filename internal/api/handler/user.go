package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yasashii-care/caredocs/internal/access"
	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
)

type sessionRequest struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
}

type productResponse struct {
	ProductCode      string  `json:"productCode"`
	Status           string  `json:"status"`
	TrialEnd         *string `json:"trialEnd"`
	CurrentPeriodEnd *string `json:"currentPeriodEnd"`
	OK               bool    `json:"ok"`
	Mode             string  `json:"mode,omitempty"`
}

type meResponse struct {
	User     userResponse      `json:"user"`
	Products []productResponse `json:"products"`
}

func toProductResponse(rec *entitlement.Record, now time.Time) productResponse {
	check := access.EvaluateProduct(rec, now)
	return productResponse{
		ProductCode:      rec.ProductCode,
		Status:           string(rec.Status),
		TrialEnd:         formatTimePtr(rec.TrialEnd),
		CurrentPeriodEnd: formatTimePtr(rec.CurrentPeriodEnd),
		OK:               check.OK,
		Mode:             string(check.Mode),
	}
}

// UserHandler serves the signed-in user's own account.
type UserHandler struct {
	users  *identity.Service
	ledger *entitlement.Ledger
	now    func() time.Time
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *identity.Service, ledger *entitlement.Ledger) *UserHandler {
	return &UserHandler{users: users, ledger: ledger, now: time.Now}
}

// Me handles POST /users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req sessionRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateSessionRequest(validation.SessionRequest{
		UserID:       req.UserID,
		SessionToken: req.SessionToken,
	}), requestID) {
		return
	}

	u := requireSession(w, r, h.users, req.UserID, req.SessionToken, requestID)
	if u == nil {
		return
	}

	records, err := h.ledger.ListByEmail(r.Context(), u.Email)
	if err != nil {
		slog.Error("failed to list entitlements", "error", err, "userId", u.ID, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", requestID)
		return
	}

	now := h.now()
	products := make([]productResponse, 0, len(records))
	for i := range records {
		products = append(products, toProductResponse(&records[i], now))
	}

	response.Success(w, http.StatusOK, meResponse{
		User:     toUserResponse(u),
		Products: products,
	}, requestID)
}
