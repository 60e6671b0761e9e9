package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yasashii-care/caredocs/internal/access"
	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
	"github.com/yasashii-care/caredocs/internal/metrics"
)

type accessCheckRequest struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
	ProductCode  string `json:"productCode"`
}

type accessCheckResponse struct {
	Valid   bool    `json:"valid"`
	Allowed bool    `json:"allowed"`
	Reason  *string `json:"reason"`
}

type entitlementCheckRequest struct {
	Email       string `json:"email"`
	ProductCode string `json:"productCode"`
}

type entitlementCheckResponse struct {
	OK       bool    `json:"ok"`
	Mode     string  `json:"mode,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	TrialEnd *string `json:"trialEnd,omitempty"`
	Status   string  `json:"status,omitempty"`
}

type resolveAppRequest struct {
	Email string `json:"email"`
}

type resolveAppResponse struct {
	App string `json:"app"`
}

// AccessHandler answers "may this caller use this product now". All decisions
// come from the access package.
type AccessHandler struct {
	users          *identity.Service
	ledger         *entitlement.Ledger
	defaultProduct string
	now            func() time.Time
}

// NewAccessHandler creates a new AccessHandler. defaultProduct is checked when
// an access request names no product.
func NewAccessHandler(users *identity.Service, ledger *entitlement.Ledger, defaultProduct string) *AccessHandler {
	return &AccessHandler{
		users:          users,
		ledger:         ledger,
		defaultProduct: defaultProduct,
		now:            time.Now,
	}
}

// Check handles POST /access/check.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req accessCheckRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	errs := validation.ValidateSessionRequest(validation.SessionRequest{UserID: req.UserID, SessionToken: req.SessionToken})
	if strings.TrimSpace(req.ProductCode) != "" {
		errs = append(errs, validation.ValidateProductCode(req.ProductCode)...)
	}
	if writeValidation(w, errs, requestID) {
		return
	}

	product := strings.TrimSpace(req.ProductCode)
	if product == "" {
		product = h.defaultProduct
	}

	u, err := sessionUser(r.Context(), h.users, req.UserID, req.SessionToken)
	if err != nil {
		slog.Error("failed to validate session", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check access", requestID)
		return
	}

	var rec *entitlement.Record
	if u != nil {
		rec, err = h.lookup(r.Context(), u.Email, product)
		if err != nil {
			slog.Error("failed to read entitlement", "error", err, "userId", u.ID, "productCode", product, "requestId", requestID)
			response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check access", requestID)
			return
		}
	}

	decision := access.EvaluateRecord(u != nil, rec, h.now())
	observe("access_check", decision.Allowed, decision.Reason)

	resp := accessCheckResponse{Valid: u != nil, Allowed: decision.Allowed}
	if decision.Reason != access.ReasonNone {
		reason := string(decision.Reason)
		resp.Reason = &reason
	}
	response.Success(w, http.StatusOK, resp, requestID)
}

// EntitlementCheck handles POST /entitlement/check. It needs no session; the
// landing pages call it with the buyer's email.
func (h *AccessHandler) EntitlementCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req entitlementCheckRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateEntitlementCheckRequest(validation.EntitlementCheckRequest{
		Email:       req.Email,
		ProductCode: req.ProductCode,
	}), requestID) {
		return
	}

	rec, err := h.lookup(r.Context(), identity.NormalizeEmail(req.Email), strings.TrimSpace(req.ProductCode))
	if err != nil {
		slog.Error("failed to read entitlement", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check entitlement", requestID)
		return
	}

	check := access.EvaluateProduct(rec, h.now())
	observe("entitlement_check", check.OK, check.Reason)

	response.Success(w, http.StatusOK, entitlementCheckResponse{
		OK:       check.OK,
		Mode:     string(check.Mode),
		Reason:   string(check.Reason),
		TrialEnd: formatTimePtr(check.TrialEnd),
		Status:   string(check.Status),
	}, requestID)
}

// ResolveApp handles POST /entitlement/resolve-app.
func (h *AccessHandler) ResolveApp(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req resolveAppRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateEmail(req.Email), requestID) {
		return
	}

	records, err := h.ledger.ListByEmail(r.Context(), identity.NormalizeEmail(req.Email))
	if err != nil {
		slog.Error("failed to list entitlements", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve app", requestID)
		return
	}

	response.Success(w, http.StatusOK, resolveAppResponse{
		App: string(access.ResolveApp(records, h.now())),
	}, requestID)
}

func (h *AccessHandler) lookup(ctx context.Context, email, product string) (*entitlement.Record, error) {
	rec, err := h.ledger.Get(ctx, email, product)
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func observe(endpoint string, allowed bool, reason access.Reason) {
	label := string(reason)
	if allowed {
		label = "allowed"
	}
	metrics.AccessDecisions.WithLabelValues(endpoint, label).Inc()
}
