package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yasashii-care/caredocs/internal/admin"
	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
)

type adminCreateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
	Plan        string `json:"plan"`
	SeatLimit   int    `json:"seatLimit"`
	Reason      string `json:"reason"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type billingChangeRequest struct {
	ProductCode string `json:"productCode"`
	Status      string `json:"status"`
	TrialDays   int    `json:"trialDays"`
	Reason      string `json:"reason"`
}

type grantRequest struct {
	Email       string `json:"email"`
	ProductCode string `json:"productCode"`
	Status      string `json:"status"`
	TrialDays   int    `json:"trialDays"`
	Reason      string `json:"reason"`
}

type provisionedResponse struct {
	User              userResponse `json:"user"`
	TemporaryPassword string       `json:"temporaryPassword"`
}

type temporaryPasswordResponse struct {
	TemporaryPassword string `json:"temporaryPassword"`
}

type entitlementResponse struct {
	Email                string  `json:"email"`
	ProductCode          string  `json:"productCode"`
	Status               string  `json:"status"`
	TrialEnd             *string `json:"trialEnd"`
	CurrentPeriodEnd     *string `json:"currentPeriodEnd"`
	StripeCustomerID     *string `json:"stripeCustomerId"`
	StripeSubscriptionID *string `json:"stripeSubscriptionId"`
	UpdatedAt            string  `json:"updatedAt"`
}

func toEntitlementResponse(rec *entitlement.Record) entitlementResponse {
	return entitlementResponse{
		Email:                rec.Email,
		ProductCode:          rec.ProductCode,
		Status:               string(rec.Status),
		TrialEnd:             formatTimePtr(rec.TrialEnd),
		CurrentPeriodEnd:     formatTimePtr(rec.CurrentPeriodEnd),
		StripeCustomerID:     rec.StripeCustomerID,
		StripeSubscriptionID: rec.StripeSubscriptionID,
		UpdatedAt:            formatTime(rec.UpdatedAt),
	}
}

type auditEntryResponse struct {
	ID             string  `json:"id"`
	Action         string  `json:"action"`
	TargetUserID   *string `json:"targetUserId"`
	TargetEmail    string  `json:"targetEmail"`
	ProductCode    string  `json:"productCode"`
	PreviousStatus string  `json:"previousStatus"`
	NewStatus      string  `json:"newStatus"`
	TrialDays      *int    `json:"trialDays"`
	Reason         string  `json:"reason"`
	Actor          string  `json:"actor"`
	ClientIP       string  `json:"clientIp"`
	CreatedAt      string  `json:"createdAt"`
}

type warningResponse struct {
	ID                   string  `json:"id"`
	EventID              string  `json:"eventId"`
	EventType            string  `json:"eventType"`
	Kind                 string  `json:"kind"`
	Detail               string  `json:"detail"`
	StripeCustomerID     *string `json:"stripeCustomerId"`
	StripeSubscriptionID *string `json:"stripeSubscriptionId"`
	CreatedAt            string  `json:"createdAt"`
	ResolvedAt           *string `json:"resolvedAt"`
}

// AdminHandler exposes the admin control plane. Routes are mounted behind
// the admin key middleware.
type AdminHandler struct {
	svc *admin.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc *admin.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func operator(r *http.Request, reason string) admin.Operator {
	return admin.Operator{
		Reason:   reason,
		Actor:    audit.Actor(r),
		ClientIP: audit.ClientIP(r),
	}
}

// CreateUser handles POST /admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req adminCreateUserRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateCreateUserRequest(validation.CreateUserRequest{
		Email:     req.Email,
		SeatLimit: req.SeatLimit,
		Reason:    req.Reason,
	}), requestID) {
		return
	}

	p, err := h.svc.CreateUser(r.Context(), admin.NewUser{
		Email:       req.Email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Phone:       strings.TrimSpace(req.Phone),
		Plan:        strings.TrimSpace(req.Plan),
		SeatLimit:   req.SeatLimit,
	}, operator(r, req.Reason))
	if err != nil {
		writeAdminError(w, err, "Failed to create user", requestID)
		return
	}

	response.Success(w, http.StatusCreated, provisionedResponse{
		User:              toUserResponse(p.User),
		TemporaryPassword: p.TemporaryPassword,
	}, requestID)
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	limit, offset := pagination(r)

	users, err := h.svc.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeAdminError(w, err, "Failed to list users", requestID)
		return
	}

	items := make([]userResponse, 0, len(users))
	for i := range users {
		items = append(items, toUserResponse(&users[i]))
	}
	response.SuccessList(w, http.StatusOK, items, len(items), limit, offset, requestID)
}

// ListEntitlements handles GET /admin/users/{id}/entitlements.
func (h *AdminHandler) ListEntitlements(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	userID, ok := userIDParam(w, r, requestID)
	if !ok {
		return
	}

	records, err := h.svc.ListEntitlements(r.Context(), userID)
	if err != nil {
		writeAdminError(w, err, "Failed to list entitlements", requestID)
		return
	}

	items := make([]entitlementResponse, 0, len(records))
	for i := range records {
		items = append(items, toEntitlementResponse(&records[i]))
	}
	response.SuccessList(w, http.StatusOK, items, len(items), len(items), 0, requestID)
}

// ResetPassword handles POST /admin/users/{id}/reset-password.
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	userID, ok := userIDParam(w, r, requestID)
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateReason(req.Reason), requestID) {
		return
	}

	password, err := h.svc.ReissueCredential(r.Context(), userID, operator(r, req.Reason))
	if err != nil {
		writeAdminError(w, err, "Failed to reset password", requestID)
		return
	}

	response.Success(w, http.StatusOK, temporaryPasswordResponse{TemporaryPassword: password}, requestID)
}

// ChangeBilling handles POST /admin/users/{id}/billing.
func (h *AdminHandler) ChangeBilling(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	userID, ok := userIDParam(w, r, requestID)
	if !ok {
		return
	}

	var req billingChangeRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateBillingChangeRequest(validation.BillingChangeRequest{
		ProductCode: req.ProductCode,
		Status:      req.Status,
		TrialDays:   req.TrialDays,
		Reason:      req.Reason,
	}), requestID) {
		return
	}

	status, _ := entitlement.ParseStatus(req.Status) // already validated

	rec, err := h.svc.ChangeBillingStatus(r.Context(), userID, strings.TrimSpace(req.ProductCode), status, req.TrialDays, operator(r, req.Reason))
	if err != nil {
		writeAdminError(w, err, "Failed to change billing status", requestID)
		return
	}

	response.Success(w, http.StatusOK, toEntitlementResponse(rec), requestID)
}

// GrantEntitlement handles POST /admin/entitlements. The status defaults to
// active for comped accounts.
func (h *AdminHandler) GrantEntitlement(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req grantRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		req.Status = string(entitlement.StatusActive)
	}
	if writeValidation(w, validation.ValidateBillingChangeRequest(validation.BillingChangeRequest{
		Email:       &req.Email,
		ProductCode: req.ProductCode,
		Status:      req.Status,
		TrialDays:   req.TrialDays,
		Reason:      req.Reason,
	}), requestID) {
		return
	}

	status, _ := entitlement.ParseStatus(req.Status) // already validated

	rec, err := h.svc.GrantEntitlement(r.Context(), entitlement.Grant{
		Email:       req.Email,
		ProductCode: strings.TrimSpace(req.ProductCode),
		Status:      status,
		TrialDays:   req.TrialDays,
	}, operator(r, req.Reason))
	if err != nil {
		writeAdminError(w, err, "Failed to grant entitlement", requestID)
		return
	}

	response.Success(w, http.StatusOK, toEntitlementResponse(rec), requestID)
}

// ListAudit handles GET /admin/audit.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	limit, offset := pagination(r)

	entries, err := h.svc.ListAudit(r.Context(), limit, offset)
	if err != nil {
		writeAdminError(w, err, "Failed to list audit entries", requestID)
		return
	}

	items := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := auditEntryResponse{
			ID:             e.ID.String(),
			Action:         e.Action,
			TargetEmail:    e.TargetEmail,
			ProductCode:    e.ProductCode,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			TrialDays:      e.TrialDays,
			Reason:         e.Reason,
			Actor:          e.Actor,
			ClientIP:       e.ClientIP,
			CreatedAt:      formatTime(e.CreatedAt),
		}
		if e.TargetUserID != nil {
			id := e.TargetUserID.String()
			item.TargetUserID = &id
		}
		items = append(items, item)
	}
	response.SuccessList(w, http.StatusOK, items, len(items), limit, offset, requestID)
}

// ListWarnings handles GET /admin/warnings. Resolved warnings are included
// with ?includeResolved=true.
func (h *AdminHandler) ListWarnings(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	limit, _ := pagination(r)
	includeResolved := r.URL.Query().Get("includeResolved") == "true"

	warnings, err := h.svc.ListWarnings(r.Context(), includeResolved, limit)
	if err != nil {
		writeAdminError(w, err, "Failed to list warnings", requestID)
		return
	}

	items := make([]warningResponse, 0, len(warnings))
	for _, wr := range warnings {
		items = append(items, warningResponse{
			ID:                   wr.ID.String(),
			EventID:              wr.EventID,
			EventType:            wr.EventType,
			Kind:                 wr.Kind,
			Detail:               wr.Detail,
			StripeCustomerID:     wr.StripeCustomerID,
			StripeSubscriptionID: wr.StripeSubscriptionID,
			CreatedAt:            formatTime(wr.CreatedAt),
			ResolvedAt:           formatTimePtr(wr.ResolvedAt),
		})
	}
	response.SuccessList(w, http.StatusOK, items, len(items), limit, 0, requestID)
}

func userIDParam(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "User id must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return id, true
}

// writeAdminError maps failures by kind. Unclassified errors are returned
// verbatim since the admin plane's callers are internal tools.
func writeAdminError(w http.ResponseWriter, err error, message, requestID string) {
	switch {
	case errors.Is(err, audit.ErrReasonRequired):
		writeValidation(w, []validation.FieldError{{Field: "reason", Message: "reason is required"}}, requestID)
	case errors.Is(err, entitlement.ErrInvalidGrant):
		response.Err(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), requestID)
	case errors.Is(err, identity.ErrUserNotFound):
		response.Err(w, http.StatusNotFound, "NOT_FOUND", "User not found", requestID)
	case errors.Is(err, identity.ErrAlreadyExists):
		response.Err(w, http.StatusConflict, "CONFLICT", "A user with this email already exists", requestID)
	case errors.Is(err, identity.ErrUpstreamAuth):
		slog.Error(message, "error", err, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", message+": identity provider error", requestID)
	default:
		slog.Error(message, "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", message+": "+err.Error(), requestID)
	}
}
