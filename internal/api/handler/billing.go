package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/api/validation"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
	"github.com/yasashii-care/caredocs/internal/payments"
)

type checkoutRequest struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
	ProductCode  string `json:"productCode"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// BillingSettings configures hosted checkout and portal pages.
type BillingSettings struct {
	// Prices maps product codes to recurring price ids.
	Prices map[string]string
	// TrialDays is offered on a buyer's first checkout for a product.
	TrialDays int64
	// BaseURL is the public origin of the static front-end.
	BaseURL string
}

// BillingHandler starts hosted checkout and billing portal sessions.
type BillingHandler struct {
	users    *identity.Service
	ledger   *entitlement.Ledger
	client   payments.Client
	settings BillingSettings
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(users *identity.Service, ledger *entitlement.Ledger, client payments.Client, settings BillingSettings) *BillingHandler {
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &BillingHandler{
		users:    users,
		ledger:   ledger,
		client:   client,
		settings: settings,
	}
}

// Checkout handles POST /billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req checkoutRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	errs := validation.ValidateSessionRequest(validation.SessionRequest{UserID: req.UserID, SessionToken: req.SessionToken})
	errs = append(errs, validation.ValidateProductCode(req.ProductCode)...)
	if writeValidation(w, errs, requestID) {
		return
	}

	product := strings.TrimSpace(req.ProductCode)
	priceID, ok := h.settings.Prices[product]
	if !ok {
		writeValidation(w, []validation.FieldError{{Field: "productCode", Message: "productCode is not for sale"}}, requestID)
		return
	}

	u := requireSession(w, r, h.users, req.UserID, req.SessionToken, requestID)
	if u == nil {
		return
	}

	// A trial is only offered when the buyer never held this product.
	var trialDays int64
	_, err := h.ledger.Get(r.Context(), u.Email, product)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		trialDays = h.settings.TrialDays
	case err != nil:
		slog.Error("failed to read entitlement", "error", err, "userId", u.ID, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start checkout", requestID)
		return
	}

	checkout := payments.CheckoutRequest{
		Email:       u.Email,
		PriceID:     priceID,
		ProductCode: product,
		AuthUserID:  u.ID.String(),
		TrialDays:   trialDays,
		SuccessURL:  h.settings.BaseURL + "/thanks.html",
		CancelURL:   h.settings.BaseURL + "/lp.html",
	}
	if u.AuthUserID != nil {
		checkout.AuthUserID = *u.AuthUserID
	}
	if u.StripeCustomerID != nil {
		checkout.CustomerID = *u.StripeCustomerID
	}

	url, err := h.client.CreateCheckoutSession(r.Context(), checkout)
	if err != nil {
		slog.Error("failed to create checkout session", "error", err, "userId", u.ID, "productCode", product, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to start checkout", requestID)
		return
	}

	response.Success(w, http.StatusOK, redirectResponse{URL: url}, requestID)
}

// Portal handles POST /billing/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
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

	customerID, err := h.customerID(r, u)
	if err != nil {
		slog.Error("failed to resolve payment customer", "error", err, "userId", u.ID, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to open billing portal", requestID)
		return
	}
	if customerID == "" {
		response.Err(w, http.StatusNotFound, "NOT_FOUND", "No billing account for this user", requestID)
		return
	}

	url, err := h.client.CreatePortalSession(r.Context(), customerID, h.settings.BaseURL+"/app.html")
	if err != nil {
		slog.Error("failed to create portal session", "error", err, "userId", u.ID, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to open billing portal", requestID)
		return
	}

	response.Success(w, http.StatusOK, redirectResponse{URL: url}, requestID)
}

// customerID prefers the id on the user and falls back to the ledger, which
// is written first by the webhook.
func (h *BillingHandler) customerID(r *http.Request, u *identity.User) (string, error) {
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}

	records, err := h.ledger.ListByEmail(r.Context(), u.Email)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.StripeCustomerID != nil && *rec.StripeCustomerID != "" {
			return *rec.StripeCustomerID, nil
		}
	}
	return "", nil
}
