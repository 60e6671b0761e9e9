package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/metrics"
	"github.com/yasashii-care/caredocs/internal/ratelimit"
)

type anonymousUsageResponse struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// UsageHandler gates the free trial tool used by visitors without an account.
type UsageHandler struct {
	counter ratelimit.Counter
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(counter ratelimit.Counter) *UsageHandler {
	return &UsageHandler{counter: counter}
}

// Anonymous handles POST /usage/anonymous. Each call consumes one use for the
// client IP. Counter failures allow the use.
func (h *UsageHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	res, err := h.counter.Hit(r.Context(), audit.ClientIP(r))
	if err != nil {
		slog.Warn("anonymous usage counter unavailable", "error", err, "requestId", requestID)
		metrics.AnonymousUsageTotal.WithLabelValues("error").Inc()
		response.Success(w, http.StatusOK, anonymousUsageResponse{Allowed: true, Remaining: res.Remaining}, requestID)
		return
	}

	if !res.Allowed {
		metrics.AnonymousUsageTotal.WithLabelValues("limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
		response.ErrWithDetails(w, http.StatusTooManyRequests, "RATE_LIMITED", "Free usage limit reached",
			anonymousUsageResponse{Allowed: false, Remaining: 0}, requestID)
		return
	}

	metrics.AnonymousUsageTotal.WithLabelValues("allowed").Inc()
	response.Success(w, http.StatusOK, anonymousUsageResponse{Allowed: true, Remaining: res.Remaining}, requestID)
}
