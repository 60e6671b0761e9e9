package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Meta holds metadata for every API response.
type Meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// ListMeta adds offset pagination to Meta. Count is the number of items in
// this page.
type ListMeta struct {
	Meta
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Error represents a structured API error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// envelope is the wire shape shared by every response: exactly one of data
// and error is non-null.
type envelope[M Meta | ListMeta] struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
	Meta  M      `json:"meta"`
}

// NewMeta stamps the current time. An empty requestID gets a fresh UUID.
func NewMeta(requestID string) Meta {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return Meta{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Success writes data with the given status.
func Success(w http.ResponseWriter, status int, data any, requestID string) {
	write(w, status, envelope[Meta]{Data: data, Meta: NewMeta(requestID)})
}

// SuccessList writes one page of a list endpoint.
func SuccessList(w http.ResponseWriter, status int, data any, count, limit, offset int, requestID string) {
	write(w, status, envelope[ListMeta]{
		Data: data,
		Meta: ListMeta{Meta: NewMeta(requestID), Count: count, Limit: limit, Offset: offset},
	})
}

// Err writes an error with a machine-readable code.
func Err(w http.ResponseWriter, status int, code, message, requestID string) {
	ErrWithDetails(w, status, code, message, nil, requestID)
}

// ErrWithDetails is Err with a details payload, e.g. field errors.
func ErrWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	write(w, status, envelope[Meta]{
		Error: &Error{Code: code, Message: message, Details: details},
		Meta:  NewMeta(requestID),
	})
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
