package handler

import (
	"log/slog"
	"net/http"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
)

// OpenAPIHandler serves the embedded API document as JSON.
type OpenAPIHandler struct {
	toJSON func() ([]byte, error)
}

// NewOpenAPIHandler creates a handler that converts the YAML document once,
// on first request.
func NewOpenAPIHandler(yamlDoc []byte) *OpenAPIHandler {
	return &OpenAPIHandler{
		toJSON: sync.OnceValues(func() ([]byte, error) {
			return yaml.YAMLToJSON(yamlDoc)
		}),
	}
}

// ServeHTTP handles GET /openapi.json.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc, err := h.toJSON()
	if err != nil {
		slog.Error("failed to convert OpenAPI document", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load API document", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Error("failed to write OpenAPI response", "error", err)
	}
}
