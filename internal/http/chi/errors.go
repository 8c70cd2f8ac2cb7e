package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// maxBodyBytes caps every /v1 request body
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps domain sentinels to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, webhook.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var werr *webhook.Error
	if errors.As(err, &werr) {
		resp.Field = werr.Field
	}

	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

/* decodeJSON decodes the request body into v
 * It writes 413 for bodies over maxBodyBytes and 400 for malformed JSON
 */
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, hint string) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return false
	}
	badRequest(w, fmt.Sprintf("%s: %v", hint, err))
	return false
}
