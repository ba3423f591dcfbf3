package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/autoparts-store/internal/ads"
	"github.com/safar/autoparts-store/internal/database"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger(r).WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, errorBody{Error: code, Message: message})
}

// respondErr maps a service error onto the error taxonomy. Unexpected errors
// are logged and reported without detail.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapErrorToStatus(err)
	if status == http.StatusInternalServerError {
		logger(r).WithError(err).Error("request failed")
		respondError(w, r, status, code, "internal server error")
		return
	}

	body := errorBody{Error: code, Message: err.Error()}
	var ve *database.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Message = ve.Message
	}
	respondJSON(w, r, status, body)
}

func mapErrorToStatus(err error) (int, string) {
	switch {
	case database.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, database.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, database.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, database.ErrOrderLocked):
		return http.StatusConflict, "order_locked"
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPartNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrCreativeNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ads.ErrSignatureInvalid):
		return http.StatusForbidden, "signature_invalid"
	case errors.Is(err, ads.ErrLinkExpired):
		return http.StatusGone, "link_expired"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads the request body into v and answers 400 itself on
// malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

func logger(r *http.Request) logrus.FieldLogger {
	if l, ok := r.Context().Value(ctxKeyLog{}).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}
