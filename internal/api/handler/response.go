package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"loan-underwriting/internal/api/handler/dto"
	"loan-underwriting/internal/pkg/apperrors"
)

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// statusFor maps an error category onto its HTTP status.
func statusFor(code string) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case apperrors.CodeExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondErrorDetail(w, err, "")
}

func respondErrorDetail(w http.ResponseWriter, err error, loanID string) {
	code := apperrors.Category(err)
	status := statusFor(code)
	detail := dto.ErrorDetail{Code: code, Message: err.Error(), LoanID: loanID}

	var validationError *apperrors.ValidationError
	switch {
	case errors.As(err, &validationError):
		detail.Message, detail.Field = validationError.Message, validationError.Field
	case status == http.StatusInternalServerError:
		slog.Default().Error("Unhandled internal error", "error", err)
		detail.Message = "An unexpected error occurred."
	case status == http.StatusServiceUnavailable:
		detail.Message = "Credit score service is unavailable; the application remains pending."
	}

	respondJSON(w, status, dto.ErrorResponse{Error: detail})
}
