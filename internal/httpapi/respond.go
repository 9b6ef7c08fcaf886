package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
)

type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code,omitempty"`
	Fields []domain.FieldError `json:"fields,omitempty"`
	Stock  *StockErrorDetails  `json:"stock,omitempty"`
}

type StockErrorDetails struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError maps a core error onto an HTTP status by its kind.
func handleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var status int

	switch domain.Kind(err) {
	case domain.ErrValidation:
		status, resp.Code = http.StatusBadRequest, "validation_failed"
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = ve.Fields
		}
	case domain.ErrStockExceeded:
		status, resp.Code = http.StatusConflict, "stock_exceeded"
		var se *domain.StockError
		if errors.As(err, &se) {
			resp.Stock = &StockErrorDetails{ProductID: se.ProductID, Requested: se.Requested, Available: se.Available}
		}
	case domain.ErrNotFound:
		status, resp.Code = http.StatusNotFound, "not_found"
	case domain.ErrPersistence:
		status, resp.Code = http.StatusServiceUnavailable, "service_unavailable"
		resp.Error = "temporarily unavailable, please retry"
	default:
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status, resp.Code = http.StatusGatewayTimeout, "timeout"
		case errors.Is(err, context.Canceled):
			status, resp.Code = http.StatusServiceUnavailable, "canceled"
		default:
			status, resp.Code = http.StatusInternalServerError, "internal_error"
		}
		resp.Error = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	respondJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("body", "invalid JSON body")
	}
	return nil
}
