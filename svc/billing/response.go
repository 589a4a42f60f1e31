package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
)

// Envelope is the body of every billing API response.
type Envelope struct {
	OK        bool         `json:"ok"`
	Data      any          `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{OK: true, Data: data})
}

// errorEnvelope renders err through the catalog.
func errorEnvelope(err error) (int, Envelope) {
	api := Classify(err)
	detail := &ErrorDetail{Code: api.Code, Message: api.Message}
	var verr ValidationError
	if errors.As(err, &verr) && len(verr) > 0 {
		detail.Details = make(map[string][]string, len(verr))
		maps.Copy(detail.Details, verr)
	}
	return api.Status, Envelope{Error: detail, ErrorCode: api.Code}
}

func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := errorEnvelope(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.ErrorContext(r.Context(), "billing request failed",
			logger.Component("billing"),
			slog.String("path", r.URL.Path),
			slog.String("code", body.ErrorCode),
			logger.Error(err),
		)
	case status != http.StatusUnauthorized && status != http.StatusForbidden:
		log.InfoContext(r.Context(), "billing request rejected",
			logger.Component("billing"),
			slog.String("path", r.URL.Path),
			slog.String("code", body.ErrorCode),
			logger.Error(err),
		)
	}
	writeJSON(w, status, body)
}
