// Package handler exposes the order, coupon, tax and shipping operations over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
)

// ActorHeader names the caller on whose behalf a request is made. It is set
// by the gateway after authentication.
const ActorHeader = "X-User-ID"

const defaultActor = "system"

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response","code":"INTERNAL_ERROR"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode})
}

// respondWithDomainError renders err by its kind. Errors without a kind are
// infrastructure failures and are not echoed back to the client.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := mapErrorToStatusCode(err)
	if status == http.StatusInternalServerError {
		log.Error().Ctx(r.Context()).Err(err).Str("path", r.URL.Path).Msgf("Failed to %s", action)
		respondWithError(w, status, apperr.Code(err), "failed to "+action)
		return
	}
	log.Warn().Ctx(r.Context()).Err(err).Str("path", r.URL.Path).Msgf("Rejected request to %s", action)
	respondWithError(w, status, apperr.Code(err), err.Error())
}

func mapErrorToStatusCode(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrOrderCancellation, apperr.ErrInsufficientStock, apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrInvalidCoupon:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs the struct's validate
// tags. It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Ctx(r.Context()).Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "INVALID_PAYLOAD", fmt.Sprintf("invalid request payload: %v", err))
		return false
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation failed",
				Code:    apperr.Code(apperr.ErrValidation),
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		log.Error().Ctx(r.Context()).Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal validation error")
		return false
	}
	return true
}

// formatValidationErrors keys each failure by its JSON path without the
// top-level struct name, e.g. "items[0].quantity".
func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		details[field] = msg
	}
	return details
}

func actor(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
		return id
	}
	return defaultActor
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// query reads typed query parameters, remembering the first malformed one.
type query struct {
	r   *http.Request
	err error
}

func (q *query) str(name string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(name))
}

func (q *query) integer(name string, fallback int) int {
	raw := q.str(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil && q.err == nil {
		q.err = apperr.Validationf("query parameter %s must be an integer, got %q", name, raw)
	}
	return n
}

func (q *query) amount(name string) int64 {
	raw := q.str(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil && q.err == nil {
		q.err = apperr.Validationf("query parameter %s must be an integer, got %q", name, raw)
	}
	return n
}

func (q *query) uuid(name string) *uuid.UUID {
	raw := q.str(name)
	if raw == "" {
		return nil
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		if q.err == nil {
			q.err = apperr.Validationf("query parameter %s must be a UUID, got %q", name, raw)
		}
		return nil
	}
	return &id
}

// time accepts RFC 3339 timestamps or plain dates.
func (q *query) time(name string) *time.Time {
	raw := q.str(name)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	if q.err == nil {
		q.err = apperr.Validationf("query parameter %s must be RFC 3339 or YYYY-MM-DD, got %q", name, raw)
	}
	return nil
}
